// Package traffic carries congestion updates to the fleet. Each vehicle
// applies them to its own copy of the road network, so delivery is
// at-least-once per vehicle with no ordering across vehicles.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/transport"
)

// SenderID is the agent id traffic updates are sent from.
const SenderID = "traffic"

// Channel fans traffic updates out to every known vehicle.
type Channel struct {
	out transport.Sender
	log logger.Logger

	mu       sync.RWMutex
	vehicles []string
}

// NewChannel returns a channel addressing the given vehicle inbox ids.
func NewChannel(vehicles []string, out transport.Sender, log logger.Logger) *Channel {
	return &Channel{out: out, log: log, vehicles: append([]string(nil), vehicles...)}
}

// SetVehicles replaces the recipient list.
func (c *Channel) SetVehicles(ids []string) {
	c.mu.Lock()
	c.vehicles = append([]string(nil), ids...)
	c.mu.Unlock()
}

// Broadcast sends one update for the edge from→to to every vehicle. It
// attempts every recipient and returns the joined failures.
func (c *Channel) Broadcast(ctx context.Context, from, to string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("traffic %s->%s: negative weight %v", from, to, weight)
	}
	c.mu.RLock()
	ids := append([]string(nil), c.vehicles...)
	c.mu.RUnlock()

	up := message.TrafficUpdate{Edge: [2]string{from, to}, NewWeight: weight}
	var errs []error
	for _, id := range ids {
		if err := c.out.Send(ctx, message.New(SenderID, id, message.Inform, up)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	c.log.Debugw("traffic update", map[string]any{"from": from, "to": to, "weight": weight, "vehicles": len(ids)})
	return errors.Join(errs...)
}
