// Package vehicle implements the per-vehicle state machine: it decides
// whether to bid on ride requests, commits awarded trips, steps through the
// road graph, burns fuel and breaks down.
//
// A Controller is owned by one goroutine. Message handling and stepping are
// strictly sequential, so nothing inside needs a lock.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/roadnet"
	"github.com/kilianp07/transitsim/core/transport"
)

// Deps are the collaborators of a controller.
type Deps struct {
	Out   transport.Sender
	Clock clock.Clock
	Sink  metrics.Sink
	Log   logger.Logger
	Rand  *rand.Rand

	RepairID    string
	RefuelID    string
	DashboardID string
}

type pendingBid struct {
	origin      string
	destination string
	fuel        float64
}

// Controller drives one vehicle.
type Controller struct {
	spec   model.VehicleSpec
	id     string
	cfg    Config
	net    *roadnet.Network
	depots []string
	deps   Deps

	location  string
	fuel      float64
	state     model.State
	manifest  []model.Rider
	waypoints []string
	pending   map[string]pendingBid
	patrolIdx int
	refuelAt  string
	alert     *message.BreakdownAlert
}

// New builds a controller. The network is cloned so the vehicle owns its
// view of traffic.
func New(spec model.VehicleSpec, net *roadnet.Network, depots []string, cfg Config, deps Deps) (*Controller, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net == nil {
		return nil, fmt.Errorf("vehicle %s: road network required", spec.ID)
	}
	if !net.Has(spec.Start) {
		return nil, fmt.Errorf("vehicle %s: %w: %s", spec.ID, roadnet.ErrUnknownNode, spec.Start)
	}
	for _, stop := range spec.Route {
		if !net.Has(stop) {
			return nil, fmt.Errorf("vehicle %s route: %w: %s", spec.ID, roadnet.ErrUnknownNode, stop)
		}
	}
	if deps.Out == nil || deps.Clock == nil || deps.Log == nil {
		return nil, fmt.Errorf("vehicle %s requires sender, clock and logger", spec.ID)
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(cfg.Seed))
	}
	if deps.RepairID == "" {
		deps.RepairID = model.RepairPoolID
	}
	if deps.RefuelID == "" {
		deps.RefuelID = model.RefuelID
	}
	fuel := spec.Fuel
	if fuel == 0 {
		fuel = model.FullTank
	}
	return &Controller{
		spec:      spec,
		id:        model.VehicleAgentID(spec.ID),
		cfg:       cfg,
		net:       net.Clone(),
		depots:    append([]string(nil), depots...),
		deps:      deps,
		location:  spec.Start,
		fuel:      fuel,
		state:     model.StateIdle,
		pending:   make(map[string]pendingBid),
		patrolIdx: slices.Index(spec.Route, spec.Start),
	}, nil
}

// ID returns the vehicle's inbox id.
func (c *Controller) ID() string { return c.id }

// Run alternates between waiting one tick for a message and stepping,
// until ctx is done or the inbox closes.
func (c *Controller) Run(ctx context.Context, in transport.Inbox) error {
	c.status(ctx)
	for {
		env, ok, err := transport.Receive(ctx, in, c.deps.Clock, c.cfg.Tick)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			return nil
		}
		if ok {
			c.Handle(ctx, env)
		}
		c.Tick(ctx)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Handle processes one envelope.
func (c *Controller) Handle(ctx context.Context, env message.Envelope) {
	switch pl := env.Payload.(type) {
	case message.RideRequest:
		if c.state == model.StateBroken {
			c.deps.Log.Debugf("broken, ignoring cfp %s", env.ConversationID)
			return
		}
		c.evaluate(ctx, env, pl)
	case message.Award:
		c.commit(ctx, env, pl)
	case message.Refusal:
		if env.Performative == message.RejectProposal {
			delete(c.pending, env.ConversationID)
		}
	case message.TrafficUpdate:
		c.applyTraffic(pl)
	case message.RepairDone:
		c.repaired(ctx, pl)
	case message.RefuelDone:
		c.refueled(ctx, pl)
	case message.DemandSurge:
		c.divert(pl)
	default:
		c.deps.Log.Warnf("ignoring %s", env)
	}
}

func (c *Controller) applyTraffic(up message.TrafficUpdate) {
	if err := c.net.UpdateTimeCost(up.Edge[0], up.Edge[1], up.NewWeight); err != nil {
		c.deps.Log.Debugf("traffic update skipped: %v", err)
		return
	}
	c.deps.Log.Debugw("traffic", map[string]any{"from": up.Edge[0], "to": up.Edge[1], "time_cost": up.NewWeight})
}

// Snapshot is a copy of the controller's observable state.
type Snapshot struct {
	Location  string
	Fuel      float64
	State     model.State
	Manifest  []model.Rider
	Waypoints []string
	Pending   int
}

// Snapshot returns the current state. It must not be called concurrently
// with Run.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Location:  c.location,
		Fuel:      c.fuel,
		State:     c.state,
		Manifest:  append([]model.Rider(nil), c.manifest...),
		Waypoints: append([]string(nil), c.waypoints...),
		Pending:   len(c.pending),
	}
}

func (c *Controller) status(ctx context.Context) {
	if c.deps.DashboardID == "" {
		return
	}
	up := message.StatusUpdate{
		VehicleID: c.spec.ID,
		Location:  c.location,
		Status:    c.state,
		Load:      len(c.manifest),
		Fuel:      c.fuel,
	}
	if err := c.deps.Out.Send(ctx, message.New(c.id, c.deps.DashboardID, message.Inform, up)); err != nil {
		c.deps.Log.Debugf("status update: %v", err)
	}
}

func (c *Controller) isDepot(node string) bool { return slices.Contains(c.depots, node) }

func (c *Controller) depotQueued() bool {
	return slices.ContainsFunc(c.waypoints, c.isDepot)
}
