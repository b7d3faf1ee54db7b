package vehicle

import (
	"context"
	"slices"

	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
)

// evaluate answers a call for proposals with a bid or a refusal. Checks run
// in a fixed order and the first failure wins.
func (c *Controller) evaluate(ctx context.Context, env message.Envelope, req message.RideRequest) {
	tracks := c.spec.Class.TracksFuel()
	if tracks && c.fuel < c.cfg.LowFuelThreshold {
		c.refuse(ctx, env, model.ReasonLowFuel)
		if len(c.manifest) == 0 {
			c.headToDepot()
		}
		return
	}
	if len(c.manifest) >= c.spec.Capacity {
		c.refuse(ctx, env, model.ReasonFullCapacity)
		return
	}
	pickup, ok := c.net.ShortestPath(c.location, req.Origin, c.spec.Class)
	if !ok {
		c.refuse(ctx, env, model.ReasonRouteImpossible)
		return
	}
	trip, ok := c.net.ShortestPath(req.Origin, req.Destination, c.spec.Class)
	if !ok {
		c.refuse(ctx, env, model.ReasonRouteImpossible)
		return
	}

	var need float64
	if tracks {
		need = (c.net.PathDistance(pickup) + c.net.PathDistance(trip)) * c.cfg.FuelConsumption
		reserve := c.cfg.SafetyBuffer
		if _, d, ok := c.net.Nearest(req.Destination, c.depots, c.spec.Class); ok {
			reserve += d * c.cfg.FuelConsumption
		}
		if c.fuel < need+reserve {
			c.refuse(ctx, env, model.ReasonInsufficientFuel)
			return
		}
	}

	if env.ConversationID != "" {
		c.pending[env.ConversationID] = pendingBid{
			origin:      req.Origin,
			destination: req.Destination,
			fuel:        need,
		}
	}
	bid := message.Bid{
		VehicleID: c.spec.ID,
		ETA:       c.net.PathTime(pickup),
		Capacity:  c.spec.Capacity - len(c.manifest),
		Route:     trip,
	}
	if err := c.deps.Out.Send(ctx, env.Reply(message.Propose, bid)); err != nil {
		c.deps.Log.Warnf("propose to %s: %v", env.Sender, err)
		delete(c.pending, env.ConversationID)
		return
	}
	c.deps.Log.Debugw("bid", map[string]any{"session": env.ConversationID, "eta": bid.ETA, "origin": req.Origin, "destination": req.Destination})
}

func (c *Controller) refuse(ctx context.Context, env message.Envelope, reason string) {
	if err := c.deps.Out.Send(ctx, env.Reply(message.Refuse, message.Refusal{Reason: reason})); err != nil {
		c.deps.Log.Warnf("refuse to %s: %v", env.Sender, err)
		return
	}
	c.deps.Log.Debugf("refused %s: %s", env.ConversationID, reason)
}

// commit books an awarded trip. Capacity is checked again because another
// session may have filled the vehicle since the bid went out.
func (c *Controller) commit(ctx context.Context, env message.Envelope, award message.Award) {
	bid, ok := c.pending[env.ConversationID]
	if !ok {
		c.deps.Log.Warnf("award for unknown session %s", env.ConversationID)
		return
	}
	delete(c.pending, env.ConversationID)
	if len(c.manifest) >= c.spec.Capacity {
		c.refuse(ctx, env, model.ReasonCapacityFullError)
		return
	}

	c.manifest = append(c.manifest, model.Rider{PassengerID: award.PassengerID, Destination: bid.destination})
	if c.location != bid.origin && (len(c.waypoints) == 0 || c.waypoints[len(c.waypoints)-1] != bid.origin) {
		c.waypoints = slices.Insert(c.waypoints, 0, bid.origin)
	}
	if !slices.Contains(c.waypoints, bid.destination) {
		c.waypoints = append(c.waypoints, bid.destination)
	}
	c.deps.Log.Infow("trip committed", map[string]any{
		"vehicle":     c.spec.ID,
		"passenger":   award.PassengerID,
		"origin":      bid.origin,
		"destination": bid.destination,
		"load":        len(c.manifest),
	})
	c.status(ctx)
}

// headToDepot queues the nearest reachable depot unless one is already queued
// or the vehicle is refueling.
func (c *Controller) headToDepot() {
	if c.state == model.StateRefueling || c.depotQueued() {
		return
	}
	p, _, ok := c.net.Nearest(c.location, c.depots, c.spec.Class)
	if !ok {
		c.deps.Log.Warnf("%s: no reachable depot from %s", c.spec.ID, c.location)
		return
	}
	depot := p[len(p)-1]
	c.waypoints = append(c.waypoints, depot)
	c.deps.Log.Infof("%s heading to depot %s", c.spec.ID, depot)
}

func (c *Controller) divert(s message.DemandSurge) {
	switch {
	case !c.state.InService(),
		len(c.manifest) >= c.spec.Capacity,
		s.Station == c.location,
		slices.Contains(c.waypoints, s.Station):
		return
	}
	if !c.net.Has(s.Station) {
		return
	}
	c.waypoints = slices.Insert(c.waypoints, 0, s.Station)
	c.deps.Log.Infof("%s diverting to %s (%d waiting)", c.spec.ID, s.Station, s.Count)
}

func (c *Controller) emit(kind metrics.Kind, target string, value float64, extra string) {
	metrics.Emit(c.deps.Sink, c.deps.Log, metrics.Event{
		Kind:   kind,
		Source: c.spec.ID,
		Target: target,
		Value:  value,
		Extra:  extra,
		Time:   c.deps.Clock.Now(),
	})
}
