package vehicle

import (
	"context"
	"slices"
	"time"

	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
)

// Tick advances the vehicle by at most one hop or one stop.
func (c *Controller) Tick(ctx context.Context) {
	if c.state == model.StateBroken && c.alert != nil {
		c.raiseAlert(ctx)
	}
	if !c.state.InService() {
		return
	}
	if len(c.waypoints) == 0 && len(c.spec.Route) > 0 {
		c.patrolIdx = (c.patrolIdx + 1) % len(c.spec.Route)
		if next := c.spec.Route[c.patrolIdx]; next != c.location {
			c.waypoints = append(c.waypoints, next)
		}
	}
	if len(c.waypoints) == 0 {
		if c.state == model.StateMoving {
			c.state = model.StateIdle
			c.status(ctx)
		}
		return
	}
	c.step(ctx)
}

func (c *Controller) step(ctx context.Context) {
	target := c.waypoints[0]
	if c.location == target {
		c.waypoints = c.waypoints[1:]
		c.arrive(ctx, target)
		return
	}
	p, ok := c.net.ShortestPath(c.location, target, c.spec.Class)
	if !ok || len(p) < 2 {
		c.deps.Log.Warnf("%s: no path from %s to %s, dropping waypoint", c.spec.ID, c.location, target)
		c.waypoints = c.waypoints[1:]
		return
	}
	next := p[1]
	e, _ := c.net.Edge(c.location, next)

	var cost float64
	if c.spec.Class.TracksFuel() {
		cost = e.Distance * c.cfg.FuelConsumption
		if c.fuel < cost {
			c.breakdown(ctx, model.IssueNoFuel)
			return
		}
	}

	c.state = model.StateMoving
	c.status(ctx)
	if err := c.deps.Clock.Sleep(ctx, time.Duration(e.TimeCost*float64(c.cfg.TravelTimeUnit))); err != nil {
		return
	}
	c.location = next
	if c.spec.Class.TracksFuel() {
		c.fuel -= cost
	}
	if c.deps.Rand.Float64() < c.cfg.BreakdownProbability {
		c.breakdown(ctx, model.IssueEngineFail)
		return
	}
	c.status(ctx)
}

func (c *Controller) arrive(ctx context.Context, node string) {
	if c.spec.Class.TracksFuel() && c.isDepot(node) {
		amount := model.FullTank - c.fuel
		req := message.New(c.id, c.deps.RefuelID, message.Request, message.RefuelRequest{AmountNeeded: amount})
		if err := c.deps.Out.Send(ctx, req); err != nil {
			c.deps.Log.Errorf("%s refuel request: %v", c.spec.ID, err)
			c.waypoints = slices.Insert(c.waypoints, 0, node)
			return
		}
		c.state = model.StateRefueling
		c.refuelAt = node
		c.deps.Log.Infof("%s refueling %.1f at %s", c.spec.ID, amount, node)
		c.status(ctx)
		return
	}

	var dropped []string
	kept := c.manifest[:0]
	for _, r := range c.manifest {
		if r.Destination == node {
			dropped = append(dropped, r.PassengerID)
			continue
		}
		kept = append(kept, r)
	}
	c.manifest = kept
	if len(dropped) > 0 {
		c.deps.Log.Infow("dropoff", map[string]any{"vehicle": c.spec.ID, "passengers": dropped, "at": node})
		c.emit(metrics.KindDropoff, node, float64(len(dropped)), "")
	}

	if len(c.manifest) == 0 && c.spec.Class.TracksFuel() && !c.depotQueued() {
		var toDepot float64
		if _, d, ok := c.net.Nearest(node, c.depots, c.spec.Class); ok {
			toDepot = d * c.cfg.FuelConsumption
		}
		if c.fuel < toDepot+c.cfg.ReturnBuffer {
			c.headToDepot()
		}
	}

	c.state = model.StateIdle
	c.status(ctx)
	_ = c.deps.Clock.Sleep(ctx, c.cfg.Dwell)
}

func (c *Controller) breakdown(ctx context.Context, issue model.Issue) {
	c.state = model.StateBroken
	c.deps.Log.Warnw("breakdown", map[string]any{"vehicle": c.spec.ID, "location": c.location, "issue": issue})
	c.status(ctx)
	c.alert = &message.BreakdownAlert{VehicleID: c.spec.ID, Location: c.location, Issue: issue}
	c.raiseAlert(ctx)
	c.emit(metrics.KindBreakdown, c.location, 1, string(issue))
}

// raiseAlert asks the repair pool for help. An alert that cannot be sent
// stays pending and Tick sends it again.
func (c *Controller) raiseAlert(ctx context.Context) {
	if err := c.deps.Out.Send(ctx, message.New(c.id, c.deps.RepairID, message.Request, *c.alert)); err != nil {
		c.deps.Log.Errorf("%s breakdown alert: %v", c.spec.ID, err)
		return
	}
	c.alert = nil
}

func (c *Controller) repaired(ctx context.Context, done message.RepairDone) {
	if c.state != model.StateBroken {
		c.deps.Log.Warnf("%s: repair reply while %s", c.spec.ID, c.state)
		return
	}
	if done.Refueled && c.spec.Class.TracksFuel() {
		c.fuel = model.FullTank
	}
	c.alert = nil
	c.state = model.StateIdle
	c.deps.Log.Infof("%s repaired at %s", c.spec.ID, c.location)
	c.status(ctx)
}

func (c *Controller) refueled(ctx context.Context, done message.RefuelDone) {
	if c.state != model.StateRefueling {
		c.deps.Log.Warnf("%s: refuel reply while %s", c.spec.ID, c.state)
		return
	}
	c.fuel = model.FullTank
	if c.refuelAt != "" {
		c.location = c.refuelAt
	}
	c.refuelAt = ""
	c.state = model.StateIdle
	c.deps.Log.Infof("%s refueled at %s", c.spec.ID, c.location)
	c.status(ctx)
}
