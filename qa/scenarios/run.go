package scenarios

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/transitsim/app"
	"github.com/kilianp07/transitsim/config"
	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	coremetrics "github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/negotiation"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/infra/logger"
)

// Outcome of one passenger.
const (
	OutcomeFound   = "found"
	OutcomeRefused = "refused"
	OutcomeNoReply = "no_reply"
)

// Result summarises a run.
type Result struct {
	Found   int
	Refused int
	NoReply int
	// Passengers maps each passenger to its outcome.
	Passengers map[string]string
	// Metrics counts metric records by kind.
	Metrics map[coremetrics.Kind]int
	// Sessions counts finished negotiations by final state.
	Sessions map[negotiation.State]int
}

// Check compares r with the scenario's expectations.
func (r *Result) Check(exp Expected) error {
	if r.Found != exp.Found || r.Refused != exp.Refused || r.NoReply != exp.NoReply {
		return fmt.Errorf("expected found=%d refused=%d no_reply=%d, got found=%d refused=%d no_reply=%d",
			exp.Found, exp.Refused, exp.NoReply, r.Found, r.Refused, r.NoReply)
	}
	return nil
}

type countingSink struct {
	mu     sync.Mutex
	counts map[coremetrics.Kind]int
}

func (c *countingSink) Record(ev coremetrics.Event) error {
	c.mu.Lock()
	c.counts[ev.Kind]++
	c.mu.Unlock()
	return nil
}

func (c *countingSink) RecordVehicleStatus(coremetrics.VehicleStatus) error { return nil }

func (c *countingSink) snapshot() map[coremetrics.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[coremetrics.Kind]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Config derives a simulation config from the scenario. Faults and random
// traffic are off so runs are repeatable.
func (s *Scenario) Config() *config.Config {
	cfg := config.Default()
	cfg.Clock.Speedup = s.Speedup
	cfg.Vehicle.BreakdownProbability = 0
	cfg.Traffic.Enabled = false
	if s.Window > 0 {
		cfg.Negotiation.Window = s.Window
	}
	if len(s.Fleet) > 0 {
		cfg.Fleet = cfg.Fleet[:0]
		for _, v := range s.Fleet {
			cfg.Fleet = append(cfg.Fleet, v.ToModel())
		}
	}
	return cfg
}

// Run plays the scenario on an in-process simulation and waits for every
// passenger to hear back or time out.
func Run(ctx context.Context, sc *Scenario, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	cfg := sc.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sink := &countingSink{counts: make(map[coremetrics.Kind]int)}
	clk := clock.NewScaled(sc.Speedup)

	simCtx, stop := context.WithCancel(ctx)
	defer stop()
	svc, err := app.New(simCtx, cfg, app.WithClock(clk), app.WithSink(sink), app.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	sessions := make(map[negotiation.State]int)
	outcomes := svc.Outcomes(256)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range outcomes {
			sessions[o.State]++
		}
	}()

	inboxes := make(map[string]transport.Inbox, len(sc.Requests))
	for _, r := range sc.Requests {
		in, err := svc.Register(passengerID(r.Passenger))
		if err != nil {
			return nil, err
		}
		inboxes[r.Passenger] = in
	}

	simDone := make(chan error, 1)
	go func() { simDone <- svc.Run(simCtx) }()

	res := &Result{Passengers: make(map[string]string)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(simCtx)
	for _, tr := range sc.Traffic {
		g.Go(func() error {
			if err := clk.Sleep(gctx, tr.At); err != nil {
				return nil
			}
			return svc.Traffic().Broadcast(gctx, tr.From, tr.To, tr.Weight)
		})
	}
	for _, r := range sc.Requests {
		in := inboxes[r.Passenger]
		g.Go(func() error {
			outcome, err := ride(gctx, svc.Sender(), clk, in, r, sc.Timeout)
			if err != nil {
				return err
			}
			log.Infof("passenger %s: %s", r.Passenger, outcome)
			mu.Lock()
			res.Passengers[r.Passenger] = outcome
			switch outcome {
			case OutcomeFound:
				res.Found++
			case OutcomeRefused:
				res.Refused++
			default:
				res.NoReply++
			}
			mu.Unlock()
			return nil
		})
	}
	runErr := g.Wait()
	stop()
	if err := <-simDone; err != nil && runErr == nil {
		runErr = err
	}
	_ = svc.Close()
	<-collected
	res.Metrics = sink.snapshot()
	res.Sessions = sessions
	return res, runErr
}

func passengerID(name string) string { return "passenger/" + name }

func ride(ctx context.Context, out transport.Sender, clk clock.Clock, in transport.Inbox, r RequestDef, timeout time.Duration) (string, error) {
	if err := clk.Sleep(ctx, r.At); err != nil {
		return OutcomeNoReply, nil
	}
	from, to := passengerID(r.Passenger), model.StationAgentID(r.Station)
	req := message.New(from, to, message.Request, message.TravelRequest{Destination: r.Destination})
	if err := out.Send(ctx, req); err != nil {
		return "", fmt.Errorf("passenger %s: %w", r.Passenger, err)
	}
	if r.CancelAfter > 0 {
		if err := clk.Sleep(ctx, r.CancelAfter); err != nil {
			return OutcomeNoReply, nil
		}
		if err := out.Send(ctx, message.New(from, to, message.Cancel, message.CancelRequest{})); err != nil {
			return "", fmt.Errorf("passenger %s cancel: %w", r.Passenger, err)
		}
	}
	env, ok, err := transport.Receive(ctx, in, clk, timeout)
	if err != nil || !ok {
		return OutcomeNoReply, nil
	}
	switch env.Payload.(type) {
	case message.VehicleFound:
		return OutcomeFound, nil
	case message.Refusal:
		return OutcomeRefused, nil
	}
	return OutcomeNoReply, nil
}
