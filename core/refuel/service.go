// Package refuel implements the single-pump depot. Its receive loop is the
// only serialization point: a request is read only after the previous one
// has been slept on and answered.
package refuel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/transport"
)

var refuelsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "transit_refuels_total",
	Help: "Completed refuels",
})

func init() {
	prometheus.MustRegister(refuelsTotal)
}

// Config tunes the pump.
type Config struct {
	Duration time.Duration `json:"duration"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Duration == 0 {
		c.Duration = 3 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Duration < 0 {
		return fmt.Errorf("refuel.duration must not be negative")
	}
	return nil
}

// Ticket is one refuel request in service.
type Ticket struct {
	VehicleID string
	Amount    float64
	ReplyTo   string
}

// Service answers refuel requests one at a time.
type Service struct {
	id   string
	cfg  Config
	out  transport.Sender
	clk  clock.Clock
	sink metrics.Sink
	log  logger.Logger
}

// NewService builds a refuel service.
func NewService(cfg Config, out transport.Sender, clk clock.Clock, sink metrics.Sink, log logger.Logger) (*Service, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("refuel service requires sender, clock and logger")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Service{id: model.RefuelID, cfg: cfg, out: out, clk: clk, sink: sink, log: log}, nil
}

// Run serves requests from in until ctx is done or the inbox is closed.
func (s *Service) Run(ctx context.Context, in transport.Inbox) error {
	s.id = in.ID()
	for {
		env, ok, err := transport.Receive(ctx, in, s.clk, 0)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			return nil
		}
		if !ok {
			continue
		}
		req, isRefuel := env.Payload.(message.RefuelRequest)
		if !isRefuel {
			s.log.Warnf("ignoring %s", env)
			continue
		}
		t := Ticket{VehicleID: env.Sender, Amount: req.AmountNeeded, ReplyTo: env.Sender}
		if err := s.Serve(ctx, t); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Errorf("refuel %s: %v", t.VehicleID, err)
		}
	}
}

// Serve sleeps the refuel duration and replies with a full tank.
func (s *Service) Serve(ctx context.Context, t Ticket) error {
	s.log.Infof("refuelling %s (%.1f requested)", t.VehicleID, t.Amount)
	if err := s.clk.Sleep(ctx, s.cfg.Duration); err != nil {
		return err
	}
	done := message.New(s.id, t.ReplyTo, message.Inform, message.RefuelDone{Status: message.StatusRefueled, FuelLevel: model.FullTank})
	if err := s.out.Send(ctx, done); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	refuelsTotal.Inc()
	metrics.Emit(s.sink, s.log, metrics.Event{Kind: metrics.KindRefueled, Source: s.id, Target: t.VehicleID, Value: t.Amount, Time: s.clk.Now()})
	return nil
}
