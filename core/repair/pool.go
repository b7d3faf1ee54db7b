// Package repair implements the fleet-wide workshop: a fixed number of
// mechanics serve breakdown reports concurrently, and excess reports wait
// for a free slot.
package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/transport"
)

// Config tunes the workshop.
type Config struct {
	Mechanics int           `json:"mechanics"`
	Duration  time.Duration `json:"duration"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Mechanics == 0 {
		c.Mechanics = 2
	}
	if c.Duration == 0 {
		c.Duration = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Mechanics <= 0 {
		return fmt.Errorf("repair.mechanics must be positive")
	}
	if c.Duration < 0 {
		return fmt.Errorf("repair.duration must not be negative")
	}
	return nil
}

// Job is one breakdown waiting for or under repair.
type Job struct {
	VehicleID string
	Location  string
	Issue     model.Issue
	// ReplyTo is the inbox that receives the completion.
	ReplyTo string
}

// Pool serves jobs with at most Mechanics running at once.
type Pool struct {
	id    string
	cfg   Config
	slots *semaphore.Weighted
	out   transport.Sender
	clk   clock.Clock
	sink  metrics.Sink
	log   logger.Logger

	mu        sync.Mutex
	inService int
	peak      int
	wg        sync.WaitGroup
}

// NewPool validates its collaborators and builds a pool.
func NewPool(cfg Config, out transport.Sender, clk clock.Clock, sink metrics.Sink, log logger.Logger) (*Pool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("repair pool requires a sender")
	}
	if clk == nil {
		return nil, fmt.Errorf("repair pool requires a clock")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		return nil, fmt.Errorf("repair pool requires a logger")
	}
	return &Pool{
		id:    model.RepairPoolID,
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.Mechanics)),
		out:   out,
		clk:   clk,
		sink:  sink,
		log:   log,
	}, nil
}

// Run reads breakdown alerts from in and serves each in its own goroutine.
// It returns nil when ctx is done and transport.ErrClosed when the inbox is
// exhausted. In both cases it waits for running jobs to finish.
func (p *Pool) Run(ctx context.Context, in transport.Inbox) error {
	defer p.wg.Wait()
	p.id = in.ID()
	for {
		env, ok, err := transport.Receive(ctx, in, p.clk, 0)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			return nil
		}
		if !ok {
			continue
		}
		switch pl := env.Payload.(type) {
		case message.BreakdownAlert:
			job := Job{VehicleID: pl.VehicleID, Location: pl.Location, Issue: pl.Issue, ReplyTo: env.Sender}
			p.log.Infof("breakdown of %s at %s (%s) queued", job.VehicleID, job.Location, job.Issue)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				if err := p.Serve(ctx, job); err != nil && ctx.Err() == nil {
					p.log.Errorf("repair %s: %v", job.VehicleID, err)
				}
			}()
		default:
			p.log.Warnf("ignoring %s", env)
		}
	}
}

// Serve blocks until a slot is free, holds it for the repair duration and
// reports completion to job.ReplyTo.
func (p *Pool) Serve(ctx context.Context, job Job) error {
	ctx, span := otel.Tracer("transitsim/repair").Start(ctx, "repair.job")
	defer span.End()
	span.SetAttributes(attribute.String("vehicle", job.VehicleID), attribute.String("issue", string(job.Issue)))

	queued := time.Now()
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	repairWait.Observe(time.Since(queued).Seconds())
	p.enter()
	defer func() {
		p.leave()
		p.slots.Release(1)
	}()

	if err := p.clk.Sleep(ctx, p.cfg.Duration); err != nil {
		return err
	}

	refueled := job.Issue == model.IssueNoFuel
	done := message.New(p.id, job.ReplyTo, message.Inform, message.RepairDone{Status: message.StatusRepaired, Refueled: refueled})
	if err := p.out.Send(ctx, done); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	repairsTotal.WithLabelValues(string(job.Issue)).Inc()
	metrics.Emit(p.sink, p.log, metrics.Event{Kind: metrics.KindRepaired, Source: p.id, Target: job.VehicleID, Extra: string(job.Issue), Time: p.clk.Now()})
	p.log.Infof("%s repaired (refueled=%t)", job.VehicleID, refueled)
	return nil
}

func (p *Pool) enter() {
	p.mu.Lock()
	p.inService++
	if p.inService > p.peak {
		p.peak = p.inService
	}
	repairsInService.Set(float64(p.inService))
	p.mu.Unlock()
}

func (p *Pool) leave() {
	p.mu.Lock()
	p.inService--
	repairsInService.Set(float64(p.inService))
	p.mu.Unlock()
}

// InService returns the number of jobs currently holding a slot.
func (p *Pool) InService() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inService
}

// Peak returns the highest number of concurrent jobs observed.
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}
