// Package negotiation runs one call-for-proposals cycle: broadcast the ride
// request, collect bids for a fixed window, award the lowest ETA and reject
// the rest.
package negotiation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/transport"
)

// State of a session. Awarded and Failed are terminal.
type State string

const (
	Collecting State = "collecting"
	Deciding   State = "deciding"
	Awarded    State = "awarded"
	Failed     State = "failed"
)

// Config tunes the collection window.
type Config struct {
	Window time.Duration `json:"window"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Window == 0 {
		c.Window = 10 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("negotiation.window must be positive")
	}
	return nil
}

// Queue is the station-side passenger queue a session settles against.
type Queue interface {
	// Dequeue removes the passenger and reports whether it was still queued.
	Dequeue(passengerID string) bool
}

// Request identifies the trip being negotiated.
type Request struct {
	SessionID   string
	StationID   string
	PassengerID string
	Origin      string
	Destination string
}

// Deps are the collaborators a session needs.
type Deps struct {
	Out   transport.Sender
	Clock clock.Clock
	Queue Queue
	Sink  metrics.Sink
	Log   logger.Logger
}

// Outcome summarises a finished session.
type Outcome struct {
	SessionID string
	State     State
	Winner    string
	ETA       float64
	Bids      int
	Refusals  int
	// Cancelled is set when the passenger left the queue before the decision.
	Cancelled bool
}

type received struct {
	from string
	bid  message.Bid
}

// Session is one negotiation. It is used once and discarded.
type Session struct {
	req      Request
	vehicles []string
	cfg      Config
	deps     Deps

	replies chan message.Envelope

	mu       sync.Mutex
	state    State
	bids     []received
	refusals int
}

// NewSession prepares a session against the given vehicle inboxes.
func NewSession(req Request, vehicles []string, cfg Config, deps Deps) (*Session, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if req.SessionID == "" || req.PassengerID == "" || req.StationID == "" {
		return nil, fmt.Errorf("session, passenger and station ids are required")
	}
	if deps.Out == nil || deps.Clock == nil || deps.Queue == nil || deps.Log == nil {
		return nil, fmt.Errorf("session requires sender, clock, queue and logger")
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	return &Session{
		req:      req,
		vehicles: append([]string(nil), vehicles...),
		cfg:      cfg,
		deps:     deps,
		replies:  make(chan message.Envelope, 2*len(vehicles)+4),
		state:    Collecting,
	}, nil
}

// ID returns the correlation id.
func (s *Session) ID() string { return s.req.SessionID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deliver hands a reply to the session. It never blocks and returns false
// once the window has closed. A reply it accepts is always seen by the
// decision.
func (s *Session) Deliver(env message.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Collecting {
		return false
	}
	select {
	case s.replies <- env:
		return true
	default:
		s.deps.Log.Warnf("session %s reply buffer full, dropping %s", s.req.SessionID, env)
		return false
	}
}

// Run broadcasts the call for proposals, collects replies until the window
// closes and settles the outcome.
func (s *Session) Run(ctx context.Context) Outcome {
	ctx, span := otel.Tracer("transitsim/negotiation").Start(ctx, "negotiation.session")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", s.req.SessionID),
		attribute.String("passenger", s.req.PassengerID),
		attribute.String("origin", s.req.Origin),
		attribute.String("destination", s.req.Destination),
	)
	started := time.Now()

	s.broadcast(ctx)
	s.collect(ctx)

	s.mu.Lock()
	s.state = Deciding
	s.mu.Unlock()

	var out Outcome
	if ctx.Err() != nil {
		out = s.finish(Failed, "", 0)
	} else if len(s.bids) == 0 {
		out = s.fail(ctx)
	} else {
		out = s.award(ctx)
	}

	sessionsTotal.WithLabelValues(string(out.State)).Inc()
	bidsPerSession.Observe(float64(out.Bids))
	sessionDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.String("outcome", string(out.State)), attribute.Int("bids", out.Bids))
	return out
}

func (s *Session) broadcast(ctx context.Context) {
	cfp := message.RideRequest{Origin: s.req.Origin, Destination: s.req.Destination, PassengerCount: 1}
	for _, v := range s.vehicles {
		env := message.New(s.req.StationID, v, message.CFP, cfp).WithConversation(s.req.SessionID)
		if err := s.deps.Out.Send(ctx, env); err != nil {
			s.deps.Log.Warnf("cfp to %s: %v", v, err)
		}
	}
	s.deps.Log.Infof("session %s: cfp %s->%s sent to %d vehicles", s.req.SessionID, s.req.Origin, s.req.Destination, len(s.vehicles))
}

func (s *Session) collect(ctx context.Context) {
	deadline := s.deps.Clock.After(s.cfg.Window)
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			s.drain(seen)
			return
		case env := <-s.replies:
			s.accept(env, seen)
		}
	}
}

// drain takes replies that were already buffered when the window closed.
func (s *Session) drain(seen map[string]bool) {
	s.mu.Lock()
	s.state = Deciding
	s.mu.Unlock()
	for {
		select {
		case env := <-s.replies:
			s.accept(env, seen)
		default:
			return
		}
	}
}

func (s *Session) accept(env message.Envelope, seen map[string]bool) {
	if env.ConversationID != s.req.SessionID {
		return
	}
	switch pl := env.Payload.(type) {
	case message.Bid:
		if env.Performative != message.Propose || seen[env.Sender] {
			return
		}
		seen[env.Sender] = true
		s.bids = append(s.bids, received{from: env.Sender, bid: pl})
		s.deps.Log.Debugw("bid", map[string]any{"session": s.req.SessionID, "vehicle": pl.VehicleID, "eta": pl.ETA})
	case message.Refusal:
		s.refusals++
		s.deps.Log.Debugw("refusal", map[string]any{"session": s.req.SessionID, "from": env.Sender, "reason": pl.Reason})
	}
}

func (s *Session) fail(ctx context.Context) Outcome {
	if s.deps.Queue.Dequeue(s.req.PassengerID) {
		env := message.New(s.req.StationID, s.req.PassengerID, message.Refuse, message.Refusal{Reason: model.ReasonNoVehicles}).
			WithConversation(s.req.SessionID)
		if err := s.deps.Out.Send(ctx, env); err != nil {
			s.deps.Log.Warnf("notify %s: %v", s.req.PassengerID, err)
		}
		s.deps.Log.Infof("session %s: no vehicles for %s", s.req.SessionID, s.req.PassengerID)
	} else {
		s.deps.Log.Infof("session %s: no bids, passenger %s already gone", s.req.SessionID, s.req.PassengerID)
	}
	metrics.Emit(s.deps.Sink, s.deps.Log, metrics.Event{
		Kind:   metrics.KindNegotiationFail,
		Source: s.req.StationID,
		Target: s.req.PassengerID,
		Extra:  fmt.Sprintf("refusals=%d", s.refusals),
		Time:   s.deps.Clock.Now(),
	})
	return s.finish(Failed, "", 0)
}

func (s *Session) award(ctx context.Context) Outcome {
	if !s.deps.Queue.Dequeue(s.req.PassengerID) {
		for _, b := range s.bids {
			s.reject(ctx, b.from, model.ReasonRequestCancelled)
		}
		s.deps.Log.Infof("session %s: passenger %s cancelled, %d bids released", s.req.SessionID, s.req.PassengerID, len(s.bids))
		out := s.finish(Failed, "", 0)
		out.Cancelled = true
		return out
	}

	win := 0
	for i, b := range s.bids[1:] {
		if b.bid.ETA < s.bids[win].bid.ETA {
			win = i + 1
		}
	}
	winner := s.bids[win]

	accept := message.New(s.req.StationID, winner.from, message.AcceptProposal, message.Award{PassengerID: s.req.PassengerID}).
		WithConversation(s.req.SessionID)
	if err := s.deps.Out.Send(ctx, accept); err != nil {
		s.deps.Log.Warnf("award to %s: %v", winner.from, err)
	}
	for i, b := range s.bids {
		if i != win {
			s.reject(ctx, b.from, model.ReasonBetterProposal)
		}
	}
	found := message.New(s.req.StationID, s.req.PassengerID, message.Inform, message.VehicleFound{Status: message.StatusVehicleFound, ETA: winner.bid.ETA}).
		WithConversation(s.req.SessionID)
	if err := s.deps.Out.Send(ctx, found); err != nil {
		s.deps.Log.Warnf("notify %s: %v", s.req.PassengerID, err)
	}

	winningETA.Observe(winner.bid.ETA)
	metrics.Emit(s.deps.Sink, s.deps.Log, metrics.Event{
		Kind:   metrics.KindNegotiationOK,
		Source: s.req.StationID,
		Target: winner.bid.VehicleID,
		Value:  winner.bid.ETA,
		Extra:  fmt.Sprintf("bids=%d refusals=%d", len(s.bids), s.refusals),
		Time:   s.deps.Clock.Now(),
	})
	s.deps.Log.Infof("session %s: %s wins with eta %.1f over %d bids", s.req.SessionID, winner.bid.VehicleID, winner.bid.ETA, len(s.bids))
	return s.finish(Awarded, winner.bid.VehicleID, winner.bid.ETA)
}

func (s *Session) reject(ctx context.Context, to, reason string) {
	env := message.New(s.req.StationID, to, message.RejectProposal, message.Refusal{Reason: reason}).
		WithConversation(s.req.SessionID)
	if err := s.deps.Out.Send(ctx, env); err != nil {
		s.deps.Log.Warnf("reject %s: %v", to, err)
	}
}

func (s *Session) finish(st State, winner string, eta float64) Outcome {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return Outcome{
		SessionID: s.req.SessionID,
		State:     st,
		Winner:    winner,
		ETA:       eta,
		Bids:      len(s.bids),
		Refusals:  s.refusals,
	}
}
