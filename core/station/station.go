// Package station implements the station agent. A station queues the
// passengers waiting at its node, opens one negotiation per request and
// advertises crowding to the fleet.
package station

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/logger"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/metrics"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/negotiation"
	"github.com/kilianp07/transitsim/core/transport"
)

var surgesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "transit_demand_surges_total",
	Help: "Demand surge broadcasts by station",
}, []string{"station"})

func init() {
	prometheus.MustRegister(surgesTotal)
}

// Config tunes station behaviour.
type Config struct {
	// IDs lists the nodes that run a station. Empty means every sample station.
	IDs            []string      `json:"ids"`
	SurgeInterval  time.Duration `json:"surge_interval"`
	SurgeThreshold int           `json:"surge_threshold"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.SurgeInterval == 0 {
		c.SurgeInterval = 30 * time.Second
	}
	if c.SurgeThreshold == 0 {
		c.SurgeThreshold = 2
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SurgeInterval <= 0 {
		return fmt.Errorf("station.surge_interval must be positive")
	}
	if c.SurgeThreshold < 0 {
		return fmt.Errorf("station.surge_threshold must not be negative")
	}
	return nil
}

// Deps are the collaborators a station needs.
type Deps struct {
	Out   transport.Sender
	Clock clock.Clock
	Sink  metrics.Sink
	Log   logger.Logger
}

// Station is one station agent.
type Station struct {
	id       string
	node     string
	vehicles []string
	cfg      Config
	negCfg   negotiation.Config
	deps     Deps
	newID    func() string

	mu       sync.Mutex
	queue    []string
	active   map[string]string
	sessions map[string]*negotiation.Session
	wg       sync.WaitGroup

	outcomes chan negotiation.Outcome
}

// New creates the station at node. vehicles are the inbox ids of every
// known vehicle.
func New(node string, vehicles []string, cfg Config, negCfg negotiation.Config, deps Deps) (*Station, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	negCfg.SetDefaults()
	if err := negCfg.Validate(); err != nil {
		return nil, err
	}
	if node == "" {
		return nil, fmt.Errorf("station node required")
	}
	if deps.Out == nil || deps.Clock == nil || deps.Log == nil {
		return nil, fmt.Errorf("station requires sender, clock and logger")
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	return &Station{
		id:       model.StationAgentID(node),
		node:     node,
		vehicles: append([]string(nil), vehicles...),
		cfg:      cfg,
		negCfg:   negCfg,
		deps:     deps,
		newID:    uuid.NewString,
		active:   make(map[string]string),
		sessions: make(map[string]*negotiation.Session),
	}, nil
}

// ID returns the station's inbox id.
func (s *Station) ID() string { return s.id }

// Node returns the station's location.
func (s *Station) Node() string { return s.node }

// Outcomes returns a channel receiving every finished session. It must be
// called before Run and drained by the caller.
func (s *Station) Outcomes() <-chan negotiation.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = make(chan negotiation.Outcome, 64)
	}
	return s.outcomes
}

// Run handles messages and periodic surge broadcasts until ctx is done or
// the inbox closes. Running sessions are awaited before returning.
func (s *Station) Run(ctx context.Context, in transport.Inbox) error {
	defer s.wg.Wait()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		clock.Every(ctx, s.deps.Clock, s.cfg.SurgeInterval, s.BroadcastSurge)
	}()
	for {
		env, ok, err := transport.Receive(ctx, in, s.deps.Clock, 0)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			return nil
		}
		if ok {
			s.Handle(ctx, env)
		}
	}
}

// Handle dispatches one inbound envelope.
func (s *Station) Handle(ctx context.Context, env message.Envelope) {
	switch pl := env.Payload.(type) {
	case message.TravelRequest:
		s.Request(ctx, env.Sender, pl.Destination)
	case message.CancelRequest:
		s.Cancel(env.Sender)
	case message.Bid:
		s.route(ctx, env)
	case message.Refusal:
		if s.route(ctx, env) {
			return
		}
		if pl.Reason == model.ReasonCapacityFullError {
			s.deps.Log.Warnf("award of session %s refused by %s: vehicle filled up", env.ConversationID, env.Sender)
			metrics.Emit(s.deps.Sink, s.deps.Log, metrics.Event{
				Kind:   metrics.KindAwardRefused,
				Source: s.id,
				Target: env.Sender,
				Extra:  env.ConversationID,
				Time:   s.deps.Clock.Now(),
			})
			return
		}
		s.deps.Log.Debugw("late refusal", map[string]any{"from": env.Sender, "reason": pl.Reason, "session": env.ConversationID})
	case message.DemandSurge:
		s.deps.Log.Debugw("surge notice", map[string]any{"station": pl.Station, "count": pl.Count})
	default:
		s.deps.Log.Warnf("ignoring %s", env)
	}
}

// route forwards a reply to its live session. A bid no session takes is
// rejected so the vehicle can forget it.
func (s *Station) route(ctx context.Context, env message.Envelope) bool {
	s.mu.Lock()
	sess := s.sessions[env.ConversationID]
	s.mu.Unlock()
	if sess != nil && sess.Deliver(env) {
		return true
	}
	if _, isBid := env.Payload.(message.Bid); isBid {
		s.deps.Log.Debugw("late bid", map[string]any{"from": env.Sender, "session": env.ConversationID})
		reject := env.Reply(message.RejectProposal, message.Refusal{Reason: model.ReasonRequestExpired})
		if err := s.deps.Out.Send(ctx, reject); err != nil {
			s.deps.Log.Warnf("reject late bid from %s: %v", env.Sender, err)
		}
	}
	return false
}

// Request queues the passenger and opens a negotiation, unless one is
// already running for that passenger.
func (s *Station) Request(ctx context.Context, passenger, destination string) {
	s.mu.Lock()
	if sid, busy := s.active[passenger]; busy {
		s.mu.Unlock()
		s.deps.Log.Infof("passenger %s already negotiating in %s", passenger, sid)
		return
	}
	if !slices.Contains(s.queue, passenger) {
		s.queue = append(s.queue, passenger)
	}
	req := negotiation.Request{
		SessionID:   s.newID(),
		StationID:   s.id,
		PassengerID: passenger,
		Origin:      s.node,
		Destination: destination,
	}
	sess, err := negotiation.NewSession(req, s.vehicles, s.negCfg, negotiation.Deps{
		Out:   s.deps.Out,
		Clock: s.deps.Clock,
		Queue: s,
		Sink:  s.deps.Sink,
		Log:   s.deps.Log,
	})
	if err != nil {
		s.queue = slices.DeleteFunc(s.queue, func(p string) bool { return p == passenger })
		s.mu.Unlock()
		s.deps.Log.Errorf("open session for %s: %v", passenger, err)
		return
	}
	s.active[passenger] = req.SessionID
	s.sessions[req.SessionID] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	s.deps.Log.Infof("passenger %s wants %s->%s (session %s)", passenger, s.node, destination, req.SessionID)
	go func() {
		defer s.wg.Done()
		out := sess.Run(ctx)
		s.mu.Lock()
		delete(s.sessions, req.SessionID)
		delete(s.active, passenger)
		ch := s.outcomes
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- out:
			default:
			}
		}
	}()
}

// Cancel removes the passenger from the queue. Running sessions notice at
// decision time.
func (s *Station) Cancel(passenger string) {
	if s.Dequeue(passenger) {
		s.deps.Log.Infof("passenger %s cancelled", passenger)
	}
}

// Dequeue removes the passenger and reports whether it was queued.
func (s *Station) Dequeue(passenger string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = slices.DeleteFunc(s.queue, func(p string) bool { return p == passenger })
	return len(s.queue) < n
}

// Queue returns the waiting passengers in arrival order.
func (s *Station) Queue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queue...)
}

// BroadcastSurge tells every vehicle about the queue when it exceeds the
// threshold.
func (s *Station) BroadcastSurge(ctx context.Context) {
	count := len(s.Queue())
	if count <= s.cfg.SurgeThreshold {
		return
	}
	surgesTotal.WithLabelValues(s.node).Inc()
	s.deps.Log.Infof("%d passengers waiting, alerting fleet", count)
	for _, v := range s.vehicles {
		env := message.New(s.id, v, message.Inform, message.DemandSurge{Station: s.node, Count: count})
		if err := s.deps.Out.Send(ctx, env); err != nil {
			s.deps.Log.Warnf("surge to %s: %v", v, err)
		}
	}
}
