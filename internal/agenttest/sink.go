package agenttest

import (
	"sync"

	"github.com/kilianp07/transitsim/core/metrics"
)

// Sink is a metrics.Sink that keeps every event.
type Sink struct {
	mu     sync.Mutex
	events []metrics.Event
}

// Record stores ev.
func (s *Sink) Record(ev metrics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns recorded events of the given kind, or all when kind is empty.
func (s *Sink) Events(kind metrics.Kind) []metrics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []metrics.Event
	for _, e := range s.events {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Kinds lists the kinds of all recorded events in order.
func (s *Sink) Kinds() []metrics.Kind {
	var out []metrics.Kind
	for _, e := range s.Events("") {
		out = append(out, e.Kind)
	}
	return out
}
