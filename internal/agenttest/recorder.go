// Package agenttest holds helpers shared by agent tests.
package agenttest

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/transitsim/core/message"
)

// Recorder is a transport.Sender that keeps every envelope it is given.
type Recorder struct {
	mu   sync.Mutex
	sent []message.Envelope
	// Err, when set, is returned from Send after recording.
	Err error
}

// Send records env.
func (r *Recorder) Send(_ context.Context, env message.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return r.Err
}

// Sent returns a copy of all recorded envelopes.
func (r *Recorder) Sent() []message.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Envelope(nil), r.sent...)
}

// To returns envelopes addressed to recipient.
func (r *Recorder) To(recipient string) []message.Envelope {
	var out []message.Envelope
	for _, e := range r.Sent() {
		if e.Recipient == recipient {
			out = append(out, e)
		}
	}
	return out
}

// Of returns envelopes whose payload has the given kind.
func (r *Recorder) Of(kind message.Kind) []message.Envelope {
	var out []message.Envelope
	for _, e := range r.Sent() {
		if e.Payload != nil && e.Payload.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// WaitFor polls until at least n envelopes were recorded or timeout elapses.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.sent)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
