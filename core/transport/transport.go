// Package transport defines the asynchronous message transport every agent
// talks through. Delivery between one sender and one receiver is FIFO; no
// order holds across different pairs.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
)

var (
	// ErrClosed means the transport is exhausted. It is the only condition
	// that stops an agent loop.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownRecipient is returned when no inbox is registered for the id.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrDuplicateID is returned when an id is registered twice.
	ErrDuplicateID = errors.New("inbox already registered")
)

// Sender delivers envelopes.
type Sender interface {
	Send(ctx context.Context, env message.Envelope) error
}

// Inbox is the receiving end owned by one agent.
type Inbox interface {
	ID() string
	// Messages is closed when the transport shuts down.
	Messages() <-chan message.Envelope
}

// Transport registers inboxes and routes envelopes to them.
type Transport interface {
	Sender
	Register(id string) (Inbox, error)
	Close() error
}

// Receive waits up to timeout of simulated time for the next envelope.
// A timeout yields ok == false with a nil error. A timeout <= 0 waits until
// a message arrives or ctx is done.
func Receive(ctx context.Context, in Inbox, clk clock.Clock, timeout time.Duration) (message.Envelope, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = clk.After(timeout)
	}
	select {
	case <-ctx.Done():
		return message.Envelope{}, false, ctx.Err()
	case env, ok := <-in.Messages():
		if !ok {
			return message.Envelope{}, false, ErrClosed
		}
		return env, true, nil
	case <-expired:
		return message.Envelope{}, false, nil
	}
}
