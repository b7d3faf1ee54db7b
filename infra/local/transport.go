// Package local provides an in-process transport backed by keyed mailboxes.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/internal/eventbus"
)

// Transport delivers envelopes between agents of the same process.
type Transport struct {
	boxes *eventbus.Mailboxes[message.Envelope]
	log   logger.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates an empty local transport.
func New(log logger.Logger) *Transport {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Transport{boxes: eventbus.NewMailboxes[message.Envelope](), log: log}
}

type inbox struct {
	id string
	ch <-chan message.Envelope
}

func (i inbox) ID() string                        { return i.id }
func (i inbox) Messages() <-chan message.Envelope { return i.ch }

// Register opens the inbox for id.
func (t *Transport) Register(id string) (transport.Inbox, error) {
	ch, err := t.boxes.Open(id)
	if err != nil {
		return nil, mapErr(id, err)
	}
	return inbox{id: id, ch: ch}, nil
}

// Send validates env and appends it to the recipient's inbox.
func (t *Transport) Send(ctx context.Context, env message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if err := t.boxes.Deliver(env.Recipient, env); err != nil {
		return mapErr(env.Recipient, err)
	}
	t.log.Debugw("deliver", map[string]any{"msg": env.String(), "conversation": env.ConversationID})
	return nil
}

// Registered lists open inbox ids.
func (t *Transport) Registered() []string { return t.boxes.IDs() }

// Close closes every inbox.
func (t *Transport) Close() error {
	t.boxes.Close()
	return nil
}

func mapErr(id string, err error) error {
	switch {
	case errors.Is(err, eventbus.ErrBusClosed):
		return transport.ErrClosed
	case errors.Is(err, eventbus.ErrNoMailbox):
		return fmt.Errorf("%w: %s", transport.ErrUnknownRecipient, id)
	case errors.Is(err, eventbus.ErrMailboxExists):
		return fmt.Errorf("%w: %s", transport.ErrDuplicateID, id)
	default:
		return err
	}
}
