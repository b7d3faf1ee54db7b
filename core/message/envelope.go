// Package message defines the envelope exchanged between agents and the
// closed set of payload variants it may carry.
package message

import "fmt"

// Performative is the communicative act of an envelope.
type Performative string

const (
	CFP            Performative = "cfp"
	Propose        Performative = "propose"
	AcceptProposal Performative = "accept-proposal"
	RejectProposal Performative = "reject-proposal"
	Inform         Performative = "inform"
	Request        Performative = "request"
	Refuse         Performative = "refuse"
	Failure        Performative = "failure"
	Cancel         Performative = "cancel"
)

const (
	// Ontology tags every envelope on the wire.
	Ontology = "transport-network-v1"
	// Language of the body.
	Language = "json"
)

// Envelope is one message between two agents.
type Envelope struct {
	Sender         string
	Recipient      string
	Performative   Performative
	ConversationID string
	Payload        Payload
}

// New builds an envelope addressed from sender to recipient.
func New(sender, recipient string, perf Performative, p Payload) Envelope {
	return Envelope{Sender: sender, Recipient: recipient, Performative: perf, Payload: p}
}

// WithConversation sets the correlation id.
func (e Envelope) WithConversation(id string) Envelope {
	e.ConversationID = id
	return e
}

// Reply addresses a response to the sender, keeping the correlation id.
func (e Envelope) Reply(perf Performative, p Payload) Envelope {
	return Envelope{
		Sender:         e.Recipient,
		Recipient:      e.Sender,
		Performative:   perf,
		ConversationID: e.ConversationID,
		Payload:        p,
	}
}

// Validate checks the performative is one the payload kind may travel under.
func (e Envelope) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if e.Recipient == "" {
		return fmt.Errorf("%w: missing recipient", ErrMalformed)
	}
	allowed := performatives[e.Payload.Kind()]
	for _, p := range allowed {
		if p == e.Performative {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot carry %s", ErrMalformed, e.Performative, e.Payload.Kind())
}

func (e Envelope) String() string {
	kind := Kind("")
	if e.Payload != nil {
		kind = e.Payload.Kind()
	}
	return fmt.Sprintf("%s->%s %s/%s", e.Sender, e.Recipient, e.Performative, kind)
}
