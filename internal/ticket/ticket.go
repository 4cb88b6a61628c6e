// Package ticket defines the domain types for support-ticket lifecycle
// events and the ticket context fetched from the context store.
package ticket

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Topic identifies the lifecycle event kind.
type Topic string

const (
	TopicCreated  Topic = "ticket.created"
	TopicResolved Topic = "ticket.resolved"
)

// Topics lists every topic the worker subscribes to.
func Topics() []string {
	return []string{string(TopicCreated), string(TopicResolved)}
}

// Event is a broker envelope parsed and validated at the consume boundary.
// It is immutable once parsed; identity for idempotency is (TenantID, EventID).
type Event struct {
	Topic         Topic
	EventID       string
	TenantID      string
	TicketID      string
	CorrelationID string

	// Resolution is set only for TopicResolved events.
	Resolution *Resolution
}

// Resolution carries the payload fields specific to a resolved ticket.
type Resolution struct {
	Notes      string
	VendorName string
}

// envelope is the raw wire shape of a ticket event value.
type envelope struct {
	EventID       string          `json:"eventId"`
	TenantID      string          `json:"tenantId"`
	AggregateID   string          `json:"aggregateId"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

type resolvedPayload struct {
	ResolutionNotes string `json:"resolutionNotes"`
	VendorName      string `json:"vendorName"`
}

// ParseEvent decodes and validates a raw broker message value for the given
// topic. Required fields are checked once here so downstream code can rely
// on a well-formed Event.
func ParseEvent(topic string, value []byte) (*Event, error) {
	var tp Topic
	switch Topic(topic) {
	case TopicCreated, TopicResolved:
		tp = Topic(topic)
	default:
		return nil, fmt.Errorf("unknown topic %q", topic)
	}

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch {
	case env.EventID == "":
		return nil, fmt.Errorf("envelope missing eventId")
	case env.TenantID == "":
		return nil, fmt.Errorf("envelope missing tenantId")
	case env.AggregateID == "":
		return nil, fmt.Errorf("envelope missing aggregateId")
	}

	ev := &Event{
		Topic:         tp,
		EventID:       env.EventID,
		TenantID:      env.TenantID,
		TicketID:      env.AggregateID,
		CorrelationID: env.CorrelationID,
	}

	if tp == TopicResolved {
		var rp resolvedPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &rp); err != nil {
				return nil, fmt.Errorf("decode resolved payload: %w", err)
			}
		}
		ev.Resolution = &Resolution{
			Notes:      rp.ResolutionNotes,
			VendorName: rp.VendorName,
		}
	}

	return ev, nil
}

// Context is the ticket state fetched fresh from the context store for one
// event. It is never cached across events.
type Context struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Messages    []Message `json:"messages"`
}

// Message is a single entry in the ticket conversation.
type Message struct {
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
}

// Transcript renders the message history as one line per message, each
// prefixed by its sender type. Senders without a type default to USER.
func (c *Context) Transcript() string {
	if len(c.Messages) == 0 {
		return ""
	}
	lines := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		sender := m.SenderType
		if sender == "" {
			sender = "USER"
		}
		lines = append(lines, fmt.Sprintf("- [%s]: %s", sender, m.Content))
	}
	return strings.Join(lines, "\n")
}
