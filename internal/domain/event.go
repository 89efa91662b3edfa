package domain

import (
	"encoding/json"
	"strings"
)

// EventType classifies a single entry of a webhook delivery.
type EventType string

const (
	EventMessage     EventType = "message"
	EventMessageEcho EventType = "message_echo"
	EventDelivery    EventType = "delivery"
	EventRead        EventType = "read"
	EventPostback    EventType = "postback"
	EventComment     EventType = "comment"
	EventMention     EventType = "mention"
	EventReaction    EventType = "reaction"
	EventUnknown     EventType = "unknown"

	statusPrefix = "status_"
)

// StatusEvent returns the event type for a WhatsApp delivery status value
// such as "sent", "delivered" or "read".
func StatusEvent(status string) EventType {
	if status == "" {
		return EventUnknown
	}
	return EventType(statusPrefix + strings.ToLower(status))
}

// IsStatus reports whether t is a WhatsApp status_<value> event.
func (t EventType) IsStatus() bool {
	return strings.HasPrefix(string(t), statusPrefix)
}

// Event is one classified entry extracted from a webhook body.
type Event struct {
	Platform   Platform        `json:"platform"`
	Type       EventType       `json:"type"`
	Identifier string          `json:"identifier"`
	OwnerID    string          `json:"owner_id,omitempty"` // page, IG account or phone number id
	Payload    json.RawMessage `json:"payload"`
}

// Result statuses reported per event.
const (
	StatusProcessed = "processed"
	StatusError     = "error"
	StatusIgnored   = "ignored"
)

// EventResult is the per-event outcome returned to the HTTP layer.
type EventResult struct {
	Identifier string    `json:"identifier"`
	EventType  EventType `json:"event_type"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
