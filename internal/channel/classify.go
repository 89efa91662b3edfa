package channel

import (
	"encoding/json"
	"fmt"

	"autoreply/internal/domain"
)

// Webhook envelope shared by the Graph API platforms.
type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
	Changes   []change          `json:"changes"`
}

type change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// parseEnvelope decodes the raw body. Any decoding failure is a *domain.ParseError.
func parseEnvelope(platform domain.Platform, body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &domain.ParseError{Platform: platform, Err: err}
	}
	return &env, nil
}

// classifier turns a decoded envelope into classified events, in delivery order.
type classifier func(platform domain.Platform, env *envelope) []domain.Event

// --- Messenger / Instagram ---

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		Mid    string `json:"mid"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
	Postback json.RawMessage `json:"postback"`
	Reaction json.RawMessage `json:"reaction"`
	Delivery json.RawMessage `json:"delivery"`
	Read     json.RawMessage `json:"read"`
}

func classifyMessaging(raw json.RawMessage) (domain.EventType, string) {
	var ev messagingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.EventUnknown, ""
	}
	id := fmt.Sprintf("%s_%d", ev.Sender.ID, ev.Timestamp)
	switch {
	case ev.Message != nil:
		if ev.Message.Mid != "" {
			id = ev.Message.Mid
		}
		if ev.Message.IsEcho {
			return domain.EventMessageEcho, id
		}
		return domain.EventMessage, id
	case len(ev.Postback) > 0:
		return domain.EventPostback, id
	case len(ev.Reaction) > 0:
		return domain.EventReaction, id
	case len(ev.Delivery) > 0:
		return domain.EventDelivery, id
	case len(ev.Read) > 0:
		return domain.EventRead, id
	}
	return domain.EventUnknown, id
}

type changeValue struct {
	Item      string `json:"item"`
	ID        string `json:"id"`
	CommentID string `json:"comment_id"`
	PostID    string `json:"post_id"`
	MediaID   string `json:"media_id"`
}

func (v changeValue) identifier() string {
	for _, s := range []string{v.CommentID, v.ID, v.PostID, v.MediaID} {
		if s != "" {
			return s
		}
	}
	return ""
}

// classifyFacebookChange maps page feed changes. Comments arrive on the "feed"
// field with item=comment; page mentions use the "mention" field.
func classifyFacebookChange(c change) (domain.EventType, string) {
	var v changeValue
	_ = json.Unmarshal(c.Value, &v)
	switch c.Field {
	case "feed":
		switch v.Item {
		case "comment":
			return domain.EventComment, v.identifier()
		case "reaction":
			return domain.EventReaction, v.identifier()
		}
	case "mention":
		return domain.EventMention, v.identifier()
	}
	return domain.EventUnknown, v.identifier()
}

func classifyInstagramChange(c change) (domain.EventType, string) {
	var v changeValue
	_ = json.Unmarshal(c.Value, &v)
	switch c.Field {
	case "comments", "live_comments":
		return domain.EventComment, v.identifier()
	case "mentions":
		return domain.EventMention, v.identifier()
	}
	return domain.EventUnknown, v.identifier()
}

func metaClassifier(changeFn func(change) (domain.EventType, string)) classifier {
	return func(platform domain.Platform, env *envelope) []domain.Event {
		var events []domain.Event
		for _, e := range env.Entry {
			for _, raw := range e.Messaging {
				typ, id := classifyMessaging(raw)
				events = append(events, domain.Event{
					Platform: platform, Type: typ, Identifier: id, OwnerID: e.ID, Payload: raw,
				})
			}
			for _, c := range e.Changes {
				typ, id := changeFn(c)
				if id == "" {
					id = e.ID + "_" + c.Field
				}
				events = append(events, domain.Event{
					Platform: platform, Type: typ, Identifier: id, OwnerID: e.ID, Payload: c.Value,
				})
			}
			if len(e.Messaging) == 0 && len(e.Changes) == 0 {
				events = append(events, domain.Event{
					Platform: platform, Type: domain.EventUnknown, Identifier: e.ID, OwnerID: e.ID,
				})
			}
		}
		return events
	}
}

// --- WhatsApp Cloud API ---

type waValue struct {
	Metadata json.RawMessage   `json:"metadata"`
	Contacts json.RawMessage   `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

// waMessagePayload is the event payload handed to handlers for one WhatsApp
// message: the message object plus the sibling contacts and metadata.
type waMessagePayload struct {
	Message  json.RawMessage `json:"message"`
	Contacts json.RawMessage `json:"contacts,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type waStatusPayload struct {
	Status   json.RawMessage `json:"status"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func classifyWhatsApp(platform domain.Platform, env *envelope) []domain.Event {
	var events []domain.Event
	for _, e := range env.Entry {
		for _, c := range e.Changes {
			if c.Field != "messages" {
				events = append(events, domain.Event{
					Platform: platform, Type: domain.EventUnknown, Identifier: e.ID + "_" + c.Field, OwnerID: e.ID,
					Payload: c.Value,
				})
				continue
			}
			var v waValue
			if err := json.Unmarshal(c.Value, &v); err != nil {
				events = append(events, domain.Event{
					Platform: platform, Type: domain.EventUnknown, Identifier: e.ID, OwnerID: e.ID, Payload: c.Value,
				})
				continue
			}
			var meta struct {
				PhoneNumberID string `json:"phone_number_id"`
			}
			_ = json.Unmarshal(v.Metadata, &meta)
			owner := meta.PhoneNumberID
			if owner == "" {
				owner = e.ID
			}

			for _, m := range v.Messages {
				var head struct {
					ID   string `json:"id"`
					Type string `json:"type"`
				}
				_ = json.Unmarshal(m, &head)
				payload, _ := json.Marshal(waMessagePayload{Message: m, Contacts: v.Contacts, Metadata: v.Metadata})
				events = append(events, domain.Event{
					Platform: platform, Type: waMessageType(head.Type), Identifier: head.ID, OwnerID: owner, Payload: payload,
				})
			}
			for _, s := range v.Statuses {
				var head struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				}
				_ = json.Unmarshal(s, &head)
				payload, _ := json.Marshal(waStatusPayload{Status: s, Metadata: v.Metadata})
				events = append(events, domain.Event{
					Platform: platform, Type: domain.StatusEvent(head.Status), Identifier: head.ID, OwnerID: owner,
					Payload: payload,
				})
			}
			if len(v.Messages) == 0 && len(v.Statuses) == 0 {
				events = append(events, domain.Event{
					Platform: platform, Type: domain.EventUnknown, Identifier: owner, OwnerID: owner, Payload: c.Value,
				})
			}
		}
		if len(e.Changes) == 0 {
			events = append(events, domain.Event{
				Platform: platform, Type: domain.EventUnknown, Identifier: e.ID, OwnerID: e.ID,
			})
		}
	}
	return events
}

// waMessageType maps a WhatsApp message "type" to an event class. Reactions
// and system notices are not conversational and never reach the reply path.
func waMessageType(t string) domain.EventType {
	switch t {
	case "reaction":
		return domain.EventReaction
	case "unsupported", "system", "ephemeral":
		return domain.EventUnknown
	}
	return domain.EventMessage
}
