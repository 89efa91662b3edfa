package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"autoreply/internal/domain"
)

// Adapter maps one platform event payload to a canonical message.
// Adapters are pure: the same bytes always produce the same ids.
type Adapter func(raw json.RawMessage) (*domain.Message, error)

// now is replaced in tests.
var now = time.Now

type messengerEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"` // milliseconds
	Message   *struct {
		Mid         string            `json:"mid"`
		Text        string            `json:"text"`
		IsEcho      bool              `json:"is_echo"`
		Attachments []json.RawMessage `json:"attachments"`
		NLP         json.RawMessage   `json:"nlp"`
		ReplyTo     *struct {
			Mid string `json:"mid"`
		} `json:"reply_to"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		Mid     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

// MessengerAdapter returns the adapter shared by Facebook and Instagram, whose
// messaging events have the same shape. Timestamps are millisecond epochs.
func MessengerAdapter(platform domain.Platform) Adapter {
	return func(raw json.RawMessage) (*domain.Message, error) {
		var ev messengerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%s adapter: %w", platform, err)
		}

		meta := map[string]any{}
		if ev.Recipient.ID != "" {
			meta["page_id"] = ev.Recipient.ID
		}

		var content, mid string
		switch {
		case ev.Message != nil:
			content = ev.Message.Text
			mid = ev.Message.Mid
			if len(ev.Message.Attachments) > 0 {
				meta["attachments"] = decodeAll(ev.Message.Attachments)
			}
			if len(ev.Message.NLP) > 0 {
				var nlp any
				if json.Unmarshal(ev.Message.NLP, &nlp) == nil {
					meta["nlp"] = nlp
				}
			}
			if ev.Message.ReplyTo != nil {
				meta["reply_to"] = ev.Message.ReplyTo.Mid
			}
			if ev.Message.QuickReply != nil {
				meta["quick_reply_payload"] = ev.Message.QuickReply.Payload
			}
			if ev.Message.IsEcho {
				meta["is_echo"] = true
			}
		case ev.Postback != nil:
			content = ev.Postback.Title
			if content == "" {
				content = ev.Postback.Payload
			}
			mid = ev.Postback.Mid
			meta["postback_payload"] = ev.Postback.Payload
		default:
			return nil, fmt.Errorf("%s adapter: event carries neither message nor postback", platform)
		}

		rawTS := ""
		ts := now()
		if ev.Timestamp > 0 {
			rawTS = strconv.FormatInt(ev.Timestamp, 10)
			ts = time.UnixMilli(ev.Timestamp).UTC()
		}

		msg := build(platform, ev.Sender.ID, "", content, mid, rawTS, ts, meta)
		if ev.Message != nil && ev.Message.IsEcho {
			// Echoes are sent by the page to the user: keep them in the user's thread.
			delete(meta, "page_id")
			if ev.Sender.ID != "" {
				meta["page_id"] = ev.Sender.ID
			}
			if ev.Recipient.ID != "" {
				meta["recipient_id"] = ev.Recipient.ID
				msg.ConversationID = domain.DeriveConversationID(platform, ev.Recipient.ID)
			}
		}
		return msg, nil
	}
}

type whatsappEvent struct {
	Message struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"` // seconds, as a string
		Type      string `json:"type"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text"`
		Button *struct {
			Text    string `json:"text"`
			Payload string `json:"payload"`
		} `json:"button"`
		Interactive *struct {
			Type        string `json:"type"`
			ButtonReply *struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"button_reply"`
			ListReply *struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"list_reply"`
		} `json:"interactive"`
		Image    *waMedia `json:"image"`
		Video    *waMedia `json:"video"`
		Document *waMedia `json:"document"`
		Context  *struct {
			ID   string `json:"id"`
			From string `json:"from"`
		} `json:"context"`
	} `json:"message"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Metadata struct {
		PhoneNumberID      string `json:"phone_number_id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// WhatsAppAdapter maps a Cloud API message (with its sibling contacts and
// metadata) to a canonical message. Timestamps are second epochs.
func WhatsAppAdapter() Adapter {
	return func(raw json.RawMessage) (*domain.Message, error) {
		var ev whatsappEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("whatsapp adapter: %w", err)
		}
		m := ev.Message

		meta := map[string]any{"message_type": m.Type}
		if ev.Metadata.PhoneNumberID != "" {
			meta["phone_number_id"] = ev.Metadata.PhoneNumberID
		}
		if ev.Metadata.DisplayPhoneNumber != "" {
			meta["display_phone_number"] = ev.Metadata.DisplayPhoneNumber
		}
		if m.Context != nil {
			meta["reply_to"] = m.Context.ID
		}

		var content string
		switch {
		case m.Text != nil:
			content = m.Text.Body
		case m.Button != nil:
			content = m.Button.Text
			meta["button_payload"] = m.Button.Payload
		case m.Interactive != nil && m.Interactive.ButtonReply != nil:
			content = m.Interactive.ButtonReply.Title
			meta["reply_id"] = m.Interactive.ButtonReply.ID
		case m.Interactive != nil && m.Interactive.ListReply != nil:
			content = m.Interactive.ListReply.Title
			meta["reply_id"] = m.Interactive.ListReply.ID
		}
		for _, media := range []*waMedia{m.Image, m.Video, m.Document} {
			if media == nil {
				continue
			}
			meta["attachments"] = []map[string]any{{"type": m.Type, "id": media.ID, "mime_type": media.MimeType}}
			if content == "" {
				content = media.Caption
			}
		}

		senderName := ""
		for _, c := range ev.Contacts {
			if c.WaID == m.From || senderName == "" {
				senderName = c.Profile.Name
			}
		}

		ts := now()
		if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && secs > 0 {
			ts = time.Unix(secs, 0).UTC()
		}

		return build(domain.PlatformWhatsApp, m.From, senderName, content, m.ID, m.Timestamp, ts, meta), nil
	}
}

func build(platform domain.Platform, sender, senderName, content, id, rawTS string, ts time.Time, meta map[string]any) *domain.Message {
	if id == "" {
		id = domain.DeriveMessageID(platform, sender, content, rawTS)
	}
	return &domain.Message{
		Platform:       platform,
		SenderID:       sender,
		SenderName:     senderName,
		Content:        content,
		MessageID:      id,
		Timestamp:      ts,
		ConversationID: domain.DeriveConversationID(platform, sender),
		Metadata:       meta,
	}
}

func decodeAll(raws []json.RawMessage) []any {
	out := make([]any, 0, len(raws))
	for _, r := range raws {
		var v any
		if json.Unmarshal(r, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}
