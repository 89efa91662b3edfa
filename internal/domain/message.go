package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Platform identifies the chat platform a message came from.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformWhatsApp  Platform = "whatsapp"
)

// Platforms lists every supported platform in registration order.
var Platforms = []Platform{PlatformFacebook, PlatformInstagram, PlatformWhatsApp}

// ParsePlatform maps a path segment or config key to a Platform.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Message is the platform-agnostic representation of an inbound chat message.
// It is built once by a platform adapter and never mutated afterwards.
type Message struct {
	Platform       Platform       `json:"platform" validate:"required,oneof=facebook instagram whatsapp"`
	SenderID       string         `json:"sender_id" validate:"required"`
	SenderName     string         `json:"sender_name,omitempty"`
	Content        string         `json:"content"`
	MessageID      string         `json:"message_id" validate:"required"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id" validate:"required"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DeriveMessageID builds a stable id for platforms that omit one.
// rawTimestamp is the timestamp exactly as delivered so that redelivery of the
// same payload always yields the same id.
func DeriveMessageID(platform Platform, senderID, content, rawTimestamp string) string {
	h := sha256.New()
	h.Write([]byte(platform))
	h.Write([]byte{0x00})
	h.Write([]byte(senderID))
	h.Write([]byte{0x00})
	h.Write([]byte(content))
	h.Write([]byte{0x00})
	h.Write([]byte(rawTimestamp))
	return string(platform) + "_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// DeriveConversationID builds the conversation key used when the platform has none.
func DeriveConversationID(platform Platform, senderID string) string {
	return string(platform) + "_" + senderID
}
