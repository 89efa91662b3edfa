package domain

import "context"

// SendReceipt is the parsed platform response to an outbound message.
type SendReceipt struct {
	RecipientID string         `json:"recipient_id"`
	MessageID   string         `json:"message_id,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
}

// Outbound sends text replies back to the platform a message came from.
type Outbound interface {
	Platform() Platform
	SendText(ctx context.Context, recipientID, text string) (*SendReceipt, error)
}
