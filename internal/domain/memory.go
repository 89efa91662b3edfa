package domain

import "context"

// MessageLog persists canonical messages for later inspection.
// Recording the same MessageID twice is a no-op.
type MessageLog interface {
	Record(ctx context.Context, msg Message) error
	Recent(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
