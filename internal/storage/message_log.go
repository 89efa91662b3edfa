package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"autoreply/internal/domain"
)

// MessageLog implements domain.MessageLog on the shared database.
type MessageLog struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewMessageLog(db *DB, logger *slog.Logger) *MessageLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageLog{db: db, logger: logger, now: time.Now}
}

// Record stores msg. A message id that is already stored is left untouched.
func (l *MessageLog) Record(ctx context.Context, msg domain.Message) error {
	meta := []byte("{}")
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", msg.MessageID, err)
		}
		meta = b
	}

	res, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO message_log
			(message_id, platform, conversation_id, sender_id, sender_name, content, metadata, sent_at_ms, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`),
		msg.MessageID, string(msg.Platform), msg.ConversationID, msg.SenderID, msg.SenderName,
		msg.Content, string(meta), msg.Timestamp.UnixMilli(), l.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record message %s: %w", msg.MessageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		l.logger.Debug("message already recorded", "message_id", msg.MessageID, "conversation", msg.ConversationID)
	}
	return nil
}

// Recent returns up to limit of the newest messages of a conversation, oldest first.
func (l *MessageLog) Recent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT message_id, platform, conversation_id, sender_id, sender_name, content, metadata, sent_at_ms
		FROM message_log
		WHERE conversation_id = ?
		ORDER BY sent_at_ms DESC, recorded_at_ms DESC
		LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m        domain.Message
			platform string
			meta     string
			sentAt   int64
		)
		if err := rows.Scan(&m.MessageID, &platform, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &meta, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Platform = domain.Platform(platform)
		m.Timestamp = time.UnixMilli(sentAt)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				l.logger.Warn("skipping unreadable message metadata", "message_id", m.MessageID, "error", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
