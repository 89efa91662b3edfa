// Package message turns classified platform events into canonical messages
// and fans them out to observers.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"autoreply/internal/domain"
)

// Handler observes every canonical message produced by the processor.
// Handlers should be idempotent side-effect consumers.
type Handler func(ctx context.Context, msg *domain.Message) error

// Processor maps raw payloads to canonical messages via per-platform adapters.
type Processor struct {
	mu       sync.RWMutex
	adapters map[domain.Platform]Adapter
	handlers []Handler
	validate *validator.Validate
	logger   *slog.Logger
}

type ProcessorConfig struct {
	// SkipBuiltinAdapters leaves the adapter table empty.
	SkipBuiltinAdapters bool
	Logger              *slog.Logger
}

// NewProcessor creates a processor with the Facebook, Instagram and WhatsApp
// adapters registered.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		adapters: make(map[domain.Platform]Adapter),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	if !cfg.SkipBuiltinAdapters {
		p.RegisterAdapter(domain.PlatformFacebook, MessengerAdapter(domain.PlatformFacebook))
		p.RegisterAdapter(domain.PlatformInstagram, MessengerAdapter(domain.PlatformInstagram))
		p.RegisterAdapter(domain.PlatformWhatsApp, WhatsAppAdapter())
	}
	return p
}

// RegisterAdapter sets the adapter for a platform, replacing any existing one.
func (p *Processor) RegisterAdapter(platform domain.Platform, fn Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters[platform] = fn
}

// AddHandler appends an observer. Observers run in registration order.
func (p *Processor) AddHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Process adapts raw into a canonical message and runs every handler on it.
// A platform with no adapter is not an error: a warning is logged and
// (nil, nil) is returned. Adapter, validation and handler failures are
// returned as errors; handlers after the failing one do not run.
func (p *Processor) Process(ctx context.Context, platform domain.Platform, raw json.RawMessage) (*domain.Message, error) {
	p.mu.RLock()
	adapter, ok := p.adapters[platform]
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.RUnlock()

	if !ok {
		p.logger.Warn("no adapter registered for platform", "platform", platform)
		return nil, nil
	}

	msg, err := adapter(raw)
	if err != nil {
		return nil, fmt.Errorf("adapt %s message: %w", platform, err)
	}
	if err := p.validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", platform, err)
	}

	for i, h := range handlers {
		if err := h(ctx, msg); err != nil {
			p.logger.Error("message handler failed",
				"platform", platform, "message_id", msg.MessageID, "handler", i, "error", err)
			return nil, fmt.Errorf("message handler %d: %w", i, err)
		}
	}

	p.logger.Debug("message processed",
		"platform", platform, "message_id", msg.MessageID, "conversation", msg.ConversationID)
	return msg, nil
}

// RecordTo returns a handler that persists every message to log.
func RecordTo(log domain.MessageLog) Handler {
	return func(ctx context.Context, msg *domain.Message) error {
		return log.Record(ctx, *msg)
	}
}
