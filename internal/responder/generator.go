// Package responder turns a canonical message into a reply using the
// conversation history, retrieved knowledge and a named provider.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autoreply/internal/conversation"
	"autoreply/internal/domain"
)

const (
	defaultProvider = "rules"
	defaultApology  = "Sorry, I couldn't process your message right now. Please try again in a moment."
)

// Response is always returned, even when generation failed. On failure
// Content holds the apology text and Error the reason.
type Response struct {
	Content       string         `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	KnowledgeUsed []string       `json:"knowledge_used"`
	Provider      string         `json:"provider,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Failed reports whether the response carries the apology instead of a reply.
func (r *Response) Failed() bool { return r.Error != "" }

// Providers resolves a provider by registry name.
type Providers interface {
	Get(name string) (domain.Provider, bool)
}

// Generator owns the conversation contexts it appends to.
type Generator struct {
	conversations *conversation.Store
	providers     Providers
	knowledge     domain.KnowledgeProvider
	providerName  string
	systemPrompt  string
	apology       string
	now           func() time.Time
	logger        *slog.Logger
}

type GeneratorConfig struct {
	Conversations  *conversation.Store
	Providers      Providers
	Knowledge      domain.KnowledgeProvider // optional
	Provider       string                   // registry name; "rules" when empty
	SystemPrompt   string
	ApologyMessage string
	Logger         *slog.Logger
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}
	if cfg.ApologyMessage == "" {
		cfg.ApologyMessage = defaultApology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Conversations == nil {
		cfg.Conversations = conversation.NewStore(conversation.StoreConfig{Logger: cfg.Logger})
	}
	return &Generator{
		conversations: cfg.Conversations,
		providers:     cfg.Providers,
		knowledge:     cfg.Knowledge,
		providerName:  cfg.Provider,
		systemPrompt:  cfg.SystemPrompt,
		apology:       cfg.ApologyMessage,
		now:           time.Now,
		logger:        cfg.Logger,
	}
}

// Generate appends msg to its conversation, optionally looks up knowledge and
// asks the configured provider for a reply.
func (g *Generator) Generate(ctx context.Context, msg *domain.Message, includeKnowledge bool) *Response {
	conv := g.userTurn(msg)
	var items []domain.KnowledgeItem
	if includeKnowledge {
		items = g.Retrieve(ctx, msg.Content, msg.SenderID)
	}
	return g.respond(ctx, msg, conv, items)
}

// GenerateWithKnowledge is Generate with knowledge already retrieved.
func (g *Generator) GenerateWithKnowledge(ctx context.Context, msg *domain.Message, items []domain.KnowledgeItem) *Response {
	return g.respond(ctx, msg, g.userTurn(msg), items)
}

// Retrieve searches the knowledge provider. Lookup failures are logged and
// yield an empty set.
func (g *Generator) Retrieve(ctx context.Context, query, userID string) []domain.KnowledgeItem {
	if g.knowledge == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	items, err := g.knowledge.Search(ctx, query, userID)
	if err != nil {
		lerr := &domain.KnowledgeLookupError{Query: query, Err: err}
		g.logger.Warn("knowledge lookup failed, continuing without knowledge", "user", userID, "error", lerr)
		return nil
	}
	return items
}

// Conversation returns the context for a conversation id, if one exists.
func (g *Generator) Conversation(id string) (*conversation.Context, bool) {
	return g.conversations.Get(id)
}

func (g *Generator) userTurn(msg *domain.Message) *conversation.Context {
	conv := g.conversations.GetOrCreate(msg.ConversationID, msg.Platform, msg.SenderID)
	at := msg.Timestamp
	if at.IsZero() {
		at = g.now()
	}
	conv.Append(domain.RoleUser, msg.Content, at)
	return conv
}

func (g *Generator) respond(ctx context.Context, msg *domain.Message, conv *conversation.Context, items []domain.KnowledgeItem) *Response {
	used := domain.KnowledgeIDs(items)
	logger := g.logger.With("conversation", msg.ConversationID, "provider", g.providerName)

	if g.providers == nil {
		return g.fail(used, errors.New("no provider registry configured"))
	}
	p, ok := g.providers.Get(g.providerName)
	if !ok {
		err := fmt.Errorf("provider %q is not registered", g.providerName)
		logger.Error("cannot generate response", "error", err)
		return g.fail(used, err)
	}

	res, err := p.Generate(ctx, domain.GenerateRequest{
		Message:      *msg,
		History:      conv.History(),
		Knowledge:    items,
		SystemPrompt: g.systemPrompt,
	})
	if err == nil && (res == nil || strings.TrimSpace(res.Content) == "") {
		err = errors.New("provider returned an empty reply")
	}
	if err != nil {
		logger.Error("response generation failed", "error", err)
		r := g.fail(used, err)
		r.Provider = p.Name()
		return r
	}

	now := g.now()
	conv.Append(domain.RoleAssistant, res.Content, now)

	meta := make(map[string]any, len(res.Metadata)+1)
	for k, v := range res.Metadata {
		meta[k] = v
	}
	meta["attempts"] = res.Attempts

	provider := res.Provider
	if provider == "" {
		provider = p.Name()
	}
	logger.Debug("response generated", "attempts", res.Attempts, "knowledge", len(used))
	return &Response{
		Content:       res.Content,
		Timestamp:     now,
		KnowledgeUsed: used,
		Provider:      provider,
		Metadata:      meta,
	}
}

func (g *Generator) fail(used []string, err error) *Response {
	return &Response{
		Content:       g.apology,
		Timestamp:     g.now(),
		KnowledgeUsed: used,
		Error:         err.Error(),
	}
}
