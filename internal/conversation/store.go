// Package conversation keeps the bounded rolling history of each conversation.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/metrics"
)

const DefaultMaxHistory = 10

// Context is the in-memory state of one conversation. History never holds
// more than MaxHistory turns; the oldest turn is evicted first.
type Context struct {
	ConversationID string
	Platform       domain.Platform
	UserID         string
	MaxHistory     int
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time

	mu      sync.Mutex
	history []domain.Turn
}

// Append adds a turn, evicting the oldest when the cap is reached.
func (c *Context) Append(role, content string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, domain.Turn{Role: role, Content: content, Timestamp: at})
	if over := len(c.history) - c.MaxHistory; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
	c.UpdatedAt = at
}

// History returns a copy of the turns, oldest first.
func (c *Context) History() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Turn(nil), c.history...)
}

func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

func (c *Context) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.UpdatedAt
}

// Store maps conversation ids to contexts. Contexts are created lazily and
// live until evicted by EvictIdle.
type Store struct {
	mu         sync.Mutex
	contexts   map[string]*Context
	maxHistory int
	logger     *slog.Logger
	now        func() time.Time
}

type StoreConfig struct {
	MaxHistory int
	Logger     *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		contexts:   make(map[string]*Context),
		maxHistory: cfg.MaxHistory,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrCreate returns the context for conversationID, creating it on first use.
func (s *Store) GetOrCreate(conversationID string, platform domain.Platform, userID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[conversationID]; ok {
		return c
	}
	now := s.now()
	c := &Context{
		ConversationID: conversationID,
		Platform:       platform,
		UserID:         userID,
		MaxHistory:     s.maxHistory,
		Metadata:       make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.contexts[conversationID] = c
	metrics.ActiveConversations.Set(int64(len(s.contexts)))
	s.logger.Debug("conversation context created", "conversation", conversationID, "platform", platform)
	return c
}

// Get returns an existing context.
func (s *Store) Get(conversationID string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[conversationID]
	return c, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Delete drops one context.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, conversationID)
	metrics.ActiveConversations.Set(int64(len(s.contexts)))
}

// EvictIdle removes every context not updated within ttl and returns how many
// were removed. A non-positive ttl evicts nothing.
func (s *Store) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, c := range s.contexts {
		if c.lastActive().Before(cutoff) {
			delete(s.contexts, id)
			evicted++
		}
	}
	metrics.ActiveConversations.Set(int64(len(s.contexts)))
	return evicted
}
