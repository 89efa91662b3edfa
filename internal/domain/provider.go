package domain

import (
	"context"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerateRequest is everything a responder backend may use to build a reply.
type GenerateRequest struct {
	Message      Message
	History      []Turn
	Knowledge    []KnowledgeItem
	SystemPrompt string
}

// GenerateResult is a backend reply.
type GenerateResult struct {
	Content  string
	Provider string
	Attempts int
	Metadata map[string]any
}

// Provider is the uniform contract for every responder backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}
