package domain

import "context"

// KnowledgeItem is a retrieved snippet used to ground a reply. Read-only.
type KnowledgeItem struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Snippet  string         `json:"snippet,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Text returns the snippet when present, otherwise the full content.
func (k KnowledgeItem) Text() string {
	if k.Snippet != "" {
		return k.Snippet
	}
	return k.Content
}

// KnowledgeProvider looks up ranked knowledge for a query on behalf of a user.
// Implementations return an empty slice, not an error, when nothing matches.
type KnowledgeProvider interface {
	Search(ctx context.Context, query, userID string) ([]KnowledgeItem, error)
}

// KnowledgeIDs returns the ids of items in order.
func KnowledgeIDs(items []KnowledgeItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}
