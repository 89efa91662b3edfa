// Package knowledge stores support snippets and retrieves the ones relevant to
// an inbound message.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"autoreply/internal/domain"
)

const (
	DefaultType  = "faq"
	snippetWidth = 240
)

// Item is a knowledge entry as written to the store.
type Item struct {
	ID       string
	UserID   string // owner; empty means shared
	Type     string
	Title    string
	Content  string
	Metadata map[string]any
}

func (it Item) toDomain() domain.KnowledgeItem {
	return domain.KnowledgeItem{
		ID:       it.ID,
		Type:     it.Type,
		Title:    it.Title,
		Content:  it.Content,
		Metadata: it.Metadata,
	}
}

// Storer is the storage interface for the knowledge engine.
type Storer interface {
	Add(ctx context.Context, item Item) (domain.KnowledgeItem, error)
	Search(ctx context.Context, query, userID string, topK int) ([]domain.KnowledgeItem, error)
	List(ctx context.Context, userID string, limit int) ([]domain.KnowledgeItem, error)
	Delete(ctx context.Context, id string) error
}

// Engine implements domain.KnowledgeProvider on top of a Storer.
type Engine struct {
	store     Storer
	topK      int
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

type EngineConfig struct {
	Store     Storer
	TopK      int // results per search (default: 5)
	ChunkSize int // words per chunk for AddDocument (default: 200)
	Overlap   int // overlap words between chunks (default: 20)
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 200
	}
	if cfg.Overlap <= 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = min(20, cfg.ChunkSize/2)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:     cfg.Store,
		topK:      cfg.TopK,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    cfg.Logger,
	}
}

// AddItem stores one entry as-is.
func (e *Engine) AddItem(ctx context.Context, item Item) (domain.KnowledgeItem, error) {
	if strings.TrimSpace(item.Content) == "" {
		return domain.KnowledgeItem{}, fmt.Errorf("knowledge item content is empty")
	}
	if item.Type == "" {
		item.Type = DefaultType
	}
	k, err := e.store.Add(ctx, item)
	if err != nil {
		return domain.KnowledgeItem{}, err
	}
	e.logger.Info("knowledge item added", "id", k.ID, "type", k.Type, "title", k.Title)
	return k, nil
}

// AddDocument splits long content into overlapping chunks stored as separate
// items sharing the title.
func (e *Engine) AddDocument(ctx context.Context, item Item) ([]domain.KnowledgeItem, error) {
	chunks := e.chunkText(item.Content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("knowledge document %q is empty", item.Title)
	}
	if len(chunks) == 1 {
		k, err := e.AddItem(ctx, item)
		if err != nil {
			return nil, err
		}
		return []domain.KnowledgeItem{k}, nil
	}

	out := make([]domain.KnowledgeItem, 0, len(chunks))
	for i, c := range chunks {
		part := item
		part.ID = ""
		part.Content = c
		part.Metadata = make(map[string]any, len(item.Metadata)+2)
		for k, v := range item.Metadata {
			part.Metadata[k] = v
		}
		part.Metadata["chunk_index"] = i
		part.Metadata["chunk_count"] = len(chunks)
		k, err := e.AddItem(ctx, part)
		if err != nil {
			return out, fmt.Errorf("store chunk %d of %q: %w", i, item.Title, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// Search returns up to TopK ranked items for query. No match is an empty
// slice, not an error.
func (e *Engine) Search(ctx context.Context, query, userID string) ([]domain.KnowledgeItem, error) {
	items, err := e.store.Search(ctx, query, userID, e.topK)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("knowledge search", "terms", Terms(query), "results", len(items))
	return items, nil
}

func (e *Engine) List(ctx context.Context, userID string, limit int) ([]domain.KnowledgeItem, error) {
	return e.store.List(ctx, userID, limit)
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// BuildContext renders items as a prompt section.
func BuildContext(items []domain.KnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Knowledge\n\n")
	for i, it := range items {
		title := it.Title
		if title == "" {
			title = it.Type
		}
		sb.WriteString(fmt.Sprintf("### %s\n", title))
		sb.WriteString(it.Text())
		if i < len(items)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}

// chunkText splits text into overlapping chunks of about chunkSize words.
func (e *Engine) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	step := e.chunkSize - e.overlap
	for i := 0; i < len(words); i += step {
		end := min(i+e.chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}
