package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"autoreply/internal/domain"
	"autoreply/internal/storage"
)

// candidateLimit caps rows pulled from the database before ranking. The
// newest matches win when more rows match; a larger topK raises the cap.
var candidateLimit = 200

const candidatesPerResult = 20

// ErrNotFound is returned when deleting an unknown item.
var ErrNotFound = errors.New("knowledge item not found")

// SQLStore keeps knowledge items in the shared database. Items with an
// empty UserID are visible to every user.
type SQLStore struct {
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLStore(db *storage.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger, now: time.Now}
}

func (s *SQLStore) Add(ctx context.Context, item Item) (domain.KnowledgeItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	meta := []byte("{}")
	if len(item.Metadata) > 0 {
		b, err := json.Marshal(item.Metadata)
		if err != nil {
			return domain.KnowledgeItem{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO knowledge_items (id, user_id, type, title, content, search_text, metadata, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.UserID, item.Type, item.Title, item.Content,
		fold(item.Title+"\n"+item.Content), string(meta), s.now().UnixMilli(),
	)
	if err != nil {
		return domain.KnowledgeItem{}, fmt.Errorf("insert knowledge item: %w", err)
	}
	return item.toDomain(), nil
}

// Search ranks items whose folded text contains any query term. Each term
// occurrence scores 1, a term in the title scores 2 more.
func (s *SQLStore) Search(ctx context.Context, query, userID string, topK int) ([]domain.KnowledgeItem, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []domain.KnowledgeItem{}, nil
	}

	conds := make([]string, len(terms))
	args := []any{userID}
	for i, t := range terms {
		conds[i] = "search_text LIKE ?"
		args = append(args, "%"+t+"%")
	}
	limit := candidateLimit
	if topK*candidatesPerResult > limit {
		limit = topK * candidatesPerResult
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, user_id, type, title, content, metadata, search_text
		FROM knowledge_items
		WHERE (user_id = ? OR user_id = '') AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY created_at_ms DESC, id
		LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	results := []domain.KnowledgeItem{}
	for rows.Next() {
		item, searchText, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		foldedTitle := fold(item.Title)
		score := 0.0
		for _, t := range terms {
			score += float64(strings.Count(searchText, t))
			if strings.Contains(foldedTitle, t) {
				score += 2
			}
		}
		k := item.toDomain()
		k.Score = score
		k.Snippet = snippet(item.Content, terms, snippetWidth)
		results = append(results, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// List returns items visible to userID, newest first. An empty userID lists
// every item.
func (s *SQLStore) List(ctx context.Context, userID string, limit int) ([]domain.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, user_id, type, title, content, metadata, search_text FROM knowledge_items`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ? OR user_id = ''`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at_ms DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	out := []domain.KnowledgeItem{}
	for rows.Next() {
		item, _, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item.toDomain())
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM knowledge_items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete knowledge item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scan(row scanner) (Item, string, error) {
	var (
		it         Item
		meta       string
		searchText string
	)
	if err := row.Scan(&it.ID, &it.UserID, &it.Type, &it.Title, &it.Content, &meta, &searchText); err != nil {
		return Item{}, "", fmt.Errorf("scan knowledge item: %w", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			s.logger.Warn("ignoring unreadable knowledge metadata", "id", it.ID, "error", err)
		}
	}
	return it, searchText, nil
}
