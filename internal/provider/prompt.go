package provider

import (
	"fmt"
	"strings"

	"autoreply/internal/domain"
)

// maxKnowledgeChars bounds the knowledge block appended to the system prompt.
const maxKnowledgeChars = 4000

// promptParts returns the system prompt, with retrieved knowledge appended,
// and the conversation turns ending with the current user message.
func promptParts(req domain.GenerateRequest) (string, []domain.Turn) {
	system := strings.TrimSpace(req.SystemPrompt)
	if kb := knowledgeBlock(req.Knowledge); kb != "" {
		if system != "" {
			system += "\n\n"
		}
		system += kb
	}

	turns := make([]domain.Turn, 0, len(req.History)+1)
	for _, t := range req.History {
		if t.Role == domain.RoleSystem || strings.TrimSpace(t.Content) == "" {
			continue
		}
		turns = append(turns, t)
	}

	// The history normally already ends with the current message.
	if n := len(turns); n == 0 || turns[n-1].Role != domain.RoleUser || turns[n-1].Content != req.Message.Content {
		turns = append(turns, domain.Turn{
			Role:      domain.RoleUser,
			Content:   req.Message.Content,
			Timestamp: req.Message.Timestamp,
		})
	}
	return system, turns
}

func knowledgeBlock(items []domain.KnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant knowledge:\n")
	for i, it := range items {
		line := fmt.Sprintf("%d. ", i+1)
		if it.Title != "" {
			line += it.Title + ": "
		}
		line += strings.TrimSpace(it.Text()) + "\n"
		if sb.Len()+len(line) > maxKnowledgeChars {
			break
		}
		sb.WriteString(line)
	}
	return strings.TrimRight(sb.String(), "\n")
}
