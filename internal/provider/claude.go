package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"autoreply/internal/domain"
)

const (
	claudeDefaultBase  = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-haiku-20241022"
	defaultMaxTokens   = 1024
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	name        string
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type ClaudeConfig struct {
	Name        string // registry name; "claude" when empty
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Name == "" {
		cfg.Name = "claude"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = claudeDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

func (c *Claude) Name() string { return c.name }

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []claudeMsg `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	Model      string          `json:"model"`
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (c *Claude) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	system, turns := promptParts(req)

	// The Messages API wants alternating roles starting with user.
	var msgs []claudeMsg
	for _, t := range turns {
		role := domain.RoleUser
		if t.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		if len(msgs) == 0 && role != domain.RoleUser {
			continue
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + t.Content
			continue
		}
		msgs = append(msgs, claudeMsg{Role: role, Content: t.Content})
	}

	body := claudeRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  msgs,
	}
	if c.temperature > 0 {
		t := c.temperature
		body.Temperature = &t
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var textParts []string
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	if len(textParts) == 0 {
		return nil, fmt.Errorf("%s: empty response", c.name)
	}

	return &domain.GenerateResult{
		Content:  strings.Join(textParts, ""),
		Provider: c.name,
		Metadata: map[string]any{
			"model":       claudeResp.Model,
			"stop_reason": claudeResp.StopReason,
			"tokens_in":   claudeResp.Usage.InputTokens,
			"tokens_out":  claudeResp.Usage.OutputTokens,
		},
	}, nil
}
