package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"autoreply/internal/domain"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = openai.GPT4oMini
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Name        string // registry name; "openai" when empty
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = openAIDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.APIBase
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		client:      openai.NewClientWithConfig(oc),
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	system, turns := promptParts(req)

	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			o.logger.Debug("openai api error", "provider", o.name, "status", apiErr.HTTPStatusCode, "code", apiErr.Code)
		}
		return nil, fmt.Errorf("%s: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", o.name)
	}

	choice := resp.Choices[0]
	return &domain.GenerateResult{
		Content:  choice.Message.Content,
		Provider: o.name,
		Metadata: map[string]any{
			"model":         resp.Model,
			"finish_reason": string(choice.FinishReason),
			"tokens_in":     resp.Usage.PromptTokens,
			"tokens_out":    resp.Usage.CompletionTokens,
		},
	}, nil
}

// isOpenAICapacity reports a 429 or 503 from an OpenAI-compatible backend.
func isOpenAICapacity(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	return false
}
