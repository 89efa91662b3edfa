package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autoreply/internal/domain"
)

// DefaultGraphAPIBase is the Graph API version replies are sent through.
const DefaultGraphAPIBase = "https://graph.facebook.com/v16.0"

// SendError is a non-2xx response from the platform send endpoint.
type SendError struct {
	Platform   domain.Platform
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send API %d: %s", e.Platform, e.StatusCode, e.Body)
}

// GraphClient posts outbound messages to the Graph API.
type GraphClient struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

type GraphClientConfig struct {
	APIBase string
	// Timeout bounds every outbound call. It must be set by the caller.
	Timeout time.Duration
	Client  *http.Client // optional, overrides Timeout
	Logger  *slog.Logger
}

func NewGraphClient(cfg GraphClientConfig) *GraphClient {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultGraphAPIBase
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphClient{
		base:   strings.TrimRight(cfg.APIBase, "/"),
		client: client,
		logger: logger,
	}
}

type messengerSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessenger sends a text reply through the Messenger Send API, which also
// serves Instagram messaging.
func (g *GraphClient) SendMessenger(ctx context.Context, platform domain.Platform, accessToken, recipientID, text string) (*domain.SendReceipt, error) {
	var body messengerSendRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text

	endpoint := g.base + "/me/messages?access_token=" + url.QueryEscape(accessToken)
	resp, err := g.postJSON(ctx, platform, endpoint, "", body)
	if err != nil {
		return nil, err
	}

	receipt := &domain.SendReceipt{RecipientID: recipientID, Response: resp}
	if id, ok := resp["message_id"].(string); ok {
		receipt.MessageID = id
	}
	if rid, ok := resp["recipient_id"].(string); ok && rid != "" {
		receipt.RecipientID = rid
	}
	return receipt, nil
}

type whatsappSendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendWhatsApp sends a text message via the WhatsApp Cloud API.
func (g *GraphClient) SendWhatsApp(ctx context.Context, accessToken, phoneNumberID, to, text string) (*domain.SendReceipt, error) {
	if phoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp send: phone number id is not configured")
	}
	body := whatsappSendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	body.Text.Body = text

	endpoint := fmt.Sprintf("%s/%s/messages", g.base, url.PathEscape(phoneNumberID))
	resp, err := g.postJSON(ctx, domain.PlatformWhatsApp, endpoint, accessToken, body)
	if err != nil {
		return nil, err
	}

	receipt := &domain.SendReceipt{RecipientID: to, Response: resp}
	if msgs, ok := resp["messages"].([]any); ok && len(msgs) > 0 {
		if m, ok := msgs[0].(map[string]any); ok {
			receipt.MessageID, _ = m["id"].(string)
		}
	}
	return receipt, nil
}

// postJSON sends payload and returns the decoded JSON response. Non-2xx
// responses are logged and returned as *SendError.
func (g *GraphClient) postJSON(ctx context.Context, platform domain.Platform, endpoint, bearer string, payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s send: %w", platform, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error("send API rejected message",
			"platform", platform, "status", resp.StatusCode, "body", string(respBody))
		return nil, &SendError{Platform: platform, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := make(map[string]any)
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("%s send: decode response: %w", platform, err)
		}
	}
	return out, nil
}
