package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"

	"autoreply/internal/domain"
	"autoreply/internal/metrics"
)

// State is the stage a webhook delivery reached inside the connector.
type State string

const (
	StateUnverified State = "unverified"
	StateVerified   State = "verified"
	StateClassified State = "classified"
	StateDispatched State = "dispatched"
)

// EventHandler processes one classified event.
type EventHandler func(ctx context.Context, ev domain.Event) error

// WebhookResult is the aggregated outcome of one delivery.
type WebhookResult struct {
	Platform         domain.Platform      `json:"platform"`
	State            State                `json:"state"`
	SignatureSkipped bool                 `json:"signature_skipped,omitempty"`
	Results          []domain.EventResult `json:"results"`
}

// Connector owns one platform's webhook lifecycle: handshake, signature
// verification, classification, dispatch and outbound send.
type Connector struct {
	spec     PlatformSpec
	creds    Credentials
	verifier Verifier
	graph    *GraphClient
	logger   *slog.Logger

	handlers      map[domain.EventType]EventHandler
	statusHandler EventHandler
}

type ConnectorConfig struct {
	Spec        PlatformSpec
	Credentials Credentials
	Graph       *GraphClient // required for SendText
	Logger      *slog.Logger
}

func NewConnector(cfg ConnectorConfig) *Connector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("platform", cfg.Spec.Platform)
	return &Connector{
		spec:  cfg.Spec,
		creds: cfg.Credentials,
		verifier: Verifier{
			Platform:  cfg.Spec.Platform,
			Header:    cfg.Spec.SignatureHeader,
			Algorithm: cfg.Spec.Algorithm,
			Secret:    cfg.Credentials.AppSecret,
			Logger:    logger,
		},
		graph:    cfg.Graph,
		logger:   logger,
		handlers: make(map[domain.EventType]EventHandler),
	}
}

func (c *Connector) Platform() domain.Platform { return c.spec.Platform }

// On registers the handler for an event type. Registering twice replaces the
// previous handler. Must be called before traffic starts.
func (c *Connector) On(t domain.EventType, h EventHandler) {
	c.handlers[t] = h
}

// OnStatus registers one handler for every status_<value> event.
func (c *Connector) OnStatus(h EventHandler) {
	c.statusHandler = h
}

// Handshake answers the subscription challenge. The challenge is returned
// verbatim when mode is "subscribe" and the token matches. An unconfigured
// verify token never matches.
func (c *Connector) Handshake(query url.Values) (string, error) {
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" {
		metrics.WebhookRequests(string(c.spec.Platform), "handshake_failed").Inc()
		return "", &domain.VerificationError{Platform: c.spec.Platform, Reason: fmt.Sprintf("unexpected hub.mode %q", mode)}
	}
	if c.creds.VerifyToken == "" {
		metrics.WebhookRequests(string(c.spec.Platform), "handshake_failed").Inc()
		return "", &domain.VerificationError{Platform: c.spec.Platform, Reason: "verify token is not configured"}
	}
	if token != c.creds.VerifyToken {
		metrics.WebhookRequests(string(c.spec.Platform), "handshake_failed").Inc()
		return "", &domain.VerificationError{Platform: c.spec.Platform, Reason: "verify token mismatch"}
	}

	c.logger.Info("webhook subscription verified")
	metrics.WebhookRequests(string(c.spec.Platform), "handshake_ok").Inc()
	return challenge, nil
}

// HandleWebhook verifies, parses, classifies and dispatches one delivery.
// Signature and parse failures return a typed error before any handler runs.
// Per-event failures never fail the delivery; they are reported in the result.
func (c *Connector) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookResult, error) {
	result := &WebhookResult{Platform: c.spec.Platform, State: StateUnverified}
	platform := string(c.spec.Platform)

	skipped, err := c.verifier.Check(headers, body)
	if err != nil {
		c.logger.Warn("webhook rejected", "error", err)
		metrics.WebhookRequests(platform, "bad_signature").Inc()
		return nil, err
	}
	result.SignatureSkipped = skipped
	result.State = StateVerified

	env, err := parseEnvelope(c.spec.Platform, body)
	if err != nil {
		c.logger.Warn("webhook body rejected", "error", err)
		metrics.WebhookRequests(platform, "bad_json").Inc()
		return nil, err
	}

	events := c.spec.classify(c.spec.Platform, env)
	result.State = StateClassified
	c.logger.Debug("webhook classified", "object", env.Object, "events", len(events))

	result.Results = make([]domain.EventResult, 0, len(events))
	for _, ev := range events {
		r := c.dispatch(ctx, ev)
		metrics.EventsTotal(platform, string(ev.Type), r.Status).Inc()
		result.Results = append(result.Results, r)
	}
	result.State = StateDispatched
	metrics.WebhookRequests(platform, "accepted").Inc()
	return result, nil
}

func (c *Connector) handlerFor(t domain.EventType) (EventHandler, bool) {
	if h, ok := c.handlers[t]; ok {
		return h, true
	}
	if t.IsStatus() && c.statusHandler != nil {
		return c.statusHandler, true
	}
	return nil, false
}

// dispatch runs one event's handler, converting errors and panics into an
// error result so sibling events still run.
func (c *Connector) dispatch(ctx context.Context, ev domain.Event) (res domain.EventResult) {
	res = domain.EventResult{Identifier: ev.Identifier, EventType: ev.Type}

	h, ok := c.handlerFor(ev.Type)
	if !ok {
		res.Status = domain.StatusIgnored
		c.logger.Debug("event ignored", "event", ev.Type, "identifier", ev.Identifier)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				"event", ev.Type, "identifier", ev.Identifier, "panic", r, "stack", string(debug.Stack()))
			res.Status = domain.StatusError
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := h(ctx, ev); err != nil {
		c.logger.Error("event handler failed", "event", ev.Type, "identifier", ev.Identifier, "error", err)
		res.Status = domain.StatusError
		res.Error = err.Error()
		return res
	}
	res.Status = domain.StatusProcessed
	return res
}

// SendText delivers a text reply to recipientID on this connector's platform.
func (c *Connector) SendText(ctx context.Context, recipientID, text string) (*domain.SendReceipt, error) {
	if c.graph == nil {
		return nil, fmt.Errorf("%s connector has no outbound client", c.spec.Platform)
	}
	receipt, err := c.spec.send(ctx, c.graph, c.creds, recipientID, text)
	if err != nil {
		metrics.MessagesSent(string(c.spec.Platform), "error").Inc()
		return nil, err
	}
	metrics.MessagesSent(string(c.spec.Platform), "sent").Inc()
	c.logger.Info("reply sent", "recipient", recipientID, "message_id", receipt.MessageID)
	return receipt, nil
}

var _ domain.Outbound = (*Connector)(nil)
