package channel

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"autoreply/internal/domain"
)

const defaultMaxBodyBytes = 1 << 20 // 1MB

// RouterConfig configures the webhook HTTP surface.
type RouterConfig struct {
	Connectors     []*Connector
	AllowedOrigins []string
	MaxBodyBytes   int64
	MetricsPath    string       // empty disables the metrics route
	Metrics        http.Handler // rendered at MetricsPath
	Logger         *slog.Logger
}

type router struct {
	connectors map[domain.Platform]*Connector
	maxBody    int64
	logger     *slog.Logger
}

// NewRouter mounts GET/POST /webhook/{platform} and /healthz.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rt := &router{
		connectors: make(map[domain.Platform]*Connector, len(cfg.Connectors)),
		maxBody:    cfg.MaxBodyBytes,
		logger:     cfg.Logger,
	}
	for _, c := range cfg.Connectors {
		rt.connectors[c.Platform()] = c
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Hub-Signature", "X-Hub-Signature-256"},
	}))

	r.Get("/healthz", rt.handleHealth)
	if cfg.MetricsPath != "" && cfg.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}
	r.Get("/webhook/{platform}", rt.handleHandshake)
	r.Post("/webhook/{platform}", rt.handleEvent)
	return r
}

func (rt *router) connector(w http.ResponseWriter, r *http.Request) (*Connector, bool) {
	name := chi.URLParam(r, "platform")
	p, ok := domain.ParsePlatform(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown platform: " + name})
		return nil, false
	}
	c, ok := rt.connectors[p]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "platform not enabled: " + name})
		return nil, false
	}
	return c, true
}

func (rt *router) handleHandshake(w http.ResponseWriter, r *http.Request) {
	c, ok := rt.connector(w, r)
	if !ok {
		return
	}
	challenge, err := c.Handshake(r.URL.Query())
	if err != nil {
		rt.logger.Warn("webhook handshake failed", "platform", c.Platform(), "error", err)
		http.Error(w, "verification failed", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

func (rt *router) handleEvent(w http.ResponseWriter, r *http.Request) {
	c, ok := rt.connector(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		rt.logger.Warn("cannot read webhook body", "platform", c.Platform(), "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read request body"})
		return
	}
	defer r.Body.Close()

	result, err := c.HandleWebhook(r.Context(), r.Header, body)
	if err != nil {
		status := http.StatusInternalServerError
		var sigErr *domain.SignatureError
		var parseErr *domain.ParseError
		switch {
		case errors.As(err, &sigErr):
			status = http.StatusForbidden
		case errors.As(err, &parseErr):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	platforms := make([]domain.Platform, 0, len(rt.connectors))
	for _, p := range domain.Platforms {
		if _, ok := rt.connectors[p]; ok {
			platforms = append(platforms, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "platforms": platforms})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
