package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"autoreply/internal/config"
	"autoreply/internal/domain"
)

// Constructor creates a raw backend from a config entry.
type Constructor func(name string, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider

// constructors maps config.ProviderConfig.Kind to a backend constructor.
var constructors = map[string]Constructor{
	"openai": func(name string, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			Name:        name,
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			Model:       pc.DefaultModel,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			HTTPClient:  client,
			Logger:      logger,
		})
	},
	"claude": func(name string, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			Name:        name,
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			Model:       pc.DefaultModel,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			HTTPClient:  client,
			Logger:      logger,
		})
	},
}

// Registry maps provider names to providers. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.Provider)}
}

// Register adds p under p.Name(), replacing any previous entry.
func (r *Registry) Register(p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (domain.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry registers the rules responder plus every enabled remote
// backend wrapped in a Chain. The chain's fallback is cfg.FallbackProvider
// as a raw backend, so a fallback never falls back again.
func BuildRegistry(cfg config.AIConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rules = append(rules, Rule{Name: rc.Name, Keywords: rc.Keywords, Reply: rc.Reply})
	}

	raw := map[string]domain.Provider{RulesName: NewRules(rules)}
	client := SharedHTTPClient(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var remote []string
	for _, name := range names {
		pc := cfg.Providers[name]
		if !pc.Enabled || name == RulesName {
			continue
		}
		ctor, ok := constructors[pc.Kind]
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown kind %q", name, pc.Kind)
		}
		raw[name] = ctor(name, pc, client, logger.With("provider", name))
		remote = append(remote, name)
	}

	reg := NewRegistry()
	reg.Register(raw[RulesName])

	for _, name := range remote {
		var fallback domain.Provider
		if fb := cfg.FallbackProvider; fb != "" && fb != name {
			if p, ok := raw[fb]; ok {
				fallback = p
			} else {
				logger.Warn("fallback provider is not enabled, chain has no fallback", "provider", name, "fallback", fb)
			}
		}
		reg.Register(NewChain(ChainConfig{
			Primary:     raw[name],
			Fallback:    fallback,
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay(),
			Logger:      logger,
		}))
	}

	if _, ok := reg.Get(cfg.DefaultProvider); !ok {
		return nil, fmt.Errorf("default provider %q is not enabled", cfg.DefaultProvider)
	}

	logger.Info("providers registered", "providers", reg.Names(), "default", cfg.DefaultProvider, "fallback", cfg.FallbackProvider)
	return reg, nil
}
