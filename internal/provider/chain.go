package provider

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/metrics"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second

	capacityJitter = time.Second
	otherJitter    = 500 * time.Millisecond
)

// Chain retries a primary backend with backoff and, when the primary ends on a
// capacity-class error, hands the request to one fallback backend.
type Chain struct {
	primary     domain.Provider
	fallback    domain.Provider
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func(max time.Duration) time.Duration
	logger      *slog.Logger
}

type ChainConfig struct {
	Primary     domain.Provider
	Fallback    domain.Provider // optional; never chained further
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger

	// Test hooks.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

func NewChain(cfg ChainConfig) *Chain {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Jitter == nil {
		cfg.Jitter = randomJitter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chain{
		primary:     cfg.Primary,
		fallback:    cfg.Fallback,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		sleep:       cfg.Sleep,
		jitter:      cfg.Jitter,
		logger:      cfg.Logger,
	}
}

func (c *Chain) Name() string { return c.primary.Name() }

func (c *Chain) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	res, err := c.run(ctx, c.primary, req)
	if err == nil {
		return res, nil
	}

	pe, _ := domain.AsProviderError(err)
	if c.fallback == nil || pe == nil || !pe.Capacity || ctx.Err() != nil {
		return nil, err
	}

	metrics.ProviderFallbacks(c.primary.Name(), c.fallback.Name()).Inc()
	c.logger.Warn("primary provider at capacity, using fallback",
		"provider", c.primary.Name(), "fallback", c.fallback.Name(), "attempts", pe.Attempts, "error", pe.Err)

	res, ferr := c.run(ctx, c.fallback, req)
	if ferr != nil {
		c.logger.Error("fallback provider failed", "provider", c.fallback.Name(), "error", ferr)
		return nil, ferr
	}
	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	res.Metadata["fallback_from"] = c.primary.Name()
	res.Metadata["original_error"] = pe.Err.Error()
	return res, nil
}

// run calls p up to maxAttempts times, sleeping between attempts only.
func (c *Chain) run(ctx context.Context, p domain.Provider, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attempts = attempt
		start := time.Now()
		res, err := p.Generate(ctx, req)
		metrics.ProviderAttempts(p.Name()).Inc()
		metrics.ProviderLatency.Observe(time.Since(start).Seconds())

		if err == nil && res != nil {
			res.Attempts = attempt
			if res.Provider == "" {
				res.Provider = p.Name()
			}
			if attempt > 1 {
				c.logger.Info("provider recovered", "provider", p.Name(), "attempt", attempt)
			}
			return res, nil
		}
		if err == nil {
			err = errEmptyResult
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		delay := c.backoff(attempt, isCapacity(err))
		c.logger.Warn("provider call failed, will retry",
			"provider", p.Name(), "attempt", attempt, "backoff", delay, "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	return nil, &domain.ProviderError{
		Provider: p.Name(),
		Attempts: attempts,
		Capacity: isCapacity(lastErr),
		Err:      lastErr,
	}
}

// backoff returns the delay after the given 1-based attempt.
// Capacity errors: base*2^(n-1) + U(0,1s). Others: base*1.5^(n-1) + U(0,0.5s).
func (c *Chain) backoff(attempt int, capacity bool) time.Duration {
	factor, jitter := 1.5, otherJitter
	if capacity {
		factor, jitter = 2, capacityJitter
	}
	d := time.Duration(float64(c.baseDelay) * math.Pow(factor, float64(attempt-1)))
	return d + c.jitter(jitter)
}

func isCapacity(err error) bool {
	return domain.IsCapacityError(err) || isOpenAICapacity(err)
}

var errEmptyResult = errors.New("provider returned no result")

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randomJitter returns a uniform duration in [0, max).
func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
