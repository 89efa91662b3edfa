package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProvider fails the first failTimes calls (all calls when failTimes < 0).
type fakeProvider struct {
	name      string
	err       error
	failTimes int
	content   string
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	f.calls++
	if f.failTimes < 0 || f.calls <= f.failTimes {
		return nil, f.err
	}
	return &domain.GenerateResult{Content: f.content}, nil
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func halfJitter(max time.Duration) time.Duration { return max / 2 }

func newTestChain(primary, fallback domain.Provider, attempts int, rec *sleepRecorder) *Chain {
	return NewChain(ChainConfig{
		Primary:     primary,
		Fallback:    fallback,
		MaxAttempts: attempts,
		BaseDelay:   100 * time.Millisecond,
		Logger:      testLogger(),
		Sleep:       rec.sleep,
		Jitter:      halfJitter,
	})
}

func TestChain_CapacityRetriesThenFallsBackOnce(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("429 rate limit exceeded"), failTimes: -1}
	fallback := &fakeProvider{name: "fallback", content: "canned reply"}
	rec := &sleepRecorder{}

	res, err := newTestChain(primary, fallback, 4, rec).Generate(context.Background(), domain.GenerateRequest{})
	require.NoError(t, err)

	assert.Equal(t, 4, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	require.Len(t, rec.sleeps, 3, "no sleep after the final attempt")
	assert.Equal(t, []time.Duration{
		100*time.Millisecond + 500*time.Millisecond,
		200*time.Millisecond + 500*time.Millisecond,
		400*time.Millisecond + 500*time.Millisecond,
	}, rec.sleeps)
	for i := 1; i < len(rec.sleeps); i++ {
		assert.Greater(t, rec.sleeps[i], rec.sleeps[i-1])
	}

	assert.Equal(t, "canned reply", res.Content)
	assert.Equal(t, "fallback", res.Provider)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "primary", res.Metadata["fallback_from"])
	assert.Contains(t, res.Metadata["original_error"], "rate limit")
}

func TestChain_NonCapacityErrorNeverFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("invalid request: bad model"), failTimes: -1}
	fallback := &fakeProvider{name: "fallback", content: "unused"}
	rec := &sleepRecorder{}

	_, err := newTestChain(primary, fallback, 4, rec).Generate(context.Background(), domain.GenerateRequest{})
	require.Error(t, err)

	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "primary", pe.Provider)
	assert.Equal(t, 4, pe.Attempts)
	assert.False(t, pe.Capacity)
	assert.Equal(t, 4, primary.calls)
	assert.Equal(t, 0, fallback.calls)
	assert.Equal(t, []time.Duration{
		100*time.Millisecond + 250*time.Millisecond,
		150*time.Millisecond + 250*time.Millisecond,
		225*time.Millisecond + 250*time.Millisecond,
	}, rec.sleeps)
}

func TestChain_RecoversBeforeBudget(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("model overloaded"), failTimes: 2, content: "ok"}
	rec := &sleepRecorder{}

	res, err := newTestChain(primary, nil, 5, rec).Generate(context.Background(), domain.GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "primary", res.Provider)
	assert.Len(t, rec.sleeps, 2)
}

func TestChain_NoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("quota exceeded"), failTimes: -1}
	_, err := newTestChain(primary, nil, 2, &sleepRecorder{}).Generate(context.Background(), domain.GenerateRequest{})

	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.True(t, pe.Capacity)
	assert.Equal(t, 2, pe.Attempts)
}

func TestChain_FallbackFailureIsReported(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("503 service unavailable"), failTimes: -1}
	fallback := &fakeProvider{name: "fallback", err: errors.New("also broken"), failTimes: -1}

	_, err := newTestChain(primary, fallback, 2, &sleepRecorder{}).Generate(context.Background(), domain.GenerateRequest{})
	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "fallback", pe.Provider)
	assert.Equal(t, 2, fallback.calls, "fallback gets its own attempt budget")
}

func TestChain_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &fakeProvider{name: "primary", err: errors.New("rate limit"), failTimes: -1}
	fallback := &fakeProvider{name: "fallback", content: "x"}
	rec := &sleepRecorder{}

	_, err := newTestChain(primary, fallback, 5, rec).Generate(ctx, domain.GenerateRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls)
	assert.Empty(t, rec.sleeps)
}

func TestChain_DefaultJitterBounds(t *testing.T) {
	c := NewChain(ChainConfig{Primary: &fakeProvider{name: "p"}, Logger: testLogger()})
	for i := 0; i < 50; i++ {
		d := c.backoff(1, true)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)

		d = c.backoff(2, false)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.Less(t, d, 2*time.Second)
	}
}

func TestSleepContext_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsCapacity(t *testing.T) {
	cases := map[string]bool{
		"HTTP 429":                         true,
		"Rate Limit reached":               true,
		"rate_limit_error":                 true,
		"Too Many Requests":                true,
		"server at capacity":               true,
		"overloaded_error":                 true,
		"insufficient quota":               true,
		"RESOURCE EXHAUSTED":               true,
		"503 Service Unavailable":          true,
		"invalid request":                  false,
		"context length exceeded":          false,
		"401 unauthorized: bad credential": false,
	}
	for msg, want := range cases {
		assert.Equal(t, want, isCapacity(errors.New(msg)), msg)
	}
	assert.False(t, isCapacity(nil))
}
