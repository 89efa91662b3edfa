package conversation

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestContext_EvictsOldestAtCap(t *testing.T) {
	s := NewStore(StoreConfig{MaxHistory: 10, Logger: testLogger()})
	c := s.GetOrCreate("whatsapp_1", domain.PlatformWhatsApp, "1")

	base := time.Unix(1700000000, 0)
	for i := 0; i < 10; i++ {
		c.Append(domain.RoleUser, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, 10, c.Len())

	c.Append(domain.RoleUser, "m10", base.Add(10*time.Second))
	h := c.History()
	require.Len(t, h, 10)
	assert.Equal(t, "m1", h[0].Content, "exactly the oldest entry is evicted")
	assert.Equal(t, "m10", h[9].Content)

	for i := 11; i < 30; i++ {
		c.Append(domain.RoleAssistant, fmt.Sprintf("m%d", i), base)
		assert.Equal(t, 10, c.Len())
	}
	assert.Equal(t, "m20", c.History()[0].Content)
}

func TestContext_HistoryIsACopy(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	c := s.GetOrCreate("c", domain.PlatformFacebook, "u")
	c.Append(domain.RoleUser, "hi", time.Now())

	h := c.History()
	h[0].Content = "mutated"
	assert.Equal(t, "hi", c.History()[0].Content)
}

func TestStore_GetOrCreateIsLazyAndStable(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	_, ok := s.Get("facebook_U1")
	assert.False(t, ok)

	a := s.GetOrCreate("facebook_U1", domain.PlatformFacebook, "U1")
	b := s.GetOrCreate("facebook_U1", domain.PlatformFacebook, "U1")
	assert.Same(t, a, b)
	assert.Equal(t, DefaultMaxHistory, a.MaxHistory)
	assert.Equal(t, 1, s.Len())
}

func TestStore_EvictIdle(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	old := s.GetOrCreate("old", domain.PlatformFacebook, "1")
	fresh := s.GetOrCreate("fresh", domain.PlatformFacebook, "2")
	old.Append(domain.RoleUser, "x", now.Add(-2*time.Hour))
	fresh.Append(domain.RoleUser, "y", now.Add(-time.Minute))

	assert.Equal(t, 0, s.EvictIdle(0), "zero ttl disables eviction")
	assert.Equal(t, 1, s.EvictIdle(time.Hour))
	_, ok := s.Get("old")
	assert.False(t, ok)
	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	sw := NewSweeper(SweeperConfig{Store: NewStore(StoreConfig{}), TTL: time.Minute, Schedule: "not a schedule", Logger: testLogger()})
	assert.Error(t, sw.Start())
}

func TestSweeper_SweepNow(t *testing.T) {
	s := NewStore(StoreConfig{Logger: testLogger()})
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	s.GetOrCreate("a", domain.PlatformWhatsApp, "a").Append(domain.RoleUser, "x", now.Add(-time.Hour))

	sw := NewSweeper(SweeperConfig{Store: s, TTL: time.Minute, Logger: testLogger()})
	require.NoError(t, sw.Start())
	defer sw.Stop()

	sw.Sweep()
	assert.Equal(t, 0, s.Len())
}

func TestLocker_SerializesPerKey(t *testing.T) {
	l := NewLocker()
	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("whatsapp_1")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, l.size(), "entries are dropped once released")
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
