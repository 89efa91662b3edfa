package conversation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultSweepSchedule = "@every 10m"

// Sweeper periodically evicts idle conversation contexts.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

type SweeperConfig struct {
	Store    *Store
	TTL      time.Duration
	Schedule string // cron spec; "@every 10m" when empty
	Logger   *slog.Logger
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSweepSchedule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		schedule: cfg.Schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("conversation sweeper: invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("conversation sweeper started", "schedule", s.schedule, "ttl", s.ttl)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep evicts idle contexts once.
func (s *Sweeper) Sweep() {
	if n := s.store.EvictIdle(s.ttl); n > 0 {
		s.logger.Info("evicted idle conversations", "count", n, "remaining", s.store.Len())
	}
}
