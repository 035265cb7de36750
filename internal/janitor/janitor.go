// Package janitor sweeps finished job records on a schedule so the store does
// not grow without bound. Only terminal records past the retention age are
// removed; scheduled and running jobs are never touched.
package janitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"workq/internal/queue"
	logx "workq/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string        // cron spec or "@every ..."; default "@every 1h"
	MaxAge   time.Duration // default 24h
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = "@every 1h"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	q      *queue.Queue
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, q *queue.Queue, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		q:      q,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("retention sweep scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("max_age", s.cfg.MaxAge),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply reconfigures the sweep at runtime (config hot reload).
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := cfg.Enabled != s.cfg.Enabled || cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg
	if !restart {
		return nil
	}

	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	if !cfg.Enabled {
		s.log.Info("retention sweep disabled")
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) sweep(ctx context.Context) {
	s.mu.Lock()
	age := s.cfg.MaxAge
	s.mu.Unlock()

	start := time.Now()
	if err := s.q.ClearOlderThan(ctx, age); err != nil {
		s.log.Warn("retention sweep failed", logx.Err(err))
		return
	}
	s.log.Debug("retention sweep done", logx.Duration("took", time.Since(start)))
}
