// Package scheduler triggers a collection once a day.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Func runs one scheduled collection for window.
type Func func(ctx context.Context, window registry.Window) error

// Config sets the daily trigger.
type Config struct {
	// At is the local trigger time, HH:MM.
	At           string
	Location     *time.Location
	LookbackDays int
}

// Scheduler calls a Func every day at a fixed local time.
type Scheduler struct {
	hour, minute int
	loc          *time.Location
	lookback     int
	fn           Func
	clock        registry.Clock
	wait         func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// New validates cfg and builds a Scheduler.
func New(cfg Config, fn Func, clock registry.Clock, logger *zap.Logger) (*Scheduler, error) {
	at, err := time.Parse("15:04", cfg.At)
	if err != nil {
		return nil, fmt.Errorf("parse trigger time %q: %w", cfg.At, err)
	}
	if cfg.LookbackDays < 0 {
		return nil, errors.New("lookback days must be >= 0")
	}
	loc := cfg.Location
	if loc == nil {
		loc = registry.Moscow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		hour:     at.Hour(),
		minute:   at.Minute(),
		loc:      loc,
		lookback: cfg.LookbackDays,
		fn:       fn,
		clock:    clock,
		wait:     sleep,
		logger:   logger.Named("scheduler"),
	}, nil
}

// Next returns the first trigger strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Window returns [today - lookback, today] for the trigger day of now.
func (s *Scheduler) Window(now time.Time) (registry.Window, error) {
	today := now.In(s.loc)
	return registry.NewWindow(today.AddDate(0, 0, -s.lookback), today)
}

// Run blocks until ctx ends. A failed run is logged and the schedule goes on.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.Next(s.clock.Now())
		s.logger.Info("next run scheduled", zap.Time("at", next))
		if err := s.wait(ctx, next.Sub(s.clock.Now())); err != nil {
			return nil
		}
		window, err := s.Window(next)
		if err != nil {
			s.logger.Error("build window", zap.Error(err))
			continue
		}
		logger := s.logger.With(zap.Stringer("window", window))
		logger.Info("scheduled run starting")
		if err := s.fn(ctx, window); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("scheduled run failed", zap.Error(err))
			continue
		}
		logger.Info("scheduled run finished")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
