package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/robfig/cron/v3"
)

const tickSpec = "@every 1m"

// Service checks for due reminders once a minute.
type Service struct {
	store   *Store
	runner  *Runner
	lead    time.Duration
	cron    *cron.Cron
	now     func() time.Time
	started bool
}

// NewService creates a cron-backed reminder service. A reminder is due once
// its event starts within lead.
func NewService(store *Store, runner *Runner, lead time.Duration, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:  store,
		runner: runner,
		lead:   lead,
		now:    time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
}

// Start registers the tick and starts cron execution.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return errors.New("scheduler already started")
	}
	if _, err := s.cron.AddFunc(tickSpec, func() {
		if _, err := s.Tick(ctx); err != nil {
			logging.Logger().Warn("reminder tick failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register reminder tick: %w", err)
	}

	s.cron.Start()
	s.started = true
	logging.Logger().Info("scheduler started", "lead", s.lead)
	return nil
}

// Stop stops cron and waits for in-flight callbacks to finish or ctx cancellation.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}

	doneCtx := s.cron.Stop()
	s.started = false
	select {
	case <-doneCtx.Done():
		logging.Logger().Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick sends every due reminder and marks it fired. Reminders whose event has
// already started are marked fired without sending. It returns the number
// sent.
func (s *Service) Tick(ctx context.Context) (int, error) {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var fired []string
	sent := 0
	for _, rem := range pending {
		switch {
		case !now.Before(rem.Start):
			fired = append(fired, rem.ID)
		case rem.Start.Sub(now) <= s.lead:
			if err := s.runner.Notify(ctx, rem); err != nil {
				logging.Logger().Warn("reminder send failed", "reminder_id", rem.ID, "err", err)
				continue
			}
			fired = append(fired, rem.ID)
			sent++
		}
	}
	if err := s.store.MarkFired(ctx, fired...); err != nil {
		return sent, err
	}
	if sent > 0 {
		logging.Logger().Info("reminders sent", "count", sent)
	}
	return sent, nil
}
