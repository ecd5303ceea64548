package worker

import (
	"context"
	"sync"
	"time"

	"github.com/girasoltours/newsletter/internal/config"
	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/pkg/distlock"
	"github.com/girasoltours/newsletter/internal/pkg/logger"
)

// SweeperStore is the subscriber maintenance surface the sweeper needs.
type SweeperStore interface {
	DeleteStalePending(ctx context.Context, cutoff time.Time) ([]string, error)
	ListOverduePending(ctx context.Context, cutoff time.Time) ([]*newsletter.Subscriber, error)
}

// ConfirmationResender re-enqueues a confirmation email for a pending
// subscriber. *newsletter.Service satisfies it.
type ConfirmationResender interface {
	EnqueueConfirmation(ctx context.Context, sub *newsletter.Subscriber) error
}

// Sweeper runs the periodic maintenance pass: purge unconfirmed records
// past the grace period, then resend confirmations to the pending records
// that remain. Purge runs first so a record straddling both cutoffs is
// deleted, not emailed.
type Sweeper struct {
	store    SweeperStore
	resender ConfirmationResender
	lock     distlock.DistLock
	cfg      config.SweeperConfig
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a maintenance sweeper.
func NewSweeper(store SweeperStore, resender ConfirmationResender, lock distlock.DistLock, cfg config.SweeperConfig) *Sweeper {
	return &Sweeper{
		store:    store,
		resender: resender,
		lock:     lock,
		cfg:      cfg,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop. The first sweep runs after one interval,
// not at startup, so process restarts don't stampede.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	logger.Info("sweeper started",
		"interval", s.cfg.Interval.String(),
		"purge_grace_days", s.cfg.PurgeGraceDays,
		"resend_after_hours", s.cfg.ResendAfterHours)
}

// Stop cancels the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// RunOnce executes a single sweep under the distributed lock. Exported so
// an operator can trigger a sweep out of band.
func (s *Sweeper) RunOnce(ctx context.Context) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		logger.Warn("acquiring sweeper lock", "err", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			logger.Warn("releasing sweeper lock", "err", err)
		}
	}()

	now := s.clock()
	s.purge(ctx, now)
	s.resend(ctx, now)
}

func (s *Sweeper) purge(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -s.cfg.PurgeGraceDays)
	emails, err := s.store.DeleteStalePending(ctx, cutoff)
	if err != nil {
		logger.Error("purging stale pending subscribers", "err", err)
		return
	}
	if len(emails) == 0 {
		return
	}
	logger.Info("purged stale pending subscribers", "count", len(emails))
	for _, email := range emails {
		logger.Debug("purged subscriber", "email", email)
	}
}

func (s *Sweeper) resend(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.ResendAfterHours) * time.Hour)
	subs, err := s.store.ListOverduePending(ctx, cutoff)
	if err != nil {
		logger.Error("listing overdue pending subscribers", "err", err)
		return
	}

	resent := 0
	for _, sub := range subs {
		if err := s.resender.EnqueueConfirmation(ctx, sub); err != nil {
			logger.Error("re-enqueuing confirmation", "email", sub.Email, "err", err)
			continue
		}
		resent++
	}
	if resent > 0 {
		logger.Info("confirmation reminders enqueued", "count", resent)
	}
}
