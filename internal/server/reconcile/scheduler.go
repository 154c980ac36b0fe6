package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
)

type cycleRunner interface {
	Run(ctx context.Context)
}

type sweepRunner interface {
	Run(ctx context.Context) error
}

// Scheduler drives the row engine and the object sweeper on two
// independent timers. The reentrancy guards are process-local only:
// a tick never overlaps the previous one on this instance, while other
// instances run freely because cross-instance safety comes from the
// database row locks, not from here.
type Scheduler struct {
	engine  cycleRunner
	sweeper sweepRunner

	reconcileInterval time.Duration
	cleanupInterval   time.Duration
	logger            logging.Logger

	reconcileGuard sync.Mutex
	cleanupGuard   sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewScheduler(engine cycleRunner, sweeper sweepRunner, cfg *config.Config, logger logging.Logger) *Scheduler {
	return &Scheduler{
		engine:            engine,
		sweeper:           sweeper,
		reconcileInterval: cfg.ReconcileInterval,
		cleanupInterval:   cfg.CleanupInterval,
		logger:            logger.With("component", "scheduler"),
		done:              make(chan struct{}),
	}
}

// Start launches both timer loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, s.reconcileInterval, func(ctx context.Context) { s.RunReconcileNow(ctx) })
	go s.loop(ctx, s.cleanupInterval, func(ctx context.Context) { s.RunCleanupNow(ctx) })
	s.logger.Info(ctx, "scheduler started",
		"reconcile_interval", s.reconcileInterval.String(),
		"cleanup_interval", s.cleanupInterval.String())
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunReconcileNow triggers a reconciliation cycle immediately, still
// honoring the reentrancy guard. Returns false when a cycle is already
// in flight on this instance.
func (s *Scheduler) RunReconcileNow(ctx context.Context) bool {
	if !s.reconcileGuard.TryLock() {
		s.logger.Debug(ctx, "reconciliation cycle still running, tick skipped")
		return false
	}
	defer s.reconcileGuard.Unlock()

	s.engine.Run(ctx)
	return true
}

// RunCleanupNow triggers an object sweep immediately, honoring the
// cleanup guard.
func (s *Scheduler) RunCleanupNow(ctx context.Context) bool {
	if !s.cleanupGuard.TryLock() {
		s.logger.Debug(ctx, "object sweep still running, tick skipped")
		return false
	}
	defer s.cleanupGuard.Unlock()

	if err := s.sweeper.Run(ctx); err != nil {
		s.logger.Error(ctx, "object sweep failed", "error", err)
	}
	return true
}

// Stop signals both timer loops to exit without waiting for an
// in-flight cycle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// StopAndWait stops the timers and blocks until any in-flight cycle,
// including one triggered via RunReconcileNow or RunCleanupNow, has
// completed. Used for graceful shutdown.
func (s *Scheduler) StopAndWait() {
	s.Stop()
	s.wg.Wait()

	waitGuard(&s.reconcileGuard)
	waitGuard(&s.cleanupGuard)
}

// waitGuard blocks until the guard is free: acquiring it proves no
// cycle holds it anymore.
func waitGuard(mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
}
