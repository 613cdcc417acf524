package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/villasync/internal/calsync"
	"go.uber.org/zap"
)

// SyncRunner is satisfied by *calsync.Job.
type SyncRunner interface {
	Run(ctx context.Context) (calsync.SyncResult, error)
}

// Scheduler re-runs the calendar sync on a fixed interval. A failed run is
// logged and retried on the next tick; runs never overlap.
type Scheduler struct {
	Job      SyncRunner
	Interval time.Duration
	Logger   *zap.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// Start runs the scheduler in the background. The returned channel is closed
// once Run has returned, which is after any in-flight sync has finished.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Logger.Warn("scheduler stopped", zap.Error(err))
		}
	}()
	return done
}

// Run blocks until ctx is done and every sync it started has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.Logger.Warn("previous calendar sync still running; skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		res, err := s.Job.Run(ctx)
		if err != nil {
			s.Logger.Warn("scheduled calendar sync failed; will retry next tick",
				zap.String("run_id", res.RunID.String()),
				zap.Duration("interval", s.Interval),
				zap.Error(err),
			)
		}
	}()
}
