// stale_job_sweeper.go implements the StaleJobSweeper background job, which
// periodically fails ingestion jobs stuck in running status past their
// processing deadline. A job can be orphaned mid-run by a server restart; its
// database row would otherwise stay running forever and block resubmission of
// the same file. Sweeping it to failed lets the caller retry.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// StaleJobStore is the repository surface the sweeper needs.
type StaleJobStore interface {
	MarkStaleJobsFailed(ctx context.Context, deadline time.Duration) (int64, error)
}

// StaleJobSweeper periodically fails ingestion jobs that exceeded their
// processing deadline.
type StaleJobSweeper struct {
	store    StaleJobStore
	interval time.Duration
	deadline time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
}

// NewStaleJobSweeper creates a sweeper. interval controls how often the sweep
// runs; deadline is the maximum age of a running job before it is failed.
func NewStaleJobSweeper(store StaleJobStore, interval, deadline time.Duration, logger *slog.Logger) *StaleJobSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}
	return &StaleJobSweeper{
		store:    store,
		interval: interval,
		deadline: deadline,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop. It runs one sweep immediately, then repeats on
// the configured interval until ctx is cancelled or Stop is called.
func (s *StaleJobSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("stale job sweeper started", "interval", s.interval, "deadline", s.deadline)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("stale job sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("stale job sweeper stopped")
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *StaleJobSweeper) Stop() {
	close(s.stopChan)
}

func (s *StaleJobSweeper) sweep(ctx context.Context) {
	swept, err := s.store.MarkStaleJobsFailed(ctx, s.deadline)
	if err != nil {
		s.logger.Error("stale job sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Warn("failed stale ingestion jobs", "count", swept)
	}
}
