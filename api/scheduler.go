/*
scheduler.go - Periodic balance reconciliation

PURPOSE:
  Replays every employee's audit trail on a fixed interval and reports
  employees whose cached remaining balance disagrees with it. Divergences
  are logged and exported as a gauge by the engine; balances are never
  corrected automatically.

DESIGN:
  - Run blocks until its context is cancelled, so cmd/server can put it in
    the same errgroup as the HTTP server
  - Runs once immediately, then on every tick
  - RunOnce is also called by POST /api/reconciliation/run
  - The last report is kept for GET /api/reconciliation/last

SEE ALSO:
  - leave/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

// ReconciliationScheduler runs the reconciler periodically and on demand.
type ReconciliationScheduler struct {
	reconciler *leave.Reconciler
	interval   time.Duration
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	lastRun time.Time
	last    *leave.ReconcileReport
}

func NewReconciliationScheduler(reconciler *leave.Reconciler, interval time.Duration, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		reconciler: reconciler,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Named("scheduler"),
	}
}

// Run reconciles immediately and then every interval until ctx is done.
// A failed pass is logged and retried on the next tick.
func (s *ReconciliationScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	s.logger.Info("reconciliation scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *ReconciliationScheduler) tick(ctx context.Context) {
	if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
	}
}

// RunOnce performs one reconciliation pass and records it as the last run.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) (time.Time, *leave.ReconcileReport, error) {
	ranAt := s.now()
	report, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		return ranAt, nil, err
	}

	s.mu.Lock()
	s.lastRun = ranAt
	s.last = report
	s.mu.Unlock()

	if !report.Consistent() {
		s.logger.Warn("balances diverge from audit trail",
			zap.Int("employees", report.DivergentEmployees()),
			zap.Int("divergences", len(report.Divergences)),
		)
	}
	return ranAt, report, nil
}

// Last returns the most recent completed run; report is nil before the
// first one.
func (s *ReconciliationScheduler) Last() (time.Time, *leave.ReconcileReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.last
}
