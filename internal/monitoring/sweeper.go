// Package monitoring watches for reports that stopped making progress.
package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

const sweepBatch = 500

// Sweeper fails processing reports whose last write is older than
// staleAfter. A worker that died mid-run with its job lost would
// otherwise leave the report processing forever.
type Sweeper struct {
	store      store.Store
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewSweeper creates a sweeper. interval defaults to five minutes.
func NewSweeper(st store.Store, staleAfter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: st, staleAfter: staleAfter, interval: interval, now: time.Now}
}

// Run sweeps on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.sweeper"))
	log.Info("starting stale report sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stale report sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Error("monitoring: sweep failed", zap.Int("failed_reports", n), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Warn("monitoring: failed stale reports", zap.Int("count", n))
			}
		}
	}
}

// Sweep fails every stale processing report and returns how many it
// failed. A report that finished between the list and the write is
// skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	reports, err := s.store.ListReports(ctx, store.ReportFilter{Status: model.StatusProcessing, Limit: sweepBatch})
	if err != nil {
		return 0, eris.Wrap(err, "monitoring: list processing reports")
	}

	cutoff := s.now().Add(-s.staleAfter)
	n := 0
	for _, r := range reports {
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}
		err := s.store.UpdateStatus(ctx, r.ID, model.Transition{
			Status:        model.StatusFailed,
			FailureReason: failure.Reason(failure.SourceUnavailable, "", r.InputKind),
		})
		if errors.Is(err, store.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, eris.Wrapf(err, "monitoring: fail stale report %s", r.ID)
		}
		zap.L().Warn("monitoring: report stalled",
			zap.String("report_id", r.ID),
			zap.String("progress", r.Progress),
			zap.Time("last_update", r.UpdatedAt),
		)
		metrics.ReportsFinishedTotal.WithLabelValues(string(model.StatusFailed)).Inc()
		n++
	}
	return n, nil
}
