// Package dispatch hands accepted reports to a worker that runs the
// pipeline, detached from the request that created them.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

// ErrQueueFull is returned when the in-process queue cannot take another job.
var ErrQueueFull = eris.New("dispatch: queue full")

// Runner processes one report to a terminal state. It returns an error
// only when the report was left unfinished and should be redelivered.
type Runner interface {
	Run(ctx context.Context, id string) (*model.Report, error)
}

// Dispatcher enqueues a report id for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) error
}

// runJob runs one report with an optional timeout and logs the outcome.
func runJob(ctx context.Context, runner Runner, id string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	r, err := runner.Run(ctx, id)
	if err != nil {
		zap.L().Error("dispatch: job failed",
			zap.String("report_id", id),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	zap.L().Info("dispatch: job finished",
		zap.String("report_id", id),
		zap.String("status", string(r.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// shuttingDown reports whether err comes from the worker's own context
// ending rather than from the job.
func shuttingDown(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// permanent reports whether redelivering the job can never succeed.
func permanent(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
