package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

const (
	popTimeout         = time.Second
	defaultMaxAttempts = 5
	giveUpWrite        = 10 * time.Second
)

// ReportFailer records the terminal failure of a job the queue gives up on.
type ReportFailer interface {
	GetReport(ctx context.Context, id string) (*model.Report, error)
	UpdateStatus(ctx context.Context, id string, t model.Transition) error
}

// RedisQueue is a reliable list-based queue. A consumer atomically moves
// an id from the pending list to the processing list and removes it only
// once the run ends, so a crashed worker's jobs can be recovered.
type RedisQueue struct {
	rdb         *redis.Client
	pending     string
	processing  string
	attempts    string
	maxAttempts int
	reports     ReportFailer
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithMaxAttempts caps how many times an erroring job is run before the
// queue drops it.
func WithMaxAttempts(n int) RedisOption {
	return func(q *RedisQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithReportFailer marks dropped jobs' reports failed.
func WithReportFailer(f ReportFailer) RedisOption {
	return func(q *RedisQueue) { q.reports = f }
}

// NewRedisQueue creates a queue stored under name.
func NewRedisQueue(rdb *redis.Client, name string, opts ...RedisOption) *RedisQueue {
	if name == "" {
		name = "renovation:reports"
	}
	q := &RedisQueue{
		rdb:         rdb,
		pending:     name,
		processing:  name + ":processing",
		attempts:    name + ":attempts",
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Dispatch implements Dispatcher.
func (q *RedisQueue) Dispatch(ctx context.Context, id string) error {
	if err := q.rdb.LPush(ctx, q.pending, id).Err(); err != nil {
		return eris.Wrapf(err, "dispatch: enqueue %s", id)
	}
	zap.L().Debug("dispatch: job enqueued", zap.String("report_id", id), zap.String("queue", q.pending))
	return nil
}

// Len returns the number of pending and in-flight jobs.
func (q *RedisQueue) Len(ctx context.Context) (pending, inFlight int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.pending)
	f := pipe.LLen(ctx, q.processing)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "dispatch: queue length")
	}
	return p.Val(), f.Val(), nil
}

// RecoverInFlight moves every job left in the processing list back to
// pending. Run it once at worker startup, before Consume.
func (q *RedisQueue) RecoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.processing, q.pending).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, eris.Wrap(err, "dispatch: recover in-flight jobs")
		}
		n++
	}
	if n > 0 {
		zap.L().Warn("dispatch: requeued in-flight jobs", zap.Int("count", n))
	}
	return n, nil
}

// Consume runs workers that pull jobs until ctx is canceled. A job whose
// run returns an error is put back on the pending list until it has run
// maxAttempts times, after which its report is failed and the job dropped.
// A job interrupted by the worker shutting down stays in processing for
// RecoverInFlight.
func (q *RedisQueue) Consume(ctx context.Context, runner Runner, workers int, timeout time.Duration) error {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.consume(ctx, runner, timeout); err != nil {
				errs <- err
			}
		}()
	}
	zap.L().Info("dispatch: consuming", zap.String("queue", q.pending), zap.Int("workers", workers))
	wg.Wait()
	close(errs)
	return <-errs
}

func (q *RedisQueue) consume(ctx context.Context, runner Runner, timeout time.Duration) error {
	for ctx.Err() == nil {
		id, err := q.rdb.BRPopLPush(ctx, q.pending, q.processing, popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return eris.Wrap(err, "dispatch: pop job")
		}

		runErr := runJob(ctx, runner, id, timeout)
		if runErr != nil && shuttingDown(ctx, runErr) {
			return nil
		}
		actx := context.WithoutCancel(ctx)
		requeue := runErr != nil && !permanent(runErr)
		if requeue {
			n, err := q.rdb.HIncrBy(actx, q.attempts, id, 1).Result()
			if err != nil {
				return eris.Wrapf(err, "dispatch: count attempts %s", id)
			}
			if n >= int64(q.maxAttempts) {
				q.giveUp(actx, id, n, runErr)
				requeue = false
			}
		}
		if err := q.ack(actx, id, requeue); err != nil {
			return err
		}
	}
	return nil
}

// giveUp fails the report of a job that kept erroring. When that write
// fails too the report stays processing and the stale sweeper ends it.
func (q *RedisQueue) giveUp(ctx context.Context, id string, attempts int64, runErr error) {
	log := zap.L().With(zap.String("report_id", id), zap.Int64("attempts", attempts))
	log.Error("dispatch: giving up on job", zap.Error(runErr))
	if q.reports == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, giveUpWrite)
	defer cancel()
	r, err := q.reports.GetReport(ctx, id)
	if err != nil {
		log.Error("dispatch: load abandoned report", zap.Error(err))
		return
	}
	err = q.reports.UpdateStatus(ctx, id, model.Transition{
		Status:        model.StatusFailed,
		FailureReason: failure.Reason(failure.SourceUnavailable, failure.StageDispatch, r.InputKind),
	})
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		log.Info("dispatch: abandoned report already terminal", zap.String("status", string(r.Status)))
	case err != nil:
		log.Error("dispatch: fail abandoned report", zap.Error(err))
	default:
		metrics.ReportsFinishedTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	}
}

// ack removes id from processing and, when requeue is set, pushes it back
// onto pending in the same transaction. A job that is not requeued also
// loses its attempt count.
func (q *RedisQueue) ack(ctx context.Context, id string, requeue bool) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, id)
		if requeue {
			pipe.LPush(ctx, q.pending, id)
		} else {
			pipe.HDel(ctx, q.attempts, id)
		}
		return nil
	})
	return eris.Wrapf(err, "dispatch: ack %s", id)
}
