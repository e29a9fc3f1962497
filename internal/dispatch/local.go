package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LocalPool runs reports on a fixed set of goroutines in this process.
// Jobs still queued when the process exits are lost; their reports stay
// pending.
type LocalPool struct {
	runner  Runner
	workers int
	timeout time.Duration

	jobs   chan string
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewLocalPool creates a pool. Call Start before dispatching.
func NewLocalPool(runner Runner, workers, queueSize int, timeout time.Duration) *LocalPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	return &LocalPool{
		runner:  runner,
		workers: workers,
		timeout: timeout,
		jobs:    make(chan string, queueSize),
	}
}

// Start launches the workers. They stop when ctx is canceled or the pool
// is closed and drained.
func (p *LocalPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-p.jobs:
					if !ok {
						return
					}
					zap.L().Debug("dispatch: local job picked up", zap.Int("worker", worker), zap.String("report_id", id))
					_ = runJob(ctx, p.runner, id, p.timeout)
				}
			}
		}(i)
	}
	zap.L().Info("dispatch: local pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.jobs)))
}

// Dispatch implements Dispatcher. It never blocks; a full queue returns
// ErrQueueFull.
func (p *LocalPool) Dispatch(_ context.Context, id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return eris.New("dispatch: pool closed")
	}
	select {
	case p.jobs <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *LocalPool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}
