package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/registrar/pkg/observability"
)

// WorkerPool runs job tasks on a bounded set of workers with panic
// recovery and graceful shutdown.
type WorkerPool struct {
	workers      int
	workCh       chan func(context.Context)
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	logger       *observability.Logger
}

// NewWorkerPool starts workers goroutines consuming submitted tasks.
func NewWorkerPool(ctx context.Context, workers int, logger *observability.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers: workers,
		workCh:  make(chan func(context.Context), workers*2),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task. Returns an error once the pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context)) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Shutdown may close workCh between the check above and the send;
	// the task was never queued, so the caller must hear about it.
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown stops accepting tasks and waits up to timeout for workers
// to drain what was already queued.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		close(p.workCh)

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.WithFields(map[string]interface{}{
							"worker": id,
							"panic":  fmt.Sprintf("%v", r),
							"stack":  string(debug.Stack()),
						}).Error("recovered panic in job worker")
					}
				}()
				fn(p.ctx)
			}()
		}
	}
}
