package strategy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// Worker serializes one strategy's executions: a single consumer goroutine
// drains an unbounded FIFO queue so two opportunities for the same strategy never
// run concurrently, and opportunities for the same market are handled in
// arrival order.
type Worker struct {
	strategy Strategy
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.MarketData
	busy    bool
	stopped bool
	wake    chan struct{}
	idle    *sync.Cond
}

// NewWorker wraps a strategy with its serialized executor.
func NewWorker(s Strategy, logger *slog.Logger) *Worker {
	w := &Worker{
		strategy: s,
		logger:   logger.With(slog.String("component", "strategy_worker"), slog.String("strategy", s.Name())),
		wake:     make(chan struct{}, 1),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Submit enqueues a market for execution. Returns false after the worker
// has stopped.
func (w *Worker) Submit(md domain.MarketData) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.pending = append(w.pending, md)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("strategy worker started")
	defer w.logger.Info("strategy worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			w.pending = nil
			w.idle.Broadcast()
			w.mu.Unlock()
			return ctx.Err()
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if len(w.pending) == 0 {
				w.mu.Unlock()
				break
			}
			md := w.pending[0]
			w.pending = w.pending[1:]
			w.busy = true
			w.mu.Unlock()

			if err := w.strategy.Execute(ctx, md); err != nil {
				w.logger.Warn("execution skipped",
					slog.String("condition_id", md.ConditionID),
					slog.String("error", err.Error()),
				)
			}

			w.mu.Lock()
			w.busy = false
			if len(w.pending) == 0 {
				w.idle.Broadcast()
			}
			w.mu.Unlock()

			if ctx.Err() != nil {
				break
			}
		}
	}
}

// WaitUntilIdle blocks until nothing is queued or executing.
func (w *Worker) WaitUntilIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for (len(w.pending) > 0 || w.busy) && !w.stopped {
		w.idle.Wait()
	}
}

// Idle reports whether the worker has no queued or running execution.
func (w *Worker) Idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) == 0 && !w.busy
}

// QueueDepth returns how many executions are waiting.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
