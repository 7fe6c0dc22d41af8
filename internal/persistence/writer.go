package persistence

import (
	"context"
	"log/slog"
	"time"
)

const drainTimeout = 2 * time.Second

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes database writes on one goroutine and retries
// failed writes a few times. Commands still queued when the context ends
// are flushed before Done closes.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
	done   chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence.writer")
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue never blocks the caller. When the queue is full the oldest
// pending command is dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	for {
		select {
		case w.queue <- cmd:
			return
		default:
		}
		select {
		case dropped := <-w.queue:
			w.logger.Warn("writer queue full, dropping write", "cmd", dropped.name)
		default:
		}
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Len reports how many commands are waiting to run.
func (w *WriterQueue) Len() int {
	return len(w.queue)
}

// Done is closed once the queue has stopped and flushed.
func (w *WriterQueue) Done() <-chan struct{} {
	return w.done
}

func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case cmd := <-w.queue:
			if err := cmd.fn(ctx); err != nil {
				w.logger.Warn("db write failed during drain", "cmd", cmd.name, "error", err)
			}
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		return
	}
}
