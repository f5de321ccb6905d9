// Package loop provides the single owning goroutine that message dispatch,
// platform view callbacks and engine start-up work are marshaled onto.
package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/embedbridge/internal/runtime/logging"
)

// Loop runs posted tasks one at a time, in post order, on the goroutine
// that called Run.
type Loop struct {
	logger logging.ServiceLogger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	running bool
	done    chan struct{}
}

// New creates a loop. queueHint preallocates the task queue.
func New(logger logging.ServiceLogger, queueHint int) *Loop {
	if queueHint < 0 {
		queueHint = 0
	}
	return &Loop{
		logger: logging.OrNop(logger).With(logging.LogFields{"component": "loop"}),
		queue:  make([]func(), 0, queueHint),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks and returns false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks queued
// before Stop still run. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop: already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		batch, stopped := l.take()
		for _, fn := range batch {
			l.runTask(fn)
		}
		if stopped && len(batch) == 0 {
			return nil
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			for _, fn := range l.drain() {
				l.runTask(fn)
			}
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop rejects further posts and lets Run return after the queue drains.
func (l *Loop) Stop() {
	l.mu.Lock()
	alreadyStopped := l.stopped
	l.stopped = true
	l.mu.Unlock()
	if alreadyStopped {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether Stop was called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) take() ([]func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch, l.stopped
}

func (l *Loop) drain() []func() {
	batch, _ := l.take()
	return batch
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Loop task panicked", fmt.Errorf("panic: %v", r), nil)
		}
	}()
	fn()
}
