package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned for work submitted after the session was closed.
var ErrClosed = errors.New("session is closed")

// loop runs jobs one at a time on a single goroutine. The goja runtime, the
// binding registry and the module loader are only touched from here, which
// serializes shell evaluations with watcher-triggered reloads.
type loop struct {
	jobs      chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newLoop(logger *slog.Logger) *loop {
	return &loop{
		jobs:    make(chan func(), 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

func (l *loop) start() {
	go l.run()
}

func (l *loop) run() {
	defer close(l.stopped)
	for {
		select {
		case job := <-l.jobs:
			l.runJob(job)
		case <-l.done:
			return
		}
	}
}

// runJob isolates a panicking job so the loop keeps serving.
func (l *loop) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", "panic", fmt.Sprint(r))
		}
	}()
	job()
}

// post enqueues job without waiting. It reports false once the loop is
// stopped.
func (l *loop) post(job func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.jobs <- job:
		return true
	case <-l.done:
		return false
	}
}

// do runs fn on the loop and waits for its result. It must not be called
// from a job already running on the loop.
func (l *loop) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- fn()
	}
	if !l.post(job) {
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrClosed
	}
}

func (l *loop) stop() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	<-l.stopped
}
