package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("loop closed")

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

// Loop runs posted tasks one at a time on a dedicated goroutine. It is the
// owning context of a view: every state read or write happens inside a task.
type Loop struct {
	name   string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func New(name string, logger *zap.SugaredLogger) *Loop {
	l := &Loop{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. It never blocks, including when called from a task.
// Tasks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
}

// AfterFunc posts fn after d. The returned stop reports whether it prevented
// fn from running.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	var state atomic.Int32
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return func() bool {
		t.Stop()
		return state.CompareAndSwap(timerPending, timerStopped)
	}
}

// Do runs fn on the loop and waits for it. It must not be called from a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now is the loop clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Close drops queued tasks and waits for the running one to finish. It must
// not be called from a task.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.queue = nil
		close(l.wake)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("Task panicked", "loop", l.name, "panic", r)
		}
	}()
	fn()
}
