package batch

import (
	"context"
	"sync"
	"time"
)

// FlushFunc processes one batch. Items are owned by the callee.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Batcher collects items and flushes them when a batch fills up or the
// interval elapses, whichever comes first.
type Batcher[T any] struct {
	size       int
	interval   time.Duration
	maxPending int
	flush      FlushFunc[T]

	mu      sync.Mutex
	pending []T
	flushCh chan struct{}
}

// New creates a batcher. Add refuses items once maxPending are waiting;
// maxPending <= 0 means unbounded.
func New[T any](size int, interval time.Duration, maxPending int, flush FlushFunc[T]) *Batcher[T] {
	return &Batcher[T]{
		size:       size,
		interval:   interval,
		maxPending: maxPending,
		flush:      flush,
		pending:    make([]T, 0, size),
		flushCh:    make(chan struct{}, 1),
	}
}

// Add queues item. It never blocks and reports false when the batcher is
// full.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	if b.maxPending > 0 && len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush processes everything pending now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.size)
	b.mu.Unlock()

	return b.flush(ctx, items)
}

// Run flushes on size and interval until ctx is done, then flushes what is
// left. Flush errors are passed to onError when it is not nil.
func (b *Batcher[T]) Run(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	report := func(err error) {
		if err != nil && onError != nil {
			onError(err)
		}
	}

	for {
		select {
		case <-ticker.C:
			report(b.Flush(ctx))
		case <-b.flushCh:
			report(b.Flush(ctx))
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), time.Second)
			report(b.Flush(final))
			cancel()
			return
		}
	}
}

func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
