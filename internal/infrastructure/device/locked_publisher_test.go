package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errKeyLocked = errors.New("locked")

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLocker() *memoryLocker { return &memoryLocker{held: make(map[string]bool)} }

func (l *memoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, errKeyLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func (l *memoryLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func TestLockedPublisher_HoldsKeyWhilePublishing(t *testing.T) {
	stub := newStubPublisher()
	locker := newMemoryLocker()
	p := NewLockedPublisher(stub, locker, zap.NewNop().Sugar())
	ctx := context.Background()

	stub.results <- publishResult{pub: newStubPublication()}
	pub, err := p.Publish(ctx, "rtmp://ingest.example.com/live", "live_abc")
	require.NoError(t, err)
	assert.True(t, locker.isHeld("live_abc"))

	_, err = p.Publish(ctx, "rtmp://ingest.example.com/live", "live_abc")
	assert.ErrorIs(t, err, errKeyLocked)
	assert.Len(t, stub.calls, 1, "second publish never dialed")

	require.NoError(t, pub.Close())
	assert.False(t, locker.isHeld("live_abc"))
}

func TestLockedPublisher_ReleasesOnFailureAndRemoteEnd(t *testing.T) {
	stub := newStubPublisher()
	locker := newMemoryLocker()
	p := NewLockedPublisher(stub, locker, zap.NewNop().Sugar())
	ctx := context.Background()

	stub.results <- publishResult{err: errors.New("refused")}
	_, err := p.Publish(ctx, "rtmp://ingest.example.com/live", "live_abc")
	require.Error(t, err)
	assert.False(t, locker.isHeld("live_abc"))

	remote := newStubPublication()
	stub.results <- publishResult{pub: remote}
	_, err = p.Publish(ctx, "rtmp://ingest.example.com/live", "live_abc")
	require.NoError(t, err)

	// the ingest ends the session on its own
	require.NoError(t, remote.Close())
	assert.Eventually(t, func() bool { return !locker.isHeld("live_abc") }, time.Second, 10*time.Millisecond)
}
