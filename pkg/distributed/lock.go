package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLocked  = errors.New("lock held by another owner")
	ErrNotHeld = errors.New("lock not held")
)

// releaseScript deletes the key only if it still carries our value.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if the key still carries our value.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a Redis lease renewed at half its TTL until released.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

func (l *Lock) Key() string { return l.key }

// TryAcquire takes the lock without waiting.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		return false, nil
	}

	l.mu.Lock()
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.renew(l.stop, l.done)
	l.mu.Unlock()
	return true, nil
}

// Release stops renewal and deletes the key if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return ErrNotHeld
	}
	close(stop)
	<-done

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) renew(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				// lost to expiry; someone else may hold it now
				return
			}
		}
	}
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewLockManager(client *redis.Client, prefix string, ttl time.Duration) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (m *LockManager) NewLock(key string) *Lock {
	return NewLock(m.client, m.prefix+key, m.ttl)
}

// TryLock takes the lock for key or fails with ErrLocked. unlock is safe to
// call more than once.
func (m *LockManager) TryLock(ctx context.Context, key string) (unlock func(), err error) {
	l := m.NewLock(key)
	ok, err := l.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, l.Key())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = l.Release(ctx)
		})
	}, nil
}
