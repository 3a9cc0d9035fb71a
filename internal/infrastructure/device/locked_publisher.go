package device

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// KeyLocker guards a stream key across instances.
type KeyLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// LockedPublisher holds a stream key lock for the lifetime of each
// publication so two instances never publish the same key.
type LockedPublisher struct {
	next   Publisher
	locker KeyLocker
	logger *zap.SugaredLogger
}

func NewLockedPublisher(next Publisher, locker KeyLocker, logger *zap.SugaredLogger) *LockedPublisher {
	return &LockedPublisher{next: next, locker: locker, logger: logger}
}

func (p *LockedPublisher) Publish(ctx context.Context, ingestURL, streamKey string) (Publication, error) {
	unlock, err := p.locker.TryLock(ctx, streamKey)
	if err != nil {
		return nil, fmt.Errorf("stream key unavailable: %w", err)
	}

	pub, err := p.next.Publish(ctx, ingestURL, streamKey)
	if err != nil {
		unlock()
		return nil, err
	}

	lp := &lockedPublication{Publication: pub, unlock: unlock}
	go func() {
		<-pub.Done()
		lp.release()
	}()
	p.logger.Debugw("Stream key locked", "url", ingestURL)
	return lp, nil
}

type lockedPublication struct {
	Publication
	unlock func()
	once   sync.Once
}

func (p *lockedPublication) release() {
	p.once.Do(p.unlock)
}

func (p *lockedPublication) Close() error {
	err := p.Publication.Close()
	p.release()
	return err
}
