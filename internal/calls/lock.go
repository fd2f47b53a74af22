package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"callhub/pkg/logger"
	"callhub/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChannelLocker serializes beginCall per channel so concurrent starters do not each
// provision a provider room. It narrows the race; the unique index still decides the winner.
type ChannelLocker interface {
	Lock(ctx context.Context, channelID string) (unlock func(), err error)
}

var ErrLockTimeout = errors.New("begin lock wait expired")

const lockRetryInterval = 50 * time.Millisecond

// RedisLocker holds SET NX PX locks named calls:begin:<channel>.
type RedisLocker struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, channelID string) (func(), error) {
	key := "calls:begin:" + channelID
	owner := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := utils.TryLock(waitCtx, l.rdb, key, owner, l.ttl)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if ok {
			return func() {
				// The request context may already be done; release on a fresh one.
				uctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := utils.Unlock(uctx, l.rdb, key, owner); err != nil {
					logger.From(ctx).Warn("begin lock release failed", "channel_id", channelID, "err", err)
				}
			}, nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-time.After(lockRetryInterval):
		}
	}
}

// LocalLocker is a per-process ChannelLocker for single-node runs and tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(channelID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[channelID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[channelID] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, channelID string) (func(), error) {
	ch := l.slot(channelID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
