package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// Locker serializes fan-outs for the same reference across API instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// ErrLockNotObtained is returned when another fan-out holds the reference.
var ErrLockNotObtained = errors.New("ledger lock not obtained")

// RedisLocker implements Locker with bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

// NewRedisLocker wraps a redislock client. Obtain retries every 100ms, up to
// 50 times, before giving up.
func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// LocalLocker serializes fan-outs within one process. It is used when Redis
// is not configured; across instances the per-entry advisory lock still keeps
// each record unique.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*localKey)}
}

// Obtain waits for key until ctx ends. ttl is ignored.
func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.sem <- struct{}{}:
		return &localLock{locker: l, key: key, k: k}, nil
	case <-ctx.Done():
		l.drop(key, k)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) drop(key string, k *localKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

type localLock struct {
	locker *LocalLocker
	key    string
	k      *localKey
	once   sync.Once
}

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		<-l.k.sem
		l.locker.drop(l.key, l.k)
	})
	return nil
}
