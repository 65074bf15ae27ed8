// Package lock provides single-flight locks for email jobs. Redis is used
// when configured so that several server instances share the lock; otherwise
// locks are held in process.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is held by one owner at a time. A Lock value is not safe for
// concurrent use; take a new one per critical section.
type Lock interface {
	// Acquire reports whether the lock was taken. It does not block.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if it is still owned.
	Release(ctx context.Context) error
}

// Locker hands out locks by key.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	local  *localLocks
}

// New returns a Redis-backed Locker, or an in-process one when client is nil.
func New(client *redis.Client, ttl time.Duration) *Locker {
	l := &Locker{client: client, ttl: ttl}
	if client == nil {
		l.local = &localLocks{held: map[string]string{}}
	}
	return l
}

// JobKey is the lock key guarding one email job.
func JobKey(jobID string) string {
	return "email:" + jobID
}

func (l *Locker) For(key string) Lock {
	if l.client != nil {
		return &redisLock{
			client: l.client,
			key:    fmt.Sprintf("lock:%s", key),
			value:  uuid.NewString(),
			ttl:    l.ttl,
		}
	}
	return &localLock{locks: l.local, key: key, value: uuid.NewString()}
}

// ----------------------------
// Redis
// ----------------------------

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// redisLock is SET NX with a TTL and a random owner value, so an expired
// lock taken over by another process is never released by the old owner.
type redisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// ----------------------------
// In process
// ----------------------------

type localLocks struct {
	mu   sync.Mutex
	held map[string]string
}

type localLock struct {
	locks *localLocks
	key   string
	value string
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()

	if _, taken := l.locks.held[l.key]; taken {
		return false, nil
	}
	l.locks.held[l.key] = l.value
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()

	if l.locks.held[l.key] == l.value {
		delete(l.locks.held, l.key)
	}
	return nil
}
