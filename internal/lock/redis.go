package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an expired lock
// re-taken by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock shared by every replica talking to the same Redis.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithPrefix namespaces lock keys.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRetryInterval sets how often a contended key is polled.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRedis creates a locker whose keys expire after ttl if the holder dies.
func NewRedis(client redis.Cmdable, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "bitespeed:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire takes every key with SET NX in sorted order, polling until ctx ends. While the
// keys are held their expiry is pushed forward every third of the TTL, so a slow holder
// keeps its exclusion until it releases or dies.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	var held []string
	var releases []func()
	for _, key := range normalizeKeys(keys) {
		release, err := r.acquireOne(ctx, r.prefix+key, token)
		if err != nil {
			releaseAll(releases)()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		held = append(held, r.prefix+key)
		releases = append(releases, release)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(held, token, stop, done)
	release := releaseAll(releases)
	return func() {
		select {
		case <-stop:
		default:
			close(stop)
			<-done
		}
		release()
	}, nil
}

func (r *Redis) keepAlive(keys []string, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.ttl / 3
	if interval <= 0 || len(keys) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		for _, key := range keys {
			_ = extendScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Err()
		}
		cancel()
	}
}

func (r *Redis) acquireOne(ctx context.Context, key, token string) (func(), error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return func() {
				// Released on a fresh context so a cancelled request still frees its keys.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}
