package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockPrefix = "faceattend:lock:"

// Redis is the shared client behind distributed locking, the queue backend,
// and the health endpoint.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Locker returns a distributed Locker built on SET NX PX, so concurrent marks
// for the same user are serialized across replicas. The TTL bounds lock loss
// when a holder dies mid-request.
func (r *Redis) Locker(ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{client: r.Client, ttl: ttl}
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// Lock spins on SET NX until acquired or the context ends.
func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockPrefix + key
	for {
		ok, err := l.client.SetNX(ctx, lockKey, "1", l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = l.client.Del(releaseCtx, lockKey).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
