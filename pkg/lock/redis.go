package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix  = "classroom-sync:lock:"
	initialRetryDelay = 10 * time.Millisecond
	maxRetryDelay     = 500 * time.Millisecond
)

var releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

var extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

// Redis is a Locker backed by SET NX with an owner token.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedis constructs a Redis-backed locker.
func NewRedis(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, keyPrefix: keyPrefix, logger: logger}
}

// TryAcquire implements Locker.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	lockKey := r.keyPrefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	r.logger.Debug("lock acquired", zap.String("key", lockKey))
	return &redisHandle{client: r.client, key: lockKey, token: token, logger: r.logger}, nil
}

// Acquire implements Locker, polling with capped exponential delay.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	delay := initialRetryDelay
	for {
		handle, err := r.TryAcquire(ctx, key, ttl)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

type redisHandle struct {
	client redis.UniversalClient
	key    string
	token  string
	logger *zap.Logger
}

// Release deletes the key only while it still carries our token.
func (h *redisHandle) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotHeld
	}
	h.logger.Debug("lock released", zap.String("key", h.key))
	return nil
}

// Extend resets the TTL only while the key still carries our token.
func (h *redisHandle) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}
