package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/logging"
)

const (
	sessionKeyPrefix  = "typeteller:session:"
	inFlightKeyPrefix = "typeteller:inflight:"
)

// Cache abstracts the Redis operations used by RedisStore to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RedisStore keeps sessions in Redis so several page hosts can share them.
type RedisStore struct {
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore constructs a store writing JSON values with the given TTL.
func NewRedisStore(cache Cache, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("session_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	var raw string
	err := s.withRetry(ctx, id, "session.get", func() error {
		value, err := s.cache.Get(ctx, sessionKeyPrefix+id)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		logging.WithOperation(s.logger, "session.get", "").Warn("discarding undecodable session", zap.String("session_id", id), zap.Error(err))
		return nil, ErrNotFound
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	serialized, err := json.Marshal(state)
	if err != nil {
		return logging.NewOperationError("session.save", "", err)
	}
	return s.withRetry(ctx, state.ID, "session.save", func() error {
		return s.cache.Set(ctx, sessionKeyPrefix+state.ID, string(serialized), s.ttl)
	})
}

func (s *RedisStore) TryBegin(ctx context.Context, id string) (bool, error) {
	var acquired bool
	err := s.withRetry(ctx, id, "session.try_begin", func() error {
		ok, err := s.cache.SetNX(ctx, inFlightKeyPrefix+id, "1", s.ttl)
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	return acquired, err
}

func (s *RedisStore) End(ctx context.Context, id string) error {
	return s.withRetry(ctx, id, "session.end", func() error {
		return s.cache.Del(ctx, inFlightKeyPrefix+id)
	})
}

func (s *RedisStore) withRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	backoff := s.initialBackoff
	opLogger := s.logger.With(zap.String("operation", operation), zap.String("session_id", sessionID))
	var err error
	for attempt := 0; attempt < max(s.retryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
