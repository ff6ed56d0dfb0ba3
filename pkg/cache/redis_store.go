package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

// RedisStore implements Store on a pooled go-redis client. Every operation
// runs through a circuit breaker so a dead Redis degrades to fast failures
// instead of piling up timeouts.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg config.CacheConfig, logger observability.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Redis circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	store := &RedisStore{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("Connected to Redis", map[string]interface{}{"address": cfg.Address})
	return store, nil
}

// execute runs op through the breaker and normalizes breaker errors.
func (s *RedisStore) execute(op func() (interface{}, error)) (interface{}, error) {
	res, err := s.breaker.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// Get retrieves a value. A miss returns ErrNotFound and does not count
// against the circuit breaker.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	res, err := s.execute(func() (interface{}, error) {
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %q: %w", key, err)
	}
	if res == nil {
		return "", ErrNotFound
	}
	return res.(string), nil
}

// Set stores a value with a TTL. A zero TTL stores without expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes keys. Deleting absent keys is not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// DeleteByPattern removes every key matching pattern using an incremental
// scan, returning the number of keys deleted.
func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := s.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := s.Delete(ctx, keys...); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// SetAdd adds members to the set at key.
func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, args...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to add to set %q: %w", key, err)
	}
	return nil
}

// SetMembers returns all members of the set at key.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read set %q: %w", key, err)
	}
	return res.([]string), nil
}

// SetCardinality returns the size of the set at key.
func (s *RedisStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read set cardinality %q: %w", key, err)
	}
	return res.(int64), nil
}

// SetRemove removes members from the set at key.
func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, args...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to remove from set %q: %w", key, err)
	}
	return nil
}

// Scan walks keys matching pattern from cursor.
func (s *RedisStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	res, err := s.execute(func() (interface{}, error) {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, err
		}
		return scanResult{keys: keys, cursor: next}, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan %q: %w", pattern, err)
	}
	sr := res.(scanResult)
	return sr.keys, sr.cursor, nil
}

type scanResult struct {
	keys   []string
	cursor uint64
}

// Expire sets a TTL on an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Expire(ctx, key, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to expire %q: %w", key, err)
	}
	return nil
}

// TTL returns the remaining time to live of key. Absent keys and keys
// without an expiry report a non-positive duration.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.TTL(ctx, key).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl %q: %w", key, err)
	}
	return res.(time.Duration), nil
}

// Exists reports whether key exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %q: %w", key, err)
	}
	return res.(int64) > 0, nil
}

// Pipeline returns a new batch.
func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s, pipe: s.client.Pipeline()}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisPipeline struct {
	store *RedisStore
	pipe  redis.Pipeliner
}

func (p *redisPipeline) Delete(keys ...string) {
	if len(keys) > 0 {
		p.pipe.Del(context.Background(), keys...)
	}
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.store.execute(func() (interface{}, error) {
		_, err := p.pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}
	return nil
}
