package experiment

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewRedisClient creates a pooled single-node Redis client. It does not dial;
// the first command establishes the connection.
func NewRedisClient(cfg RedisConfig) goredis.UniversalClient {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// RedisStore keeps the variant pool in a Redis list.
type RedisStore struct {
	client goredis.UniversalClient
	key    string
}

// NewRedisStore creates a store over the list at key. An empty key means DefaultKey.
func NewRedisStore(client goredis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the list key.
func (s *RedisStore) Key() string {
	return s.key
}

// List reads the whole list with LRANGE 0 -1. A missing key yields an empty pool.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	variants, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", s.key, err)
	}
	return variants, nil
}

// Seed writes variants into the list. SeedReplace runs DEL and RPUSH in one
// MULTI so readers never observe a half-written pool. SeedIfEmpty uses WATCH
// so a concurrent operator write wins.
func (s *RedisStore) Seed(ctx context.Context, variants []string, mode SeedMode) error {
	if len(variants) == 0 {
		return nil
	}
	values := make([]any, len(variants))
	for i, v := range variants {
		values[i] = v
	}

	switch mode {
	case SeedReplace, "":
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.key)
		pipe.RPush(ctx, s.key, values...)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("replace %s: %w", s.key, err)
		}
		return nil

	case SeedAppend:
		if err := s.client.RPush(ctx, s.key, values...).Err(); err != nil {
			return fmt.Errorf("rpush %s: %w", s.key, err)
		}
		return nil

	case SeedIfEmpty:
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			n, err := tx.LLen(ctx, s.key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.RPush(ctx, s.key, values...)
				return nil
			})
			return err
		}, s.key)
		if err != nil {
			return fmt.Errorf("seed %s if empty: %w", s.key, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrInvalidSeedMode, mode)
	}
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
