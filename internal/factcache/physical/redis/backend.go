// Package redis provides a Redis-backed object store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/tdcache/internal/factcache/physical"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	deleteExpiredBatchSize = 500
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "tdcache:",
	}
}

// NewFactory creates a Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	s := physical.NewSettings("redis", config)

	addr := s.String(KeyAddr, "")
	if addr == "" {
		return nil, physical.NewConfigError("redis", KeyAddr, "cannot be empty")
	}
	db, err := s.Int(KeyDB, 0)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, &physical.ConfigError{Backend: "redis", Field: KeyDB, Value: config[KeyDB], Message: "must be non-negative"}
	}
	maxRetries, err := s.Int(KeyMaxRetries, 3)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := s.Duration(KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := s.Duration(KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := s.Duration(KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	poolSize, err := s.Int(KeyPoolSize, 0)
	if err != nil {
		return nil, err
	}
	prefix := s.String(KeyKeyPrefix, "tdcache:")

	opts := &redis.Options{
		Addr:         addr,
		Password:     s.String(KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, physical.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis object store initialized", "addr", addr, "db", db, "key_prefix", prefix)
	return NewWithClient(client, prefix), nil
}

// Backend is a Redis implementation of physical.Backend. Objects live under
// <prefix>obj:<key> with a native TTL; the <prefix>expires sorted set keeps
// deadlines so DeleteExpired can report keys Redis already dropped, and
// <prefix>keys tracks the stored key set.
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) objectKey(key string) string { return b.prefix + "obj:" + key }
func (b *Backend) expiresKey() string          { return b.prefix + "expires" }
func (b *Backend) keysKey() string             { return b.prefix + "keys" }

// Put stores an object, replacing any previous version and its deadline.
func (b *Backend) Put(ctx context.Context, obj *physical.Object) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.objectKey(obj.Key), data, obj.TTL(time.Now()))
	pipe.SAdd(ctx, b.keysKey(), obj.Key)
	if obj.ExpiresAt > 0 {
		pipe.ZAdd(ctx, b.expiresKey(), redis.Z{Score: deadlineScore(obj.ExpiresAt), Member: obj.Key})
	} else {
		pipe.ZRem(ctx, b.expiresKey(), obj.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Get retrieves an object by key.
func (b *Backend) Get(ctx context.Context, key string) (*physical.Object, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	data, err := b.client.Get(ctx, b.objectKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var obj physical.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return &obj, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.objectKey(key))
	pipe.ZRem(ctx, b.expiresKey(), key)
	pipe.SRem(ctx, b.keysKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Sorted set scores are float64, which cannot hold a nanosecond deadline
// exactly. Deadlines are stored in whole milliseconds rounded up and sweeps
// compare against now rounded down, so an object is never swept before its
// deadline and at most a millisecond after it.
func deadlineScore(expiresAt int64) float64 {
	ms := expiresAt / int64(time.Millisecond)
	if expiresAt%int64(time.Millisecond) != 0 {
		ms++
	}
	return float64(ms)
}

func sweepScore(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// DeleteExpired removes every object whose deadline is at or before now,
// including those Redis already expired on its own.
func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	expired, err := b.client.ZRangeByScore(ctx, b.expiresKey(), &redis.ZRangeBy{
		Min: "0",
		Max: sweepScore(now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	for start := 0; start < len(expired); start += deleteExpiredBatchSize {
		batch := expired[start:min(start+deleteExpiredBatchSize, len(expired))]

		pipe := b.client.TxPipeline()
		for _, key := range batch {
			pipe.Del(ctx, b.objectKey(key))
			pipe.ZRem(ctx, b.expiresKey(), key)
			pipe.SRem(ctx, b.keysKey(), key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis delete expired: %w", err)
		}
	}
	return expired, nil
}

// Stats returns storage statistics. Size is not tracked.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	n, err := b.client.SCard(ctx, b.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	return &physical.Stats{
		Objects:     n,
		SizeBytes:   -1,
		BackendType: "redis",
	}, nil
}

// Close closes the client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
