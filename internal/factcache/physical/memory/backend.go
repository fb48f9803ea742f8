// Package memory provides an admission-controlled in-memory object store
// backed by ristretto.
package memory

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/gezibash/tdcache/internal/factcache/physical"
)

const (
	KeyMaxCost     = "max_cost"
	KeyNumCounters = "num_counters"
	KeyBufferItems = "buffer_items"
	KeyTTLTick     = "ttl_tick"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyMaxCost:     "268435456",
		KeyNumCounters: "1000000",
		KeyBufferItems: "64",
		KeyTTLTick:     "1s",
	}
}

// NewFactory creates a memory backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	s := physical.NewSettings("memory", config)

	maxCost, err := s.Int64(KeyMaxCost, 256<<20)
	if err != nil {
		return nil, err
	}
	if maxCost <= 0 {
		return nil, physical.NewConfigError("memory", KeyMaxCost, "must be positive")
	}
	counters, err := s.Int64(KeyNumCounters, 1_000_000)
	if err != nil {
		return nil, err
	}
	if counters <= 0 {
		return nil, physical.NewConfigError("memory", KeyNumCounters, "must be positive")
	}
	buffer, err := s.Int64(KeyBufferItems, 64)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		return nil, physical.NewConfigError("memory", KeyBufferItems, "must be positive")
	}
	tick, err := s.Duration(KeyTTLTick, time.Second)
	if err != nil {
		return nil, err
	}
	if tick < time.Second {
		return nil, physical.NewConfigError("memory", KeyTTLTick, "must be at least 1s")
	}

	b := &Backend{deadlines: make(map[string]int64)}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *physical.Object]{
		NumCounters:            counters,
		MaxCost:                maxCost,
		BufferItems:            buffer,
		IgnoreInternalCost:     true,
		Metrics:                true,
		TtlTickerDurationInSec: int64(tick / time.Second),
		OnEvict:                b.dropped,
		OnReject:               b.dropped,
	})
	if err != nil {
		return nil, physical.NewConfigErrorWithCause("memory", "", "failed to create cache", err)
	}
	b.cache = cache

	slog.Info("memory object store initialized", "max_cost", maxCost, "num_counters", counters)
	return b, nil
}

// Backend is a ristretto implementation of physical.Backend. Objects may be
// dropped at any time by the admission policy or by TTL expiry; registered
// eviction callbacks hear about both.
type Backend struct {
	cache  *ristretto.Cache[string, *physical.Object]
	closed atomic.Bool

	mu        sync.Mutex
	deadlines map[string]int64
	evicted   []func(key string)
}

// OnEvict registers fn to receive the keys of evicted and rejected objects.
func (b *Backend) OnEvict(fn func(key string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = append(b.evicted, fn)
}

func (b *Backend) dropped(item *ristretto.Item[*physical.Object]) {
	if item.Value == nil {
		return
	}
	key := item.Value.Key

	b.mu.Lock()
	delete(b.deadlines, key)
	listeners := slices.Clone(b.evicted)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
}

func cost(obj *physical.Object) int64 {
	c := int64(len(obj.Key) + len(obj.Data))
	for k, v := range obj.Labels {
		c += int64(len(k) + len(v))
	}
	return max(c, 1)
}

// Put stores an object. It returns physical.ErrRejected when the admission
// policy declines it.
func (b *Backend) Put(_ context.Context, obj *physical.Object) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	stored := *obj
	stored.Labels = maps.Clone(obj.Labels)
	if !b.cache.SetWithTTL(obj.Key, &stored, cost(obj), obj.TTL(time.Now())) {
		return physical.ErrRejected
	}
	b.cache.Wait()
	if _, ok := b.cache.Get(obj.Key); !ok {
		return physical.ErrRejected
	}

	b.mu.Lock()
	b.deadlines[obj.Key] = obj.ExpiresAt
	b.mu.Unlock()
	return nil
}

// Get retrieves an object by key.
func (b *Backend) Get(_ context.Context, key string) (*physical.Object, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	obj, ok := b.cache.Get(key)
	if !ok {
		return nil, physical.ErrNotFound
	}
	out := *obj
	out.Labels = maps.Clone(obj.Labels)
	return &out, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	b.cache.Del(key)

	b.mu.Lock()
	delete(b.deadlines, key)
	b.mu.Unlock()
	return nil
}

// DeleteExpired removes every object whose deadline is at or before now.
func (b *Backend) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	cutoff := now.UnixNano()
	var keys []string
	b.mu.Lock()
	for key, deadline := range b.deadlines {
		if deadline > 0 && deadline <= cutoff {
			keys = append(keys, key)
			delete(b.deadlines, key)
		}
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.cache.Del(key)
	}
	slices.Sort(keys)
	return keys, nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	b.mu.Lock()
	n := len(b.deadlines)
	b.mu.Unlock()

	var size int64
	if m := b.cache.Metrics; m != nil {
		size = int64(m.CostAdded() - m.CostEvicted())
	}
	return &physical.Stats{
		Objects:     int64(n),
		SizeBytes:   size,
		BackendType: "memory",
	}, nil
}

// Close releases the cache.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.cache.Close()
	return nil
}
