package factcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/gezibash/tdcache/internal/tdtree"
)

// Options configure a Cache.
type Options struct {
	Index tdtree.Options

	// LockTimeout bounds every wait for the index lock. Zero waits as long
	// as the caller's context allows.
	LockTimeout time.Duration

	// EvictTimeout bounds how long the eviction worker waits to purge one
	// evicted object.
	EvictTimeout time.Duration

	// EvictQueue is the capacity of the eviction queue. Notifications that
	// do not fit are dropped; the affected intervals are purged lazily by
	// the next lookup that reaches them.
	EvictQueue int

	// RebuildBelowFill triggers a rebuild after a purge leaves the average
	// leaf occupancy below this ratio. Zero disables automatic rebuilds.
	RebuildBelowFill float64

	// RebuildMinEntries is the smallest index size worth rebuilding.
	RebuildMinEntries int

	// GCDiscardRatio is passed to stores that reclaim space on demand after
	// a cleanup removed objects. Zero disables collection.
	GCDiscardRatio float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Index:             tdtree.DefaultOptions(),
		LockTimeout:       5 * time.Second,
		EvictTimeout:      10 * time.Second,
		EvictQueue:        4096,
		RebuildBelowFill:  0.3,
		RebuildMinEntries: 1024,
		GCDiscardRatio:    0.5,
	}
}

// Fact is one indexed interval together with the object it points at.
type Fact struct {
	tdtree.Interval[string]
	Object *physical.Object
}

// Ref returns the reference naming the fact's first valid instant.
func (f *Fact) Ref() Ref { return Ref{ID: f.ID, Version: f.Start} }

// Stats describes the index and its object store.
type Stats struct {
	ID        string          `json:"id"`
	Intervals int             `json:"intervals"`
	Leaves    int             `json:"leaves"`
	Nodes     int             `json:"nodes"`
	Height    int             `json:"height"`
	Fill      float64         `json:"fill"`
	Backend   *physical.Stats `json:"backend"`
}

// Cache keeps a temporal index of facts whose payloads live in an object
// store. Every indexed interval names an object key; when the store drops
// an object its intervals are purged from the index.
type Cache struct {
	id      string
	opts    Options
	backend physical.Backend
	metrics *observability.Metrics
	filter  *filter
	log     *slog.Logger

	lock *rwLock
	tree *tdtree.Tree[string]

	evictions chan string
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a cache over backend. If the backend reports evictions, a
// worker purges the intervals of every evicted object.
func New(opts Options, backend physical.Backend, metrics *observability.Metrics) (*Cache, error) {
	tree, err := tdtree.New[string](opts.Index)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	f, err := newFilter()
	if err != nil {
		return nil, err
	}
	if opts.EvictQueue <= 0 {
		opts.EvictQueue = DefaultOptions().EvictQueue
	}
	if opts.EvictTimeout <= 0 {
		opts.EvictTimeout = DefaultOptions().EvictTimeout
	}

	id := uuid.NewString()
	c := &Cache{
		id:        id,
		opts:      opts,
		backend:   backend,
		metrics:   metrics,
		filter:    f,
		log:       slog.Default().With("cache", id),
		lock:      newRWLock(opts.LockTimeout),
		tree:      tree,
		evictions: make(chan string, opts.EvictQueue),
		done:      make(chan struct{}),
	}

	if src, ok := backend.(physical.EvictionSource); ok {
		src.OnEvict(c.enqueue)
		c.wg.Add(1)
		go c.evictLoop()
	}
	c.observe()

	c.log.Info("fact cache created",
		"branching_factor", opts.Index.BranchingFactor,
		"reverse_index", opts.Index.ReverseIndex,
		"lock_timeout", opts.LockTimeout,
	)
	return c, nil
}

// ID returns the instance identifier used in logs.
func (c *Cache) ID() string { return c.id }

// enqueue is the object store's eviction callback. It runs on the store's
// goroutine, possibly while a Put holds the write lock, so it never blocks.
func (c *Cache) enqueue(key string) {
	select {
	case <-c.done:
	case c.evictions <- key:
	default:
		c.log.Warn("eviction queue full, purge deferred to lookup", "key", key)
	}
}

func (c *Cache) evictLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case key := <-c.evictions:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.EvictTimeout)
			if _, err := c.purge(ctx, []string{key}, "evicted"); err != nil {
				c.log.Error("purge evicted object failed", "key", key, "error", err)
			}
			cancel()
		}
	}
}

// checkInterval rejects bad input before anything touches the store.
func (c *Cache) checkInterval(id string, start, end int64) error {
	codec := c.tree.Codec()
	if err := codec.CheckIdentifier(id); err != nil {
		return err
	}
	if err := codec.CheckTime(start); err != nil {
		return err
	}
	if end != tdtree.Open {
		if err := codec.CheckTime(end); err != nil {
			return err
		}
	}
	if start > end {
		return fmt.Errorf("%w: [%d, %d]", tdtree.ErrInvalidInterval, start, end)
	}
	return nil
}

// Put stores obj and indexes it for id over [start, end]. An empty object
// key defaults to the reference id@start.
func (c *Cache) Put(ctx context.Context, id string, start, end int64, obj *physical.Object) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.put",
		attribute.String("id", id), attribute.Int64("start", start), attribute.Int64("end", end))
	defer func() { op.End(err) }()

	if err = c.checkInterval(id, start, end); err != nil {
		return err
	}
	if obj.Key == "" {
		obj.Key = Ref{ID: id, Version: start}.String()
	}
	if obj.StoredAt == 0 {
		obj.StoredAt = time.Now().UnixNano()
	}

	if err = c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err = c.backend.Put(ctx, obj); err != nil {
		return fmt.Errorf("store object %q: %w", obj.Key, err)
	}
	if err = c.tree.Insert(id, start, end, obj.Key); err != nil {
		return fmt.Errorf("index %q: %w", id, err)
	}
	c.observe()
	return nil
}

// Store writes obj to the object store without indexing it.
func (c *Cache) Store(ctx context.Context, obj *physical.Object) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.store", attribute.String("key", obj.Key))
	defer func() { op.End(err) }()

	if obj.Key == "" {
		return fmt.Errorf("store object: empty key")
	}
	if obj.StoredAt == 0 {
		obj.StoredAt = time.Now().UnixNano()
	}
	if err = c.backend.Put(ctx, obj); err != nil {
		return fmt.Errorf("store object %q: %w", obj.Key, err)
	}
	return nil
}

// Insert indexes key for id over [start, end]. The object need not be
// stored yet; lookups treat a missing object as a miss.
func (c *Cache) Insert(ctx context.Context, id string, start, end int64, key string) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.insert",
		attribute.String("id", id), attribute.Int64("start", start), attribute.Int64("end", end))
	defer func() { op.End(err) }()

	return c.write(ctx, func() error { return c.tree.Insert(id, start, end, key) })
}

// Lookup returns the fact for id valid at t. An interval whose object has
// left the store is purged and reported as ErrNotFound.
func (c *Cache) Lookup(ctx context.Context, id string, t int64) (fact *Fact, err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.lookup",
		attribute.String("id", id), attribute.Int64("time", t))
	defer func() { op.End(ignoreMiss(err)) }()

	if err = c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	iv, ok, err := c.tree.Lookup(id, t)
	c.lock.RUnlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Ref{ID: id, Version: t})
	}

	obj, err := c.backend.Get(ctx, iv.Value)
	if err == nil && !obj.Expired(time.Now()) {
		return &Fact{Interval: iv, Object: obj}, nil
	}
	if err != nil && !errors.Is(err, physical.ErrNotFound) {
		return nil, fmt.Errorf("get object %q: %w", iv.Value, err)
	}

	slog.DebugContext(ctx, "dangling interval", "id", id, "key", iv.Value)
	live, err := c.purge(ctx, []string{iv.Value}, "dangling")
	if err != nil {
		return nil, err
	}
	if obj, ok := live[iv.Value]; ok {
		return &Fact{Interval: iv, Object: obj}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, Ref{ID: id, Version: t})
}

// LookupRef is Lookup for a parsed reference.
func (c *Cache) LookupRef(ctx context.Context, ref Ref) (*Fact, error) {
	return c.Lookup(ctx, ref.ID, ref.Version)
}

// Resolve parses "id@version" and looks it up.
func (c *Cache) Resolve(ctx context.Context, ref string) (*Fact, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return c.LookupRef(ctx, r)
}

// History returns every interval indexed for id in ascending order.
func (c *Cache) History(ctx context.Context, id string) (out []tdtree.Interval[string], err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.history", attribute.String("id", id))
	defer func() { op.End(err) }()

	if err = c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.RUnlock()
	return c.tree.History(id)
}

// Update points the interval for id covering t at key.
func (c *Cache) Update(ctx context.Context, id string, t int64, key string) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.update",
		attribute.String("id", id), attribute.Int64("time", t))
	defer func() { op.End(err) }()

	return c.write(ctx, func() error { return c.tree.Update(id, t, key) })
}

// SetTemporals moves the interval for id covering t to [start, end].
func (c *Cache) SetTemporals(ctx context.Context, id string, t, start, end int64) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.set_temporals",
		attribute.String("id", id), attribute.Int64("time", t))
	defer func() { op.End(err) }()

	return c.write(ctx, func() error { return c.tree.SetTemporals(id, t, start, end) })
}

// Replace swaps the interval for id covering t for key over [start, end].
func (c *Cache) Replace(ctx context.Context, id string, t, start, end int64, key string) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.replace",
		attribute.String("id", id), attribute.Int64("time", t))
	defer func() { op.End(err) }()

	return c.write(ctx, func() error { return c.tree.Replace(id, t, start, end, key) })
}

// Delete removes the interval for id covering t. The object stays in the
// store.
func (c *Cache) Delete(ctx context.Context, id string, t int64) (err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.delete",
		attribute.String("id", id), attribute.Int64("time", t))
	defer func() { op.End(err) }()

	return c.write(ctx, func() error {
		if err := c.tree.Delete(id, t); err != nil {
			return err
		}
		c.maybeRebuild(ctx)
		return nil
	})
}

func (c *Cache) write(ctx context.Context, fn func() error) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := fn(); err != nil {
		if errors.Is(err, tdtree.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	c.observe()
	return nil
}

// Evict removes the object under key from the store and purges every
// interval pointing at it. It returns the number of intervals removed.
func (c *Cache) Evict(ctx context.Context, key string) (n int, err error) {
	op, ctx := observability.StartOperation(ctx, c.metrics, "cache.evict", attribute.String("key", key))
	defer func() { op.End(err) }()

	if err = c.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer c.lock.Unlock()

	if err = c.backend.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("delete object %q: %w", key, err)
	}
	n = c.tree.DeleteValue(key)
	c.metrics.RecordEviction("explicit", n)
	c.maybeRebuild(ctx)
	c.observe()

	slog.InfoContext(ctx, "object evicted", "key", key, "intervals", n)
	return n, nil
}

// purge removes the intervals of every key whose object is gone from the
// store or expired. Keys whose object is live again are left alone and
// returned. Expired objects still held by the store are deleted.
func (c *Cache) purge(ctx context.Context, keys []string, source string) (map[string]*physical.Object, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.Unlock()
	return c.purgeLocked(ctx, keys, source)
}

// purgeLocked is purge with the write lock already held.
func (c *Cache) purgeLocked(ctx context.Context, keys []string, source string) (map[string]*physical.Object, error) {
	now := time.Now()
	live := make(map[string]*physical.Object)
	purged := 0
	for _, key := range keys {
		obj, err := c.backend.Get(ctx, key)
		switch {
		case err == nil && !obj.Expired(now):
			live[key] = obj
			continue
		case err == nil:
			if err := c.backend.Delete(ctx, key); err != nil {
				return live, fmt.Errorf("delete expired object %q: %w", key, err)
			}
		case !errors.Is(err, physical.ErrNotFound):
			return live, fmt.Errorf("get object %q: %w", key, err)
		}

		n := c.tree.DeleteValue(key)
		c.metrics.RecordEviction(source, n)
		purged += n
	}

	if purged > 0 {
		c.maybeRebuild(ctx)
		c.observe()
		c.log.DebugContext(ctx, "intervals purged", "source", source, "keys", len(keys), "intervals", purged)
	}
	return live, nil
}

// Rebuild repacks the index. The write lock is held throughout.
func (c *Cache) Rebuild(ctx context.Context) (err error) {
	op, ctx := observability.StartOperation(ctx, c.metrics, "cache.rebuild")
	defer func() { op.End(err) }()

	if err = c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	c.rebuild(ctx, "manual")
	return nil
}

// maybeRebuild repacks a sparse index. The caller holds the write lock.
func (c *Cache) maybeRebuild(ctx context.Context) {
	if c.opts.RebuildBelowFill <= 0 || c.tree.Len() < c.opts.RebuildMinEntries {
		return
	}
	if c.tree.Fill() >= c.opts.RebuildBelowFill {
		return
	}
	c.rebuild(ctx, "auto")
}

func (c *Cache) rebuild(ctx context.Context, trigger string) {
	before := c.tree.Nodes()
	c.tree.Rebuild()
	c.metrics.RecordRebuild(trigger)
	c.observe()
	slog.InfoContext(ctx, "index rebuilt",
		"trigger", trigger, "nodes_before", before, "nodes_after", c.tree.Nodes(), "fill", c.tree.Fill())
}

// Snapshot returns every fact valid at t whose object is live and matches
// expr. An empty expr matches everything.
func (c *Cache) Snapshot(ctx context.Context, t int64, expr string) (facts []*Fact, err error) {
	op, ctx := observability.StartOperation(ctx, c.metrics, "cache.snapshot", attribute.Int64("time", t))
	defer func() { op.End(err) }()

	match := func(*Fact) bool { return true }
	if expr != "" {
		prg, err := c.filter.compile(expr)
		if err != nil {
			return nil, err
		}
		match = func(f *Fact) bool { return c.filter.match(ctx, prg, f) }
	}

	if err = c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	var hits []tdtree.Interval[string]
	c.tree.Ascend(func(iv tdtree.Interval[string]) bool {
		if iv.Contains(t) {
			hits = append(hits, iv)
		}
		return true
	})
	c.lock.RUnlock()

	now := time.Now()
	for _, iv := range hits {
		obj, err := c.backend.Get(ctx, iv.Value)
		if errors.Is(err, physical.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get object %q: %w", iv.Value, err)
		}
		if obj.Expired(now) {
			continue
		}
		if f := (&Fact{Interval: iv, Object: obj}); match(f) {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// Cleanup sweeps expired objects from the store and purges their intervals.
// It returns the number of objects swept.
func (c *Cache) Cleanup(ctx context.Context) (count int, err error) {
	op, ctx := observability.StartOperation(ctx, c.metrics, "cache.cleanup")
	defer func() { op.End(err) }()

	// The sweep and the purge share one write lock so a Put landing between
	// them cannot have its fresh intervals dropped.
	if err = c.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer c.lock.Unlock()

	keys, sweepErr := c.backend.DeleteExpired(ctx, time.Now())
	if len(keys) > 0 {
		if _, err = c.purgeLocked(ctx, keys, "expired"); err != nil {
			return 0, err
		}
	}
	if sweepErr != nil {
		return len(keys), fmt.Errorf("cleanup expired: %w", sweepErr)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "cleanup complete", "deleted", len(keys))
	return len(keys), nil
}

// CollectGarbage asks the object store to reclaim the space of deleted
// objects. Stores that do not implement physical.GarbageCollector, and
// caches with a zero GCDiscardRatio, are left alone.
func (c *Cache) CollectGarbage(ctx context.Context) (err error) {
	gc, ok := c.backend.(physical.GarbageCollector)
	if !ok || c.opts.GCDiscardRatio <= 0 {
		return nil
	}
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.gc")
	defer func() { op.End(err) }()

	start := time.Now()
	if err = gc.RunGC(c.opts.GCDiscardRatio); err != nil {
		return fmt.Errorf("collect garbage: %w", err)
	}
	c.log.DebugContext(ctx, "garbage collected", "took", time.Since(start))
	return nil
}

// StartCleanup launches a background goroutine that calls Cleanup every
// interval, followed by CollectGarbage when anything was swept. It stops when ctx is cancelled or the cache is closed. A
// non-positive interval disables the sweep.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.log.Info("cleanup goroutine stopped")
				return
			case <-c.done:
				return
			case <-ticker.C:
				count, err := c.Cleanup(ctx)
				if err != nil {
					c.log.ErrorContext(ctx, "periodic cleanup failed", "error", err)
				}
				if count > 0 {
					c.log.InfoContext(ctx, "periodic cleanup completed", "deleted", count)
					if err := c.CollectGarbage(ctx); err != nil {
						c.log.ErrorContext(ctx, "garbage collection failed", "error", err)
					}
				}
			}
		}
	}()
}

// Stats returns the index shape and the object store's statistics.
func (c *Cache) Stats(ctx context.Context) (stats *Stats, err error) {
	op, ctx := observability.StartQuietOperation(ctx, c.metrics, "cache.stats")
	defer func() { op.End(err) }()

	if err = c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	stats = &Stats{
		ID:        c.id,
		Intervals: c.tree.Len(),
		Leaves:    c.tree.Leaves(),
		Nodes:     c.tree.Nodes(),
		Height:    c.tree.Height(),
		Fill:      c.tree.Fill(),
	}
	c.lock.RUnlock()

	if stats.Backend, err = c.backend.Stats(ctx); err != nil {
		return nil, fmt.Errorf("backend stats: %w", err)
	}
	return stats, nil
}

// Verify checks the index's structural invariants.
func (c *Cache) Verify(ctx context.Context) error {
	if err := c.lock.RLock(ctx); err != nil {
		return err
	}
	defer c.lock.RUnlock()
	return c.tree.Verify()
}

// Close stops the background workers and closes the object store.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = c.backend.Close()
		c.log.Info("fact cache closed")
	})
	return err
}

// observe publishes the index shape. The caller holds the lock.
func (c *Cache) observe() {
	c.metrics.SetIndexShape(observability.IndexShape{
		Entries: c.tree.Len(),
		Leaves:  c.tree.Leaves(),
		Height:  c.tree.Height(),
		Fill:    c.tree.Fill(),
	})
}

func ignoreMiss(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
