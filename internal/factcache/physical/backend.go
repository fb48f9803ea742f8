// Package physical provides the object store interface behind the fact cache.
package physical

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested object was not found.
	ErrNotFound = errors.New("object not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrRejected indicates the backend declined to admit an object.
	ErrRejected = errors.New("object rejected")
)

// Object is a cached object. Key is the value stored in the temporal index.
type Object struct {
	Key       string            `json:"key"`
	Data      []byte            `json:"data,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	StoredAt  int64             `json:"stored_at"`
	ExpiresAt int64             `json:"expires_at,omitempty"`
}

// Expired reports whether the object has a deadline at or before now.
func (o *Object) Expired(now time.Time) bool {
	return o.ExpiresAt > 0 && o.ExpiresAt <= now.UnixNano()
}

// TTL returns the time left until ExpiresAt, or zero for objects that never
// expire. Objects already past their deadline get a minimal positive TTL.
func (o *Object) TTL(now time.Time) time.Duration {
	if o.ExpiresAt <= 0 {
		return 0
	}
	ttl := time.Duration(o.ExpiresAt - now.UnixNano())
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return ttl
}

// Stats contains storage statistics.
type Stats struct {
	Objects     int64
	SizeBytes   int64
	BackendType string
}

// Backend is the object store interface. All implementations must be
// thread-safe.
type Backend interface {
	Put(ctx context.Context, obj *Object) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error

	// DeleteExpired removes objects whose deadline is at or before now and
	// returns their keys. A sweep that fails partway returns the keys it
	// already removed along with the error.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// GarbageCollector is implemented by backends whose deletes leave space
// behind until an explicit collection pass.
type GarbageCollector interface {
	// RunGC rewrites storage files with at least discardRatio of their
	// space held by deleted data.
	RunGC(discardRatio float64) error
}

// EvictionSource is implemented by backends that drop objects on their own,
// outside of DeleteExpired. The callback receives the key of every object
// the backend evicted or refused to admit, and must not block.
type EvictionSource interface {
	OnEvict(fn func(key string))
}
