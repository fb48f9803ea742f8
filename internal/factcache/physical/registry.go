package physical

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gezibash/tdcache/internal/observability"
)

// Factory creates a backend from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type backendEntry struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	backends   = make(map[string]backendEntry)
	backendsMu sync.RWMutex
)

// Register registers a backend factory with the given name.
// Panics if a backend with the same name is already registered.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("object store backend %q already registered", name))
	}
	backends[name] = backendEntry{factory: factory, defaults: defaults}
}

// GetDefaults returns the default configuration for a backend.
func GetDefaults(name string) map[string]string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	entry, ok := backends[name]
	if !ok || entry.defaults == nil {
		return nil
	}
	return entry.defaults()
}

// ListBackends returns the names of all registered backends.
func ListBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// New creates a backend by name. config overrides the backend's defaults.
func New(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (be Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "physical.new")
	defer func() { op.End(err) }()

	backendsMu.RLock()
	entry, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, NewConfigError(name, "", fmt.Sprintf("unknown object store backend %q (available: %v)", name, ListBackends()))
	}

	var defaults map[string]string
	if entry.defaults != nil {
		defaults = entry.defaults()
	}

	be, err = entry.factory(ctx, MergeConfig(defaults, config))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "object store backend created", "backend", name)
	return be, nil
}
