package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/factcache/physical/physicaltest"
)

func newTestBackend(t *testing.T) physical.Backend {
	t.Helper()
	be, err := NewFactory(context.Background(), map[string]string{KeyInMemory: "true"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { be.Close() })
	return be
}

func TestConformance(t *testing.T) {
	physicaltest.Run(t, newTestBackend)
}

func TestConformanceOnDisk(t *testing.T) {
	physicaltest.Run(t, func(t *testing.T) physical.Backend {
		be, err := NewFactory(context.Background(), map[string]string{KeyPath: t.TempDir()})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { be.Close() })
		return be
	})
}

func TestReopenKeepsObjects(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	be, err := NewFactory(ctx, map[string]string{KeyPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Hour)
	if err := be.Put(ctx, &physical.Object{Key: "persisted", Data: []byte("x"), ExpiresAt: deadline.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	be, err = NewFactory(ctx, map[string]string{KeyPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()

	got, err := be.Get(ctx, "persisted")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got.Data) != "x" {
		t.Errorf("data = %q, want x", got.Data)
	}
	keys, err := be.DeleteExpired(ctx, deadline)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 1 || keys[0] != "persisted" {
		t.Errorf("DeleteExpired = %v, want [persisted]", keys)
	}
}

func TestNativeTTLStillSwept(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	// Already past its deadline: badger drops it immediately, the index does not.
	past := time.Now().Add(-time.Minute)
	if err := be.Put(ctx, &physical.Object{Key: "stale", ExpiresAt: past.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := be.Get(ctx, "stale"); !errors.Is(err, physical.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}

	keys, err := be.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 1 || keys[0] != "stale" {
		t.Errorf("DeleteExpired = %v, want [stale]", keys)
	}
}

func TestMissingPath(t *testing.T) {
	_, err := NewFactory(context.Background(), map[string]string{KeyPath: ""})
	var cfgErr *physical.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyPath {
		t.Errorf("NewFactory = %v, want ConfigError on %s", err, KeyPath)
	}
}

func TestRunGC(t *testing.T) {
	be := newTestBackend(t).(*Backend)
	if err := be.RunGC(0.5); err != nil {
		t.Errorf("RunGC = %v", err)
	}
}

func TestDeleteExpiredLargeBacklog(t *testing.T) {
	const n = 20000
	ctx := context.Background()
	be, err := NewFactory(ctx, map[string]string{
		KeyInMemory:     "true",
		KeyMemTableSize: strconv.Itoa(16 << 20),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()

	deadline := time.Now().Add(time.Hour)
	for i := range n {
		obj := &physical.Object{
			Key:       fmt.Sprintf("backlog/%05d", i),
			Data:      []byte("x"),
			ExpiresAt: deadline.Add(time.Duration(i)).UnixNano(),
		}
		if err := be.Put(ctx, obj); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	// The backlog must not fit in a single transaction.
	db := be.(*Backend).db
	txn := db.NewTransaction(true)
	fits := true
	for i := range n {
		if err := txn.Delete(objectKey(fmt.Sprintf("backlog/%05d", i))); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				t.Fatalf("Delete: %v", err)
			}
			fits = false
			break
		}
	}
	txn.Discard()
	if fits {
		t.Fatalf("%d deletes fit in one transaction; backlog too small", n)
	}

	keys, err := be.DeleteExpired(ctx, deadline.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != n {
		t.Fatalf("DeleteExpired swept %d keys, want %d", len(keys), n)
	}
	seen := make(map[string]bool, n)
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("key %q reported twice", k)
		}
		seen[k] = true
	}

	st, err := be.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Objects != 0 {
		t.Errorf("Objects = %d after sweep, want 0", st.Objects)
	}
	keys, err = be.DeleteExpired(ctx, deadline.Add(time.Hour))
	if err != nil || len(keys) != 0 {
		t.Errorf("second DeleteExpired = %v, %v, want none", keys, err)
	}
}
