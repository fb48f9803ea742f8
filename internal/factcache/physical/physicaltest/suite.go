// Package physicaltest provides a conformance suite and shared fixtures for
// object store backends.
package physicaltest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/gezibash/tdcache/internal/factcache/physical"
)

// FarFuture is a deadline no test run will reach (~2035-01-01).
var FarFuture = time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC)

// MakeObject creates an object with a few labels and no deadline.
func MakeObject(rng *rand.Rand, i int) *physical.Object {
	return &physical.Object{
		Key:      fmt.Sprintf("obj-%06d", i),
		Data:     []byte(fmt.Sprintf("payload %d", rng.Int())),
		Labels:   map[string]string{"kind": []string{"road", "building", "sensor"}[rng.Intn(3)]},
		StoredAt: time.Now().UnixNano(),
	}
}

// Run exercises the physical.Backend contract against backends produced by
// newBackend. Each subtest gets a fresh, empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) physical.Backend) {
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, newBackend(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newBackend(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newBackend(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newBackend(t)) })
	t.Run("OverwriteMovesDeadline", func(t *testing.T) { testOverwriteMovesDeadline(t, newBackend(t)) })
	t.Run("DeadlineBoundary", func(t *testing.T) { testDeadlineBoundary(t, newBackend(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func testPutAndGet(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	obj := &physical.Object{
		Key:       "road/17",
		Data:      []byte("geometry"),
		Labels:    map[string]string{"kind": "road"},
		StoredAt:  time.Now().UnixNano(),
		ExpiresAt: FarFuture.UnixNano(),
	}
	if err := be.Put(ctx, obj); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := be.Get(ctx, "road/17")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Key != obj.Key || string(got.Data) != "geometry" {
		t.Errorf("Get = %+v, want %+v", got, obj)
	}
	if got.Labels["kind"] != "road" {
		t.Errorf("labels = %v, want kind=road", got.Labels)
	}
	if got.StoredAt != obj.StoredAt || got.ExpiresAt != obj.ExpiresAt {
		t.Errorf("times = %d/%d, want %d/%d", got.StoredAt, got.ExpiresAt, obj.StoredAt, obj.ExpiresAt)
	}
}

func testGetNotFound(t *testing.T, be physical.Backend) {
	if _, err := be.Get(context.Background(), "missing"); !errors.Is(err, physical.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func testOverwrite(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	for _, data := range []string{"v1", "v2"} {
		if err := be.Put(ctx, &physical.Object{Key: "k", Data: []byte(data)}); err != nil {
			t.Fatalf("Put(%s): %v", data, err)
		}
	}
	got, err := be.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "v2" {
		t.Errorf("data = %q, want v2", got.Data)
	}
}

func testDelete(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	if err := be.Put(ctx, &physical.Object{Key: "gone", ExpiresAt: FarFuture.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := be.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := be.Get(ctx, "gone"); !errors.Is(err, physical.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := be.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	// A deleted object is no longer swept.
	keys, err := be.DeleteExpired(ctx, FarFuture.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("DeleteExpired = %v after Delete, want none", keys)
	}
}

func testDeleteExpired(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	now := time.Now()
	soon := now.Add(time.Hour)

	for i := range 10 {
		obj := &physical.Object{Key: fmt.Sprintf("k%02d", i), Data: []byte{byte(i)}}
		switch i % 3 {
		case 0:
			obj.ExpiresAt = soon.Add(time.Duration(i) * time.Second).UnixNano()
		case 1:
			obj.ExpiresAt = FarFuture.UnixNano()
		}
		if err := be.Put(ctx, obj); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	keys, err := be.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired(now): %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("DeleteExpired(now) = %v, want none", keys)
	}

	keys, err = be.DeleteExpired(ctx, soon.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	slices.Sort(keys)
	want := []string{"k00", "k03", "k06", "k09"}
	if !slices.Equal(keys, want) {
		t.Errorf("DeleteExpired = %v, want %v", keys, want)
	}
	for _, k := range want {
		if _, err := be.Get(ctx, k); !errors.Is(err, physical.ErrNotFound) {
			t.Errorf("Get(%s) after sweep = %v, want ErrNotFound", k, err)
		}
	}
	for _, k := range []string{"k01", "k02", "k04"} {
		if _, err := be.Get(ctx, k); err != nil {
			t.Errorf("Get(%s) = %v, want survivor", k, err)
		}
	}

	keys, err = be.DeleteExpired(ctx, soon.Add(time.Minute))
	if err != nil || len(keys) != 0 {
		t.Errorf("second sweep = %v, %v, want none", keys, err)
	}
}

// testDeadlineBoundary checks that an object is not swept even a
// nanosecond before its deadline.
func testDeadlineBoundary(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	now := time.Now().Add(time.Hour)

	if err := be.Put(ctx, &physical.Object{Key: "edge", ExpiresAt: now.Add(time.Nanosecond).UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	keys, err := be.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired(now): %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("DeleteExpired(now) = %v, want none before the deadline", keys)
	}
	keys, err = be.DeleteExpired(ctx, now.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 1 || keys[0] != "edge" {
		t.Errorf("DeleteExpired = %v, want [edge]", keys)
	}
}

func testOverwriteMovesDeadline(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	soon := time.Now().Add(time.Hour)

	if err := be.Put(ctx, &physical.Object{Key: "k", ExpiresAt: soon.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := be.Put(ctx, &physical.Object{Key: "k", ExpiresAt: FarFuture.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	keys, err := be.DeleteExpired(ctx, soon.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("DeleteExpired = %v, want the old deadline forgotten", keys)
	}
	if _, err := be.Get(ctx, "k"); err != nil {
		t.Errorf("Get = %v, want object kept", err)
	}
}

func testStats(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	for i := range 25 {
		if err := be.Put(ctx, MakeObject(rng, i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	st, err := be.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.BackendType == "" {
		t.Error("Stats.BackendType is empty")
	}
	if st.Objects != 25 {
		t.Errorf("Stats.Objects = %d, want 25", st.Objects)
	}
}

func testClosed(t *testing.T, be physical.Backend) {
	ctx := context.Background()
	if err := be.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := be.Put(ctx, &physical.Object{Key: "k"}); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if _, err := be.Get(ctx, "k"); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if _, err := be.DeleteExpired(ctx, time.Now()); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("DeleteExpired after Close = %v, want ErrClosed", err)
	}
}
