package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/factcache/physical/physicaltest"
)

// newTestBackend connects to TDCACHE_TEST_REDIS_ADDR with a unique key
// prefix so parallel runs do not collide.
func newTestBackend(t *testing.T) physical.Backend {
	t.Helper()
	addr := os.Getenv("TDCACHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TDCACHE_TEST_REDIS_ADDR not set")
	}
	prefix := fmt.Sprintf("tdcache-test:%s:", uuid.NewString())
	be, err := NewFactory(context.Background(), map[string]string{
		KeyAddr:      addr,
		KeyKeyPrefix: prefix,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		rb := be.(*Backend)
		if !rb.closed.Load() {
			ctx := context.Background()
			keys, _ := rb.client.Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				rb.client.Del(ctx, keys...)
			}
		}
		be.Close()
	})
	return be
}

func TestConformance(t *testing.T) {
	physicaltest.Run(t, newTestBackend)
}

func TestNativeExpiryStillSwept(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	deadline := time.Now().Add(50 * time.Millisecond)
	if err := be.Put(ctx, &physical.Object{Key: "brief", ExpiresAt: deadline.UnixNano()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := be.Get(ctx, "brief"); !errors.Is(err, physical.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}

	keys, err := be.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(keys) != 1 || keys[0] != "brief" {
		t.Errorf("DeleteExpired = %v, want [brief]", keys)
	}
}

func TestUnreachable(t *testing.T) {
	_, err := NewFactory(context.Background(), map[string]string{
		KeyAddr:        "127.0.0.1:1",
		KeyDialTimeout: "200ms",
		KeyMaxRetries:  "0",
	})
	var cfgErr *physical.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyAddr {
		t.Errorf("NewFactory = %v, want ConfigError on %s", err, KeyAddr)
	}
}

func TestInvalidDB(t *testing.T) {
	_, err := NewFactory(context.Background(), map[string]string{KeyAddr: "localhost:6379", KeyDB: "-2"})
	var cfgErr *physical.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyDB {
		t.Errorf("NewFactory = %v, want ConfigError on %s", err, KeyDB)
	}
}

func TestDeadlineScoreNeverEarly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC).UnixNano()
	for i := range 100000 {
		now := base + rng.Int63n(int64(time.Hour))
		if i%4 == 0 {
			now -= now % int64(time.Millisecond)
		}
		sweep, err := strconv.ParseFloat(sweepScore(time.Unix(0, now)), 64)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range []int64{1, 255, 999_999, int64(time.Millisecond)} {
			if deadlineScore(now+d) <= sweep {
				t.Fatalf("deadline now+%dns swept at now=%d", d, now)
			}
		}
		if deadlineScore(now) > sweep+1 {
			t.Fatalf("deadline %d not swept a millisecond later", now)
		}
		if deadlineScore(now-int64(time.Millisecond)) > sweep {
			t.Fatalf("deadline %d not swept at %d", now-int64(time.Millisecond), now)
		}
	}
}
