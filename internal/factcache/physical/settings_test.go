package physical

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestSettingsString(t *testing.T) {
	s := NewSettings("memory", map[string]string{"key": "value", "empty": ""})

	if got := s.String("key", "default"); got != "value" {
		t.Errorf("String = %q, want %q", got, "value")
	}
	if got := s.String("missing", "default"); got != "default" {
		t.Errorf("String missing = %q, want %q", got, "default")
	}
	if got := s.String("empty", "default"); got != "default" {
		t.Errorf("String empty = %q, want %q", got, "default")
	}
}

func TestSettingsBool(t *testing.T) {
	s := NewSettings("badger", map[string]string{"yes": "YES", "no": "0", "bad": "maybe"})

	if v, err := s.Bool("yes", false); err != nil || !v {
		t.Errorf("Bool yes = %v, %v", v, err)
	}
	if v, err := s.Bool("no", true); err != nil || v {
		t.Errorf("Bool no = %v, %v", v, err)
	}
	if v, err := s.Bool("missing", true); err != nil || !v {
		t.Errorf("Bool missing = %v, %v", v, err)
	}

	_, err := s.Bool("bad", false)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Bool bad = %v, want *ConfigError", err)
	}
	if cfgErr.Backend != "badger" || cfgErr.Field != "bad" || cfgErr.Value != "maybe" {
		t.Errorf("ConfigError = %+v", cfgErr)
	}
}

func TestSettingsInt(t *testing.T) {
	s := NewSettings("redis", map[string]string{"num": "42", "big": "8589934592", "bad": "abc"})

	if v, err := s.Int("num", 0); err != nil || v != 42 {
		t.Errorf("Int = %d, %v", v, err)
	}
	if v, err := s.Int("missing", 99); err != nil || v != 99 {
		t.Errorf("Int missing = %d, %v", v, err)
	}
	if v, err := s.Int64("big", 0); err != nil || v != 1<<33 {
		t.Errorf("Int64 = %d, %v", v, err)
	}

	_, err := s.Int("bad", 0)
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("Int bad = %v, want wrapped strconv.ErrSyntax", err)
	}
}

func TestSettingsDuration(t *testing.T) {
	s := NewSettings("redis", map[string]string{"dur": "5s", "secs": "10", "bad": "abc"})

	if v, err := s.Duration("dur", 0); err != nil || v != 5*time.Second {
		t.Errorf("Duration = %v, %v", v, err)
	}
	if v, err := s.Duration("secs", 0); err != nil || v != 10*time.Second {
		t.Errorf("Duration secs = %v, %v", v, err)
	}
	if v, err := s.Duration("missing", time.Minute); err != nil || v != time.Minute {
		t.Errorf("Duration missing = %v, %v", v, err)
	}
	if _, err := s.Duration("bad", 0); err == nil {
		t.Error("Duration bad: expected error")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/tdcache/objects"); got != filepath.Join(home, "tdcache", "objects") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/var//lib/tdcache/"); got != "/var/lib/tdcache" {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath empty = %q", got)
	}
}

func TestMergeConfig(t *testing.T) {
	dst := map[string]string{"a": "1", "b": "2"}
	src := map[string]string{"b": "3", "c": "4"}

	got := MergeConfig(dst, src)
	want := map[string]string{"a": "1", "b": "3", "c": "4"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("merged[%q] = %q, want %q", k, got[k], v)
		}
	}
	if dst["b"] != "2" {
		t.Error("MergeConfig modified dst")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  *ConfigError
		want string
	}{
		{&ConfigError{Backend: "sqlite", Message: "unavailable"}, "sqlite: unavailable"},
		{NewConfigError("sqlite", "path", "cannot be empty"), "sqlite: path: cannot be empty"},
		{&ConfigError{Backend: "redis", Field: "db", Value: "-1", Message: "must be non-negative"}, `redis: db="-1": must be non-negative`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
	if err := NewConfigErrorWithCause("badger", "path", "open failed", cause); !errors.Is(err, cause) {
		t.Error("ConfigError does not unwrap to its cause")
	}
}

func TestObjectTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	never := &Object{Key: "k"}
	if never.Expired(now) || never.TTL(now) != 0 {
		t.Errorf("object without deadline: Expired=%v TTL=%v", never.Expired(now), never.TTL(now))
	}

	soon := &Object{Key: "k", ExpiresAt: now.Add(time.Minute).UnixNano()}
	if soon.Expired(now) || soon.TTL(now) != time.Minute {
		t.Errorf("future object: Expired=%v TTL=%v", soon.Expired(now), soon.TTL(now))
	}

	past := &Object{Key: "k", ExpiresAt: now.Add(-time.Minute).UnixNano()}
	if !past.Expired(now) || past.TTL(now) <= 0 {
		t.Errorf("past object: Expired=%v TTL=%v", past.Expired(now), past.TTL(now))
	}
}
