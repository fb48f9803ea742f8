package physical

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings is a backend's string configuration map with typed accessors.
// Parse failures are returned as *ConfigError tagged with the backend name.
type Settings struct {
	Backend string
	Values  map[string]string
}

// NewSettings wraps values for the named backend.
func NewSettings(backend string, values map[string]string) Settings {
	return Settings{Backend: backend, Values: values}
}

func (s Settings) lookup(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok && v != ""
}

func (s Settings) invalid(key, value, message string, cause error) *ConfigError {
	return &ConfigError{Backend: s.Backend, Field: key, Value: value, Message: message, Cause: cause}
}

// String returns the value for key, or def if absent or empty.
func (s Settings) String(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

// Bool accepts true/false, 1/0 and yes/no, case-insensitively.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, s.invalid(key, v, "must be a boolean (true/false, 1/0, yes/no)", nil)
}

// Int returns key parsed as an int.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, s.invalid(key, v, "must be an integer", err)
	}
	return i, nil
}

// Int64 returns key parsed as an int64.
func (s Settings) Int64(key string, def int64) (int64, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, s.invalid(key, v, "must be an integer", err)
	}
	return i, nil
}

// Duration accepts Go duration strings or plain integers as seconds.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, s.invalid(key, v, "must be a duration (e.g., '5s', '1m30s') or integer seconds", nil)
}

// Path returns key with a leading ~ expanded to the home directory.
func (s Settings) Path(key, def string) string {
	return ExpandPath(s.String(key, def))
}

// ExpandPath expands ~ to the user's home directory and cleans the path.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
