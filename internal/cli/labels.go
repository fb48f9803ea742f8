package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ParseLabels converts "key=value" flag values to a map. Later values win.
func ParseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid label %q (expected key=value)", p)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid label %q: empty key", p)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// FormatLabels renders labels sorted by key, or "-" when there are none.
func FormatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}
