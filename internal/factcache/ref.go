package factcache

import (
	"fmt"
	"strconv"
	"strings"
)

// Ref names one version of an object: the identifier and an instant within
// the version's validity.
type Ref struct {
	ID      string
	Version int64
}

// ParseRef parses "id@version". The identifier may itself contain '@'; the
// last one separates the version.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	v, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || v < 0 {
		return Ref{}, fmt.Errorf("%w: %q: bad version", ErrInvalidRef, s)
	}
	return Ref{ID: s[:i], Version: v}, nil
}

func (r Ref) String() string {
	return r.ID + "@" + strconv.FormatInt(r.Version, 10)
}
