package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Bound formats an interval bound, printing the open end as "open".
func Bound(v int64) string {
	if v == math.MaxInt64 {
		return "open"
	}
	return fmt.Sprint(v)
}

// Bytes formats a size, or "n/a" when the size is unknown (negative).
func Bytes(n int64) string {
	if n < 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(n))
}

// Count formats an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// Rate formats n operations over d as a per-second rate.
func Rate(n int, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return humanize.CommafWithDigits(float64(n)/d.Seconds(), 0) + "/s"
}

// Percent formats a ratio in [0, 1].
func Percent(f float64) string {
	return humanize.FormatFloat("#,###.#", f*100) + "%"
}
