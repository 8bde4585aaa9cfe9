package timeutil

import (
	"fmt"
	"time"
)

// StorageLayout is the only timestamp representation allowed at the storage
// boundary. Sub-second precision is deliberately absent: mixed precision in
// stored strings breaks exact-match queries against snapshot timestamps.
const StorageLayout = "2006-01-02 15:04:05"

const (
	SecondsPerDay  int64 = 86400
	SecondsPerYear int64 = 365 * 86400
)

// Format renders a Unix-seconds timestamp as a storage string in UTC.
func Format(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(StorageLayout)
}

// Parse converts a storage string back to Unix seconds. The string must be
// in StorageLayout form exactly; anything else is a data error, not a
// fallback case. time.ParseInLocation alone is too lenient here: it accepts
// trailing fractional seconds the layout does not carry, which is exactly
// the mixed-precision input the fixed layout exists to keep out.
func Parse(s string) (int64, error) {
	t, err := time.ParseInLocation(StorageLayout, s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid storage timestamp %q: %w", s, err)
	}
	if Format(t.Unix()) != s {
		return 0, fmt.Errorf("invalid storage timestamp %q: not in canonical %q form", s, StorageLayout)
	}
	return t.Unix(), nil
}

// Days converts a span of Unix seconds to fractional days.
func Days(fromTS, toTS int64) float64 {
	if toTS <= fromTS {
		return 0
	}
	return float64(toTS-fromTS) / float64(SecondsPerDay)
}

// YearFraction converts a span of Unix seconds to a fraction of a 365-day year.
func YearFraction(fromTS, toTS int64) float64 {
	if toTS <= fromTS {
		return 0
	}
	return float64(toTS-fromTS) / float64(SecondsPerYear)
}
