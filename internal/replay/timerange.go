package replay

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTime parses a replay bound given as Unix milliseconds, an RFC3339
// timestamp or a YYYY-MM-DD date (UTC midnight). Empty input returns 0.
func ParseTime(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time %q: want unix ms, RFC3339 or YYYY-MM-DD", s)
}
