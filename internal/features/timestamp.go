package features

import (
	"strings"
	"time"
)

// neutralHour is the fallback used when a timestamp cannot be parsed:
// midday carries no off-hours or weekend signal.
const neutralHour = 12

// ParseTimestamp parses a wire timestamp, tolerating the malformed offsets
// some upstream feeds produce: a doubled "+00:00+00:00" suffix, a trailing
// "Z" on an already-offset value, or an offset repeated anywhere in the
// string. Returns ok=false (with a neutral midday fallback) when the value
// still does not parse.
func ParseTimestamp(s string) (time.Time, bool) {
	cleaned := normalizeTimestamp(s)

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, true
		}
	}

	return time.Date(1970, 1, 1, neutralHour, 0, 0, 0, time.UTC), false
}

func normalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "+00:00+00:00") {
		s = strings.Replace(s, "+00:00+00:00", "+00:00", 1)
	} else if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}

	// Collapse any remaining repeated offsets, keeping the first.
	if n := strings.Count(s, "+00:00"); n > 1 {
		first := strings.Index(s, "+00:00") + len("+00:00")
		s = s[:first] + strings.ReplaceAll(s[first:], "+00:00", "")
	}

	return s
}
