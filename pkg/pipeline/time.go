package pipeline

import "time"

// parseTimestamp accepts RFC3339 (with or without fractional seconds), the
// two formats Claude Code transcripts are observed to emit.
func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
