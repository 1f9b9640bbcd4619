package protocol

import (
	"regexp"
	"strings"
	"time"
)

// timestampPattern matches an ISO-8601 timestamp at the start of a line,
// with an optional fractional second and an optional Z or ±HH:MM offset.
var timestampPattern = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d{1,9})?(?:Z|[+-]\d{2}:?\d{2})?)(?:\s+|$)`)

// Layouts tried in order. Zone-less timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses a log timestamp in any of the accepted variants:
// whole seconds, millisecond or microsecond fraction, trailing Z, or an
// explicit numeric UTC offset.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SplitTimestamp separates a leading timestamp from the rest of the line. It
// returns ok=false when the line does not start with a parseable timestamp,
// which is the normal case for lines read straight off the serial port.
func SplitTimestamp(line string) (ts time.Time, rest string, ok bool) {
	line = strings.TrimSpace(line)
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, line, false
	}
	ts, ok = ParseTimestamp(m[1])
	if !ok {
		return time.Time{}, line, false
	}
	return ts, strings.TrimSpace(line[len(m[0]):]), true
}
