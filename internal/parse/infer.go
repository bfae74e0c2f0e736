package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	integerPattern = regexp.MustCompile(`^-?(0|[1-9]\d*)$`)
	decimalPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)
)

// InferScalar converts leaf text into a bool, int64, float64 or canonical
// RFC 3339 timestamp string when it unambiguously looks like one. Integers
// with leading zeros stay strings so identifiers like postal codes survive.
func InferScalar(s string) any {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "true":
		return true
	case "false":
		return false
	}
	if integerPattern.MatchString(t) {
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	if decimalPattern.MatchString(t) {
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	if isoDatePattern.MatchString(t) {
		if ts, ok := parseTimestamp(t); ok {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return t
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
