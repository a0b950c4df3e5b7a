// Package recency decides whether a feed timestamp falls inside a rolling window.
package recency

import (
	"strings"
	"time"
)

// DefaultWindow is the rolling period used when callers do not override it.
const DefaultWindow = 24 * time.Hour

// layouts lists the RFC-822 style variants seen in syndication feeds. Named
// zones come first, numeric offsets second.
var layouts = []string{
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// Parse converts raw feed timestamp text into a time. Zone abbreviations are
// interpreted against UTC, so unknown names such as GMT carry a zero offset.
func Parse(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsRecent reports whether text parses and now minus the timestamp is at most
// window. Timestamps in the future are accepted.
func IsRecent(text string, now time.Time, window time.Duration) bool {
	t, ok := Parse(text)
	if !ok {
		return false
	}
	return now.Sub(t) <= window
}
