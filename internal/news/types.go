// Package news defines the core types shared across the digest subsystems.
package news

import "time"

// Item is a single feed entry found under a keyword. Items are values and are
// never mutated after the fetcher creates them.
type Item struct {
	Label     string `json:"label"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Published string `json:"published"`
}

// Digest is the payload forwarded to a messaging topic after export.
type Digest struct {
	SessionID  string    `json:"session_id"`
	Message    string    `json:"message"`
	Items      []Item    `json:"items"`
	Hash       string    `json:"hash"`
	ComposedAt time.Time `json:"composed_at"`
}
