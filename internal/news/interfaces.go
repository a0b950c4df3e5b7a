package news

import (
	"context"
	"time"
)

// Fetcher queries a feed source for a single keyword.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]Item, error)
}

// Resolver maps a possibly redirect-wrapped URL to its final destination.
// Implementations never fail; they fall back to the input URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) string
}

// Publisher pushes composed digests to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for downstream deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
