package refresh

import (
	"context"
	"io"
	"time"
)

// Connector opens a Store scoped to one run.
type Connector interface {
	Connect(ctx context.Context) (Store, error)
}

// Store replaces the terms dictionary and clears the derived regex cache in a
// single transaction.
type Store interface {
	ReplaceTerms(ctx context.Context, payload []byte) (Replacement, error)
	Close() error
}

// Replacement describes what a committed ReplaceTerms changed.
type Replacement struct {
	BytesStored      int
	RegexRowsCleared int64
}

// Fetcher retrieves the terms document. Any non-2xx response is an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Archiver writes a copy of the payload and returns its URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes refresh notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder observes the outcome of every run.
type Recorder interface {
	Observe(outcome Outcome, res Result)
}

// Hasher computes payload digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
	Since(start time.Time) time.Duration
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
