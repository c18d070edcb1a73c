package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (FetchResponse, error)
}

// Extractor turns raw page markup into a Record.
type Extractor interface {
	Extract(markup []byte, id int) (Record, Outcome)
}

// AssetResolver localizes images referenced in one record's HTML fragments
// using the caller's fetch client. Fragments come back in input order.
type AssetResolver interface {
	Resolve(ctx context.Context, client Fetcher, id int, pageURL string, fragments ...string) ([]string, AssetReport)
}

// SampleWriter persists sample input/output files for one record.
type SampleWriter interface {
	WriteSamples(ctx context.Context, rec Record) (string, error)
}

// CheckpointStore persists the mapping of identifiers to records.
type CheckpointStore interface {
	Load(ctx context.Context) (Records, error)
	Save(ctx context.Context, records Records) error
}

// RecordSink mirrors persisted records into an external store.
type RecordSink interface {
	StoreRecord(ctx context.Context, rec Record) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RobotsPolicy decides whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Pacer enforces a minimum delay between consecutive requests of one worker.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Hasher computes digests for asset naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
