package crawler

import (
	"context"
)

// URLStore is the durable mapping from normalized URL to identity and
// fetch outcome. Implementations must make GetOrCreate safe under
// concurrent calls with the same URL: exactly one row is created and
// losers of the race receive the winner's id.
type URLStore interface {
	// GetOrCreate upserts a normalized URL and returns its id.
	// created is true only for the call that inserted the row.
	GetOrCreate(ctx context.Context, normalizedURL string) (id int64, created bool, err error)

	// MarkResult records the outcome of one fetch attempt. Last write
	// wins if called twice for the same id.
	MarkResult(ctx context.Context, id int64, succeeded bool, transportError bool) error

	// GetURL resolves an id back to its normalized URL.
	GetURL(ctx context.Context, id int64) (string, error)

	// UnknownIDs returns a snapshot of ids that have never been
	// attempted (status unknown, no transport error). Used by the
	// recovery sweep at startup.
	UnknownIDs(ctx context.Context) ([]int64, error)

	// Counts reports aggregate totals for the end-of-run summary.
	Counts(ctx context.Context) (Counts, error)
}

// LinkGraphStore owns the referencing→referenced edge rows. Inserting an
// existing edge is a no-op; self-loops are allowed.
type LinkGraphStore interface {
	AddEdge(ctx context.Context, referencingID, referencedID int64) error
}

// Frontier hands each pending URL id to exactly one worker at a time and
// guards against re-enqueueing an id that is queued or in flight.
type Frontier interface {
	// EnqueueIfAbsent queues an id unless it is already queued or
	// claimed. Returns true if the id was added.
	EnqueueIfAbsent(ctx context.Context, id int64) (bool, error)

	// Claim blocks until an id is available, the frontier drains, or ctx
	// ends. A drained frontier returns ErrFrontierClosed to all current
	// and future callers.
	Claim(ctx context.Context) (int64, error)

	// Release finishes an attempt. With requeue the id re-enters the
	// queue; otherwise it is dropped from both sets permanently.
	Release(ctx context.Context, id int64, requeue bool) error

	// Close force-closes the frontier, unblocking all claimers.
	Close()
}

// Fetcher performs one HTTP exchange. A returned error is always a
// transport-level failure; a received response of any status code is a
// normal outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// LinkExtractor pulls raw outbound link strings from a fetched response.
type LinkExtractor interface {
	ExtractLinks(resp Response) []string
}

// BlobStore archives raw page bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes per-URL result events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StoreHealth observes persistence availability so the crawl loop can
// trip a circuit breaker instead of spinning on a dead backend.
type StoreHealth interface {
	Failure()
	Success()
}
