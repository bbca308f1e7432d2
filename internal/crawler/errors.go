package crawler

import (
	"errors"
	"fmt"
)

// ErrInvalidURL rejects links that cannot be normalized. Such links are
// dropped silently; they are never a crawl failure and never retried.
var ErrInvalidURL = errors.New("invalid url")

// ErrFrontierClosed signals that the frontier has drained (or was
// force-closed) and no more work will arrive.
var ErrFrontierClosed = errors.New("frontier closed")

// ErrNotFound is returned by store lookups for ids that do not exist.
var ErrNotFound = errors.New("not found")

// TransportError wraps a fetch that could not complete the HTTP
// exchange, as opposed to a successfully received non-2xx response.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StoreUnavailableError marks a persistence operation that failed because
// the backend was unreachable. The current attempt is abandoned without a
// recorded result and the id is requeued.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsStoreUnavailable reports whether err is (or wraps) a StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}
