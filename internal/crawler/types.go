// Package crawler defines core types shared across subsystems.
package crawler

import "net/http"

// URLStatus is the fetch lifecycle state of a discovered URL.
//
// The persistence layer maps it to the nullable boolean column in
// found_urls: NULL for Unknown, TRUE for Succeeded, FALSE for Failed.
// An explicit three-variant type above the store keeps null handling out
// of the application layer.
type URLStatus int

// URL status values.
const (
	StatusUnknown URLStatus = iota
	StatusSucceeded
	StatusFailed
)

// String returns a human-readable status name.
func (s URLStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// URLRecord is a row of the found_urls table.
type URLRecord struct {
	ID     int64
	URL    string
	Status URLStatus

	// TransportError is true only when a fetch attempt failed at the
	// transport level (timeout, reset, DNS, TLS). A received non-2xx
	// response leaves it false.
	TransportError bool
}

// Response is the outcome of a completed HTTP exchange.
type Response struct {
	// URL is the address that was requested.
	URL string
	// FinalURL is the address after redirects, when the transport reports it.
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Succeeded reports whether the response counts as a crawl success (2xx).
func (r Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Counts aggregates end-of-run URL totals for operators.
type Counts struct {
	Total           int64
	Succeeded       int64
	Failed          int64
	TransportErrors int64
	Edges           int64
}

// ResultEvent is the payload published for each completed fetch attempt
// when a publisher topic is configured.
type ResultEvent struct {
	RunID      string `json:"run_id"`
	URLID      int64  `json:"url_id"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Succeeded  bool   `json:"succeeded"`
	Transport  bool   `json:"transport_error"`
	Links      int    `json:"links_extracted"`
	BlobURI    string `json:"blob_uri,omitempty"`
}
