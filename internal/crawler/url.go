package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// MaxURLLength caps stored URLs, matching the CHECK constraint on
// found_urls.url.
const MaxURLLength = 4096

// NormalizeURL canonicalizes a raw link so that equivalent links compare
// equal. Relative references are resolved against baseURL (which may be
// empty for seed URLs). The scheme and host are lowercased, default
// ports and fragments are stripped, redundant path segments collapse,
// and query parameters are re-encoded in sorted order.
//
// It is a pure function: equal inputs always normalize identically. That
// determinism is what backs the one-row-per-URL guarantee in the store.
//
// Links that are malformed, longer than MaxURLLength after
// normalization, or outside the http/https allow-list fail with
// ErrInvalidURL.
func NormalizeURL(rawURL, baseURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("%w: empty link", ErrInvalidURL)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return "", fmt.Errorf("%w: bad base %q: %v", ErrInvalidURL, baseURL, err)
		}
		ref = base.ResolveReference(ref)
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)

	switch ref.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, ref.Scheme)
	}
	if ref.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if ref.Scheme == "http" {
		ref.Host = strings.TrimSuffix(ref.Host, ":80")
	}
	if ref.Scheme == "https" {
		ref.Host = strings.TrimSuffix(ref.Host, ":443")
	}

	ref.Fragment = ""
	ref.RawFragment = ""

	ref.Path = cleanPath(ref.Path)
	ref.RawPath = ""

	if ref.RawQuery != "" {
		ref.RawQuery = ref.Query().Encode()
	}

	normalized := ref.String()
	if len(normalized) > MaxURLLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidURL, MaxURLLength)
	}
	return normalized, nil
}

// cleanPath collapses "." and ".." segments while preserving a trailing
// slash, and gives empty paths the canonical "/".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	trailing := strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		cleaned = "/"
	}
	if trailing && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}
