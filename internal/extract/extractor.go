// Package extract pulls candidate outbound links from fetched pages.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

// absURLPattern is a conservative fallback for absolute URLs that appear
// in text rather than markup; the normalizer re-validates everything it
// matches.
var absURLPattern = regexp.MustCompile(`\bhttps?://[^\s"'<>)]+`)

var skipSchemes = []string{"mailto:", "javascript:", "data:", "tel:"}

// Extractor implements crawler.LinkExtractor with goquery. It collects
// href and src attribute values from any element carrying them, then
// sweeps the raw body for bare absolute URLs.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractLinks returns the raw link strings found in resp, first-seen
// order, deduplicated. Fragment-only references and non-navigational
// schemes are dropped here; everything else is left for the normalizer
// to accept or reject.
func (e *Extractor) ExtractLinks(resp crawler.Response) []string {
	seen := make(map[string]struct{})
	var links []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		raw = trimTrailingPunct(raw)
		if raw == "" {
			return
		}
		lower := strings.ToLower(raw)
		for _, scheme := range skipSchemes {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}
		if _, dup := seen[raw]; dup {
			return
		}
		seen[raw] = struct{}{}
		links = append(links, raw)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		e.logger.Debug("parse html failed, falling back to text scan",
			zap.String("url", resp.URL), zap.Error(err))
	} else {
		doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("href"); ok {
				add(v)
			}
		})
		doc.Find("[src]").Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("src"); ok {
				add(v)
			}
		})
	}

	for _, m := range absURLPattern.FindAllString(string(resp.Body), -1) {
		add(m)
	}

	return links
}

// trimTrailingPunct strips punctuation that commonly trails URLs in
// prose. Closing brackets are removed only when unbalanced, so paths
// like /wiki/Go_(language) survive intact.
func trimTrailingPunct(s string) string {
	closers := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for len(s) > 0 {
		last := s[len(s)-1]
		if strings.IndexByte(`.,;:!?"'<>`, last) >= 0 {
			s = s[:len(s)-1]
			continue
		}
		if opener, ok := closers[last]; ok {
			if strings.Count(s, string(last)) > strings.Count(s, string(opener)) {
				s = s[:len(s)-1]
				continue
			}
		}
		break
	}
	return s
}
