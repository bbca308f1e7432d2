// Package worker implements the fetch/extract/enqueue loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webgraph/linkcrawler/internal/crawler"
	"github.com/webgraph/linkcrawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	RunID string

	// DomainFilter, when non-nil, confines discovery to matching
	// normalized URLs.
	DomainFilter *regexp.Regexp

	// MaxPages bounds total claims across the worker pool; 0 means
	// unbounded. Attempts shares the running count between workers.
	MaxPages int
	Attempts *atomic.Int64

	ArchivePrefix      string
	ArchiveContentType string
	Topic              string
}

// Worker drains the frontier: claim, fetch, extract, record, repeat.
// All coordination with other workers goes through the frontier and the
// store contracts; workers never talk to each other.
type Worker struct {
	frontier  crawler.Frontier
	urls      crawler.URLStore
	graph     crawler.LinkGraphStore
	fetcher   crawler.Fetcher
	extractor crawler.LinkExtractor
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	health    crawler.StoreHealth
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore, publisher, and health are optional.
func New(
	frontier crawler.Frontier,
	urls crawler.URLStore,
	graph crawler.LinkGraphStore,
	fetcher crawler.Fetcher,
	extractor crawler.LinkExtractor,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	health crawler.StoreHealth,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "text/html; charset=utf-8"
	}
	if cfg.Attempts == nil {
		cfg.Attempts = &atomic.Int64{}
	}
	return &Worker{
		frontier:  frontier,
		urls:      urls,
		graph:     graph,
		fetcher:   fetcher,
		extractor: extractor,
		blobStore: blobStore,
		publisher: publisher,
		health:    health,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming frontier ids until the frontier closes or the
// context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		id, err := w.frontier.Claim(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrFrontierClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim: %w", err)
		}

		if w.cfg.MaxPages > 0 && w.cfg.Attempts.Add(1) > int64(w.cfg.MaxPages) {
			// Budget spent. The id stays unknown in the store, so a
			// later run's recovery sweep picks it back up.
			_ = w.frontier.Release(ctx, id, false)
			w.frontier.Close()
			return nil
		}

		w.processAttempt(ctx, id)
	}
}

// processAttempt runs one claim through the attempt state machine:
// Claimed → Fetching → Succeeded/Failed → Reported. MarkResult is
// called exactly once unless the store is unreachable, in which case the
// attempt is abandoned unmarked and the id requeued.
func (w *Worker) processAttempt(ctx context.Context, id int64) {
	release := context.WithoutCancel(ctx)

	pageURL, err := w.urls.GetURL(ctx, id)
	if err != nil {
		w.handleStoreError(release, id, "resolve claimed id", err)
		return
	}

	start := time.Now()
	resp, fetchErr := w.fetcher.Fetch(ctx, pageURL)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		// Stop signal while fetching: abandon the attempt. The row
		// stays unknown for the next run's recovery sweep.
		_ = w.frontier.Release(release, id, false)
		return
	}

	succeeded := false
	transport := false
	links := 0

	switch {
	case fetchErr != nil:
		transport = true
		metrics.PagesTotal.WithLabelValues("transport_error").Inc()
		w.logger.Warn("fetch transport failure",
			zap.Int64("url_id", id),
			zap.String("url", pageURL),
			zap.Error(fetchErr),
		)
	case resp.Succeeded():
		succeeded = true
		metrics.PagesTotal.WithLabelValues("succeeded").Inc()
		links, err = w.handleLinks(ctx, id, resp)
		if err != nil {
			w.handleStoreError(release, id, "record extracted links", err)
			return
		}
	default:
		metrics.PagesTotal.WithLabelValues("failed").Inc()
		w.logger.Debug("fetch returned non-2xx",
			zap.Int64("url_id", id),
			zap.String("url", pageURL),
			zap.Int("status_code", resp.StatusCode),
		)
	}

	blobURI := ""
	if succeeded && w.blobStore != nil {
		blobURI = w.archive(ctx, id, resp)
	}

	if err := w.urls.MarkResult(ctx, id, succeeded, transport); err != nil {
		w.handleStoreError(release, id, "mark result", err)
		return
	}
	w.storeOK()

	w.publishResult(ctx, crawler.ResultEvent{
		RunID:      w.cfg.RunID,
		URLID:      id,
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Succeeded:  succeeded,
		Transport:  transport,
		Links:      links,
		BlobURI:    blobURI,
	})

	if err := w.frontier.Release(release, id, false); err != nil {
		w.logger.Error("release claim", zap.Int64("url_id", id), zap.Error(err))
	}
}

// handleLinks walks extracted links in the causal order the stores
// require: upsert the URL first so the id exists, then the edge, then
// the frontier entry. Normalization failures are discarded silently.
func (w *Worker) handleLinks(ctx context.Context, pageID int64, resp crawler.Response) (int, error) {
	raw := w.extractor.ExtractLinks(resp)
	metrics.LinksExtracted.Add(float64(len(raw)))

	base := resp.FinalURL
	if base == "" {
		base = resp.URL
	}

	kept := 0
	for _, link := range raw {
		normalized, err := crawler.NormalizeURL(link, base)
		if err != nil {
			metrics.LinksDiscarded.Inc()
			continue
		}
		if w.cfg.DomainFilter != nil && !w.cfg.DomainFilter.MatchString(normalized) {
			continue
		}

		newID, created, err := w.urls.GetOrCreate(ctx, normalized)
		if err != nil {
			return kept, err
		}
		if created {
			metrics.URLsDiscovered.Inc()
		}

		if err := w.graph.AddEdge(ctx, pageID, newID); err != nil {
			return kept, err
		}
		metrics.EdgesAdded.Inc()

		if created {
			if _, err := w.frontier.EnqueueIfAbsent(ctx, newID); err != nil &&
				!errors.Is(err, crawler.ErrFrontierClosed) {
				return kept, err
			}
		}
		kept++
	}
	w.storeOK()
	return kept, nil
}

// handleStoreError finishes an attempt that hit a persistence problem.
// An unreachable backend requeues the id for a later attempt; anything
// else drops the claim and leaves the row for the recovery sweep.
func (w *Worker) handleStoreError(ctx context.Context, id int64, op string, err error) {
	if crawler.IsStoreUnavailable(err) {
		metrics.StoreFailures.Inc()
		if w.health != nil {
			w.health.Failure()
		}
		w.logger.Error("store unavailable, requeueing claim",
			zap.Int64("url_id", id),
			zap.String("op", op),
			zap.Error(err),
		)
		_ = w.frontier.Release(ctx, id, true)
		return
	}
	w.logger.Error("store operation failed",
		zap.Int64("url_id", id),
		zap.String("op", op),
		zap.Error(err),
	)
	_ = w.frontier.Release(ctx, id, false)
}

func (w *Worker) storeOK() {
	if w.health != nil {
		w.health.Success()
	}
}

func (w *Worker) archive(ctx context.Context, id int64, resp crawler.Response) string {
	path := fmt.Sprintf("%d.html", id)
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix != "" {
		path = prefix + "/" + path
	}
	if w.cfg.RunID != "" {
		path = w.cfg.RunID + "/" + path
	}
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ArchiveContentType, resp.Body)
	if err != nil {
		// Archiving is best-effort; the crawl outcome stands.
		w.logger.Warn("archive page", zap.Int64("url_id", id), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) publishResult(ctx context.Context, event crawler.ResultEvent) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("publish result event",
			zap.Int64("url_id", event.URLID),
			zap.Error(err),
		)
	}
}
