// Package engine orchestrates the crawl: recovery sweep, seeding, and
// the worker pool draining the frontier.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webgraph/linkcrawler/internal/crawler"
	"github.com/webgraph/linkcrawler/internal/worker"
)

// ErrStoreCircuitOpen ends a run after too many consecutive store
// failures, instead of letting workers spin against a dead backend.
var ErrStoreCircuitOpen = errors.New("store circuit breaker tripped")

// Config controls a crawl run.
type Config struct {
	Seeds            []string
	Concurrency      int
	BreakerThreshold int
	MaxPages         int
	DomainFilter     *regexp.Regexp

	ArchivePrefix      string
	ArchiveContentType string
	Topic              string
}

// Summary reports aggregate end-of-run totals.
type Summary struct {
	RunID    string
	Counts   crawler.Counts
	Duration time.Duration
}

// Engine wires the stores, frontier, and fetch collaborators into a
// fixed pool of workers.
type Engine struct {
	cfg       Config
	urls      crawler.URLStore
	graph     crawler.LinkGraphStore
	frontier  crawler.Frontier
	fetcher   crawler.Fetcher
	extractor crawler.LinkExtractor
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	logger    *zap.Logger
}

// New constructs an Engine. blobStore and publisher are optional.
func New(
	cfg Config,
	urls crawler.URLStore,
	graph crawler.LinkGraphStore,
	frontier crawler.Frontier,
	fetcher crawler.Fetcher,
	extractor crawler.LinkExtractor,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	logger *zap.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	return &Engine{
		cfg:       cfg,
		urls:      urls,
		graph:     graph,
		frontier:  frontier,
		fetcher:   fetcher,
		extractor: extractor,
		blobStore: blobStore,
		publisher: publisher,
		logger:    logger,
	}
}

// Run executes one crawl until the frontier drains, the context ends,
// or the store circuit breaker trips. It always tries to return a
// Summary, even on early exit.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	brk := &breaker{threshold: int64(e.cfg.BreakerThreshold)}
	brk.onTrip = func() {
		logger.Error("store circuit breaker tripped, stopping run")
		e.frontier.Close()
		cancel()
	}

	// A store-backed frontier may hold claims from a crashed process;
	// give it a chance to requeue them before anything else.
	if r, ok := e.frontier.(interface{ Recover(context.Context) error }); ok {
		if err := r.Recover(runCtx); err != nil {
			return Summary{RunID: runID}, fmt.Errorf("recover frontier: %w", err)
		}
	}

	pending, err := e.recoverySweep(runCtx, logger)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	seeded, err := e.seed(runCtx, logger)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	if pending+seeded == 0 {
		logger.Info("nothing to crawl")
		e.frontier.Close()
	}

	// Unblock claimers when the caller stops the run.
	stopWatch := context.AfterFunc(runCtx, e.frontier.Close)
	defer stopWatch()

	attempts := &atomic.Int64{}
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		wk := worker.New(
			e.frontier,
			e.urls,
			e.graph,
			e.fetcher,
			e.extractor,
			e.blobStore,
			e.publisher,
			brk,
			worker.Config{
				RunID:              runID,
				DomainFilter:       e.cfg.DomainFilter,
				MaxPages:           e.cfg.MaxPages,
				Attempts:           attempts,
				ArchivePrefix:      e.cfg.ArchivePrefix,
				ArchiveContentType: e.cfg.ArchiveContentType,
				Topic:              e.cfg.Topic,
			},
			logger.With(zap.Int("worker", i)),
		)
		g.Go(func() error { return wk.Run(gctx) })
	}
	runErr := g.Wait()

	summary := Summary{RunID: runID, Duration: time.Since(start)}

	// Count with a fresh deadline: the run context may already be dead.
	countCtx, countCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer countCancel()
	counts, countErr := e.urls.Counts(countCtx)
	if countErr != nil {
		logger.Warn("aggregate counts unavailable", zap.Error(countErr))
	} else {
		summary.Counts = counts
	}

	switch {
	case brk.trippedFlag.Load():
		return summary, ErrStoreCircuitOpen
	case runErr != nil:
		return summary, runErr
	case ctx.Err() != nil:
		return summary, ctx.Err()
	}

	logger.Info("crawl complete",
		zap.Int64("total", summary.Counts.Total),
		zap.Int64("succeeded", summary.Counts.Succeeded),
		zap.Int64("failed", summary.Counts.Failed),
		zap.Int64("transport_errors", summary.Counts.TransportErrors),
		zap.Int64("edges", summary.Counts.Edges),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// recoverySweep re-enqueues every URL row that was never attempted.
// In-flight claims are lost on a crash, but the rows stay unknown, so
// this restores crawl progress after an unclean shutdown.
func (e *Engine) recoverySweep(ctx context.Context, logger *zap.Logger) (int, error) {
	ids, err := e.urls.UnknownIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovery sweep: %w", err)
	}
	enqueued := 0
	for _, id := range ids {
		added, err := e.frontier.EnqueueIfAbsent(ctx, id)
		if err != nil {
			return enqueued, fmt.Errorf("recovery enqueue id %d: %w", id, err)
		}
		if added {
			enqueued++
		}
	}
	if enqueued > 0 {
		logger.Info("recovery sweep restored pending urls", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

// seed normalizes and upserts the configured seed URLs, then enqueues
// them. A seed that fails normalization is reported and skipped rather
// than failing the run.
func (e *Engine) seed(ctx context.Context, logger *zap.Logger) (int, error) {
	seeded := 0
	for _, raw := range e.cfg.Seeds {
		normalized, err := crawler.NormalizeURL(raw, "")
		if err != nil {
			logger.Warn("skipping invalid seed", zap.String("seed", raw), zap.Error(err))
			continue
		}
		id, created, err := e.urls.GetOrCreate(ctx, normalized)
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", normalized, err)
		}
		added, err := e.frontier.EnqueueIfAbsent(ctx, id)
		if err != nil {
			return seeded, fmt.Errorf("enqueue seed %s: %w", normalized, err)
		}
		if added {
			seeded++
		}
		logger.Debug("seeded url",
			zap.String("url", normalized),
			zap.Int64("url_id", id),
			zap.Bool("new", created),
		)
	}
	return seeded, nil
}

// breaker counts consecutive store failures and trips once.
type breaker struct {
	threshold   int64
	consecutive atomic.Int64
	trippedFlag atomic.Bool
	onTrip      func()
}

// Failure records one store failure; crossing the threshold trips the
// breaker exactly once.
func (b *breaker) Failure() {
	if b.consecutive.Add(1) >= b.threshold {
		if !b.trippedFlag.Swap(true) && b.onTrip != nil {
			b.onTrip()
		}
	}
}

// Success resets the consecutive failure count.
func (b *breaker) Success() {
	b.consecutive.Store(0)
}
