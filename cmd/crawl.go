package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webgraph/linkcrawler/internal/archive/gcs"
	archivelocal "github.com/webgraph/linkcrawler/internal/archive/local"
	archivememory "github.com/webgraph/linkcrawler/internal/archive/memory"
	"github.com/webgraph/linkcrawler/internal/config"
	"github.com/webgraph/linkcrawler/internal/crawler"
	"github.com/webgraph/linkcrawler/internal/engine"
	"github.com/webgraph/linkcrawler/internal/extract"
	collyfetch "github.com/webgraph/linkcrawler/internal/fetch/colly"
	frontiermemory "github.com/webgraph/linkcrawler/internal/frontier/memory"
	frontierredis "github.com/webgraph/linkcrawler/internal/frontier/redis"
	"github.com/webgraph/linkcrawler/internal/metrics"
	"github.com/webgraph/linkcrawler/internal/ops"
	publishpubsub "github.com/webgraph/linkcrawler/internal/publish/pubsub"
	"github.com/webgraph/linkcrawler/internal/storage/postgres"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Starts a crawl from the configured seed URLs",
		Long: `Seeds the frontier, resumes any URLs left unfinished by earlier runs,
and fetches pages concurrently until no pending work remains. Every
discovered URL and link edge is persisted as it is found, so the crawl
can be interrupted and resumed at any time.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := initRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	urlStore := postgres.NewURLStore(pool)
	linkStore := postgres.NewLinkStore(pool)

	frontier, cleanupFrontier, err := buildFrontier(ctx, cfg.Frontier)
	if err != nil {
		return err
	}
	defer cleanupFrontier()
	watchFrontierDepth(ctx, frontier)

	fetcher, err := collyfetch.New(collyfetch.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		RequestTimeout: cfg.Crawler.RequestTimeout,
		MaxBodyBytes:   cfg.Crawler.MaxBodyBytes,
		Concurrency:    cfg.Crawler.Concurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	extractor := extract.New(logger)

	blobStore, err := buildBlobStore(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	publisher, topic, cleanupPublisher, err := buildPublisher(ctx, cfg.PubSub)
	if err != nil {
		return err
	}
	defer cleanupPublisher()

	if cfg.Ops.Enabled {
		srv := ops.NewServer(pool, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Ops.Port); err != nil {
				logger.Warn("ops server stopped", zap.Error(err))
			}
		}()
	}

	var domainFilter *regexp.Regexp
	if cfg.Crawler.DomainFilter != "" {
		domainFilter, err = regexp.Compile(cfg.Crawler.DomainFilter)
		if err != nil {
			return fmt.Errorf("crawler.domain_filter: %w", err)
		}
	}

	eng := engine.New(
		engine.Config{
			Seeds:              cfg.Crawler.Seeds,
			Concurrency:        cfg.Crawler.Concurrency,
			BreakerThreshold:   cfg.Crawler.BreakerThreshold,
			MaxPages:           cfg.Crawler.MaxPages,
			DomainFilter:       domainFilter,
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
			Topic:              topic,
		},
		urlStore,
		linkStore,
		frontier,
		fetcher,
		extractor,
		blobStore,
		publisher,
		logger,
	)

	summary, err := eng.Run(ctx)
	printSummary(cmd, summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

func buildFrontier(ctx context.Context, cfg config.FrontierConfig) (crawler.Frontier, func(), error) {
	switch cfg.Backend {
	case "redis":
		f, err := frontierredis.New(ctx, frontierredis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis frontier: %w", err)
		}
		return f, func() { _ = f.Shutdown() }, nil
	default:
		return frontiermemory.New(), func() {}, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.ArchiveConfig) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "memory":
		return archivememory.New(), nil
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.PubSubConfig) (crawler.Publisher, string, func(), error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, "", func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := publishpubsub.New(client)
	if err != nil {
		return nil, "", nil, fmt.Errorf("init publisher: %w", err)
	}
	return pub, cfg.TopicName, func() { _ = pub.Close() }, nil
}

// watchFrontierDepth samples the queue depth into the Prometheus gauge
// for frontiers that can report it.
func watchFrontierDepth(ctx context.Context, f crawler.Frontier) {
	d, ok := f.(interface{ Depth() (int, int) })
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queued, _ := d.Depth()
				metrics.FrontierQueued.Set(float64(queued))
			}
		}
	}()
}

func printSummary(cmd *cobra.Command, s engine.Summary) {
	cmd.Printf("run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	cmd.Printf("  urls discovered:  %d\n", s.Counts.Total)
	cmd.Printf("  succeeded:        %d\n", s.Counts.Succeeded)
	cmd.Printf("  failed:           %d\n", s.Counts.Failed)
	cmd.Printf("  transport errors: %d\n", s.Counts.TransportErrors)
	cmd.Printf("  link edges:       %d\n", s.Counts.Edges)
}
