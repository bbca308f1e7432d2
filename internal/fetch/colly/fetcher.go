// Package colly implements the fetch collaborator on the Colly collector.
package colly

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

// Config controls the HTTP transport behavior of the fetcher.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodyBytes   int
	Concurrency    int
}

// Fetcher implements crawler.Fetcher using a Colly collector. Each Fetch
// clones the base collector so per-request callbacks never interleave,
// while the underlying transport and its connection pool are shared.
type Fetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New constructs a configured Colly-based Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page. Any received HTTP response, whatever its
// status code, returns a Response with err nil; only failures to
// complete the exchange surface as a *crawler.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Response, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{resp: responseFromColly(rawURL, r)})
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly routes non-2xx statuses through OnError with the
		// response attached. A present status code means the exchange
		// completed, which is a normal crawl outcome, not a transport
		// failure.
		if r != nil && r.StatusCode != 0 {
			send(fetchResult{resp: responseFromColly(rawURL, r)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: &crawler.TransportError{URL: rawURL, Err: err}})
	})

	go func() {
		// Visit reports an error for every non-2xx status as well as
		// for genuine transport failures. The callbacks above have
		// already classified which one happened, and the once guard
		// keeps their verdict: Visit's own error only lands when no
		// callback fired at all (e.g. a URL colly refuses to request).
		err := collector.Visit(rawURL)
		collector.Wait()
		if err == nil {
			err = errors.New("fetch produced no result")
		}
		send(fetchResult{err: &crawler.TransportError{URL: rawURL, Err: err}})
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(res.err))
			return crawler.Response{}, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		return crawler.Response{}, ctx.Err()
	}
}

func responseFromColly(rawURL string, r *colly.Response) crawler.Response {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return crawler.Response{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte{}, r.Body...),
	}
}

type fetchResult struct {
	resp crawler.Response
	err  error
}
