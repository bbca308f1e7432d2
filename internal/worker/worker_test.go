package worker

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webgraph/linkcrawler/internal/crawler"
	"github.com/webgraph/linkcrawler/internal/frontier/memory"
)

// memStore is an in-memory URLStore and LinkGraphStore with the same
// concurrency contract as the real thing.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	idsByURL  map[string]int64
	urlsByID  map[int64]string
	status    map[int64]crawler.URLStatus
	transport map[int64]bool
	marks     map[int64]int
	edges     map[[2]int64]struct{}

	failMarks int // fail this many MarkResult calls with an unavailable error
}

func newMemStore() *memStore {
	return &memStore{
		idsByURL:  make(map[string]int64),
		urlsByID:  make(map[int64]string),
		status:    make(map[int64]crawler.URLStatus),
		transport: make(map[int64]bool),
		marks:     make(map[int64]int),
		edges:     make(map[[2]int64]struct{}),
	}
}

func (s *memStore) GetOrCreate(_ context.Context, url string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.idsByURL[url]; ok {
		return id, false, nil
	}
	s.nextID++
	s.idsByURL[url] = s.nextID
	s.urlsByID[s.nextID] = url
	s.status[s.nextID] = crawler.StatusUnknown
	return s.nextID, true, nil
}

func (s *memStore) MarkResult(_ context.Context, id int64, succeeded, transportError bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarks > 0 {
		s.failMarks--
		return &crawler.StoreUnavailableError{Op: "mark result", Err: errors.New("connection refused")}
	}
	if _, ok := s.urlsByID[id]; !ok {
		return crawler.ErrNotFound
	}
	if succeeded {
		s.status[id] = crawler.StatusSucceeded
	} else {
		s.status[id] = crawler.StatusFailed
	}
	s.transport[id] = transportError
	s.marks[id]++
	return nil
}

func (s *memStore) GetURL(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.urlsByID[id]
	if !ok {
		return "", crawler.ErrNotFound
	}
	return url, nil
}

func (s *memStore) UnknownIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := int64(1); id <= s.nextID; id++ {
		if s.status[id] == crawler.StatusUnknown && !s.transport[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) Counts(_ context.Context) (crawler.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := crawler.Counts{Total: s.nextID, Edges: int64(len(s.edges))}
	for id := int64(1); id <= s.nextID; id++ {
		switch s.status[id] {
		case crawler.StatusSucceeded:
			c.Succeeded++
		case crawler.StatusFailed:
			c.Failed++
		}
		if s.transport[id] {
			c.TransportErrors++
		}
	}
	return c, nil
}

func (s *memStore) AddEdge(_ context.Context, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[[2]int64{from, to}] = struct{}{}
	return nil
}

func (s *memStore) hasEdge(from, to int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.edges[[2]int64{from, to}]
	return ok
}

func (s *memStore) mustID(t *testing.T, url string) int64 {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idsByURL[url]
	require.True(t, ok, "no row for %s", url)
	return id
}

func (s *memStore) statusOf(id int64) (crawler.URLStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id], s.transport[id]
}

// fakeFetcher serves canned responses and counts fetches per URL.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]crawler.Response
	errs    map[string]error
	fetched map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[string]crawler.Response),
		errs:    make(map[string]error),
		fetched: make(map[string]int),
	}
}

func (f *fakeFetcher) page(url string, status int, links ...string) {
	f.pages[url] = crawler.Response{URL: url, StatusCode: status, Body: []byte(linkPage(links))}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.Response, error) {
	f.mu.Lock()
	f.fetched[url]++
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return crawler.Response{URL: url}, err
	}
	if resp, ok := f.pages[url]; ok {
		return resp, nil
	}
	return crawler.Response{URL: url, StatusCode: 404}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[url]
}

// linkPage encodes a link list into a body the fake extractor decodes.
func linkPage(links []string) string {
	out := ""
	for _, l := range links {
		out += l + "\n"
	}
	return out
}

// lineExtractor treats each body line as one raw link.
type lineExtractor struct{}

func (lineExtractor) ExtractLinks(resp crawler.Response) []string {
	var links []string
	start := 0
	body := string(resp.Body)
	for i := 0; i < len(body); i++ {
		if body[i] == '\n' {
			if i > start {
				links = append(links, body[start:i])
			}
			start = i + 1
		}
	}
	if start < len(body) {
		links = append(links, body[start:])
	}
	return links
}

type countingHealth struct {
	failures  atomic.Int64
	successes atomic.Int64
}

func (h *countingHealth) Failure() { h.failures.Add(1) }
func (h *countingHealth) Success() { h.successes.Add(1) }

// seedFrontier upserts the URLs and enqueues their ids.
func seedFrontier(t *testing.T, store *memStore, f crawler.Frontier, urls ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for _, u := range urls {
		id, _, err := store.GetOrCreate(ctx, u)
		require.NoError(t, err)
		_, err = f.EnqueueIfAbsent(ctx, id)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func runWorkers(t *testing.T, n int, store *memStore, f crawler.Frontier, fetcher crawler.Fetcher, cfg Config) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attempts := &atomic.Int64{}
	if cfg.Attempts == nil {
		cfg.Attempts = attempts
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		w := New(f, store, store, fetcher, lineExtractor{}, nil, nil, nil, cfg, zap.NewNop())
		g.Go(func() error { return w.Run(gctx) })
	}
	require.NoError(t, g.Wait())
	require.NoError(t, ctx.Err(), "workers did not drain the frontier")
}

func TestFragmentVariantsCollapseToOneRow(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/", 200, "/b", "http://a.test/b#section")
	fetcher.page("http://a.test/b", 200)

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://a.test/")
	runWorkers(t, 1, store, f, fetcher, Config{})

	bID := store.mustID(t, "http://a.test/b")
	require.True(t, store.hasEdge(ids[0], bID))
	require.Equal(t, 1, fetcher.count("http://a.test/b"))

	status, transport := store.statusOf(bID)
	require.Equal(t, crawler.StatusSucceeded, status)
	require.False(t, transport)
}

func TestTransportErrorMarkedWithoutDiscovery(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.errs["http://down.test/"] = &crawler.TransportError{
		URL: "http://down.test/", Err: errors.New("connection reset"),
	}

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://down.test/")
	runWorkers(t, 1, store, f, fetcher, Config{})

	status, transport := store.statusOf(ids[0])
	require.Equal(t, crawler.StatusFailed, status)
	require.True(t, transport)

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Total)
	require.Zero(t, counts.Edges)
}

func TestNon2xxMarkedFailedNotTransport(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/missing", 404)

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://a.test/missing")
	runWorkers(t, 1, store, f, fetcher, Config{})

	status, transport := store.statusOf(ids[0])
	require.Equal(t, crawler.StatusFailed, status)
	require.False(t, transport)
}

func TestConcurrentDiscoverySharedTarget(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/p1", 200, "http://a.test/shared")
	fetcher.page("http://a.test/p2", 200, "http://a.test/shared")
	fetcher.page("http://a.test/shared", 200)

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://a.test/p1", "http://a.test/p2")
	runWorkers(t, 4, store, f, fetcher, Config{})

	sharedID := store.mustID(t, "http://a.test/shared")
	require.True(t, store.hasEdge(ids[0], sharedID))
	require.True(t, store.hasEdge(ids[1], sharedID))
	require.Equal(t, 1, fetcher.count("http://a.test/shared"))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), counts.Total)
	require.Equal(t, int64(3), counts.Succeeded)
}

func TestDomainFilterConfinesDiscovery(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/", 200, "http://a.test/in", "http://other.test/out")
	fetcher.page("http://a.test/in", 200)

	f := memory.New()
	seedFrontier(t, store, f, "http://a.test/")
	filter := regexp.MustCompile(`^https?://([a-z0-9-]+\.)*a\.test(/.*)?$`)
	runWorkers(t, 1, store, f, fetcher, Config{DomainFilter: filter})

	store.mustID(t, "http://a.test/in")
	store.mu.Lock()
	_, offDomain := store.idsByURL["http://other.test/out"]
	store.mu.Unlock()
	require.False(t, offDomain, "off-domain link must not be stored")
	require.Zero(t, fetcher.count("http://other.test/out"))
}

func TestStoreUnavailableRequeuesAndRecovers(t *testing.T) {
	store := newMemStore()
	store.failMarks = 2
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/", 200)

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://a.test/")
	health := &countingHealth{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := New(f, store, store, fetcher, lineExtractor{}, nil, nil, health, Config{}, zap.NewNop())
	require.NoError(t, w.Run(ctx))

	status, _ := store.statusOf(ids[0])
	require.Equal(t, crawler.StatusSucceeded, status)
	require.Equal(t, int64(2), health.failures.Load())
	require.GreaterOrEqual(t, fetcher.count("http://a.test/"), 3)
}

func TestMaxPagesStopsClaiming(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/", 200, "/one", "/two", "/three")

	f := memory.New()
	seedFrontier(t, store, f, "http://a.test/")
	runWorkers(t, 1, store, f, fetcher, Config{MaxPages: 1})

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), counts.Total)
	require.Equal(t, int64(1), counts.Succeeded)

	// Discovered pages stay unknown for the next run's recovery sweep.
	unknown, err := store.UnknownIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, unknown, 3)
}

func TestSelfLinkRecordsSelfLoop(t *testing.T) {
	store := newMemStore()
	fetcher := newFakeFetcher()
	fetcher.page("http://a.test/", 200, "http://a.test/")

	f := memory.New()
	ids := seedFrontier(t, store, f, "http://a.test/")
	runWorkers(t, 1, store, f, fetcher, Config{})

	require.True(t, store.hasEdge(ids[0], ids[0]))
	require.Equal(t, 1, fetcher.count("http://a.test/"))
}
