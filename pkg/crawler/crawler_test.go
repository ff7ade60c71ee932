package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/fetch"
	"github.com/Sriram-PR/codex-crawler/pkg/models"
	"github.com/Sriram-PR/codex-crawler/pkg/parse"
	"github.com/Sriram-PR/codex-crawler/pkg/queue"
	"github.com/Sriram-PR/codex-crawler/pkg/storage"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testFetcher() *fetch.Fetcher {
	client := fetch.NewClient(config.HTTPClientConfig{Timeout: 5 * time.Second}, testLogger())
	return fetch.NewFetcher(client, nil, fetch.Options{UserAgent: "codex-crawler-test"}, testLogger())
}

// graphVisitor walks an in-memory link graph
type graphVisitor struct {
	links   map[string][]string
	fail    map[string]error
	panicOn string
	delay   time.Duration
	admit   func(string) bool

	mu     sync.Mutex
	visits map[string]int

	active atomic.Int32
	peak   atomic.Int32
}

func newGraphVisitor(links map[string][]string) *graphVisitor {
	return &graphVisitor{links: links, visits: make(map[string]int)}
}

func (g *graphVisitor) Admit(addr string) bool {
	if g.admit == nil {
		return true
	}
	return g.admit(addr)
}

func (g *graphVisitor) Visit(ctx context.Context, addr string, _ *logrus.Entry) (*VisitResult, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	g.mu.Lock()
	g.visits[addr]++
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if addr == g.panicOn {
		panic("boom")
	}
	if err := g.fail[addr]; err != nil {
		return nil, err
	}
	return &VisitResult{Addresses: g.links[addr], FinalURL: addr}, nil
}

func (g *graphVisitor) visitCount() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.visits))
	for k, v := range g.visits {
		out[k] = v
	}
	return out
}

func newTestCrawler(t *testing.T, cfg Config, limit int, v Visitor, store storage.PageStore) *Crawler {
	t.Helper()
	frontier := queue.NewFrontier(limit, v.Admit, testLogger())
	c, err := New(cfg, frontier, v, store, testLogger())
	require.NoError(t, err)
	return c
}

func TestNew_InvalidPool(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	frontier := queue.NewFrontier(0, nil, testLogger())
	v := newGraphVisitor(nil)

	_, err := New(Config{Workers: 0}, frontier, v, store, testLogger())
	assert.ErrorIs(t, err, utils.ErrWorkerPool)

	_, err = New(Config{Workers: 1}, frontier, nil, store, testLogger())
	assert.ErrorIs(t, err, utils.ErrWorkerPool)

	_, err = New(Config{Workers: 1}, nil, v, store, testLogger())
	assert.ErrorIs(t, err, utils.ErrWorkerPool)

	_, err = New(Config{Workers: 1}, frontier, v, nil, testLogger())
	assert.ErrorIs(t, err, utils.ErrWorkerPool)
}

func TestRun_LinkDiscoveryScenario(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>
			<a href="/b">b</a>
			<a href="/a#frag">self</a>
			<a href="https://other.test/c">other</a>
		</body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><p>leaf</p></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	rule := parse.FilterRule{
		AllowedSchemes:        []string{"http"},
		AllowedHosts:          parse.Hosts([]string{server.URL}),
		AllowedFileExtensions: []string{"", ".html"},
	}
	store := storage.NewMemoryStore(testLogger())
	v := NewLinkVisitor(testFetcher(), nil, rule.Filter, nil)
	c := newTestCrawler(t, Config{
		SiteKey: "scenario",
		Stage:   StageLinks,
		Seeds:   []string{server.URL + "/a"},
		Filter:  rule.Filter,
		Workers: 2,
	}, 25, v, store)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/a", server.URL + "/b"}, c.Frontier().Seen())
	assert.Equal(t, []string{server.URL + "/a", server.URL + "/b"}, c.Frontier().Discovered())
	assert.Equal(t, 2, summary.Admitted)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.EndTime.Before(summary.StartTime))

	done, err := store.PagesWithStatus(models.PageStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/a", server.URL + "/b"}, done)

	_, entry, err := store.CheckPageStatus(server.URL + "/a")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ContentHash)
	assert.Empty(t, entry.FinalURL)
}

func TestRun_CapOfOne(t *testing.T) {
	v := newGraphVisitor(map[string][]string{
		"https://example.test/a": {"https://example.test/c"},
	})
	store := storage.NewMemoryStore(testLogger())
	c := newTestCrawler(t, Config{
		Seeds:   []string{"https://example.test/a", "https://example.test/b"},
		Workers: 3,
	}, 1, v, store)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Admitted)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"https://example.test/a"}, c.Frontier().Seen())
	assert.Equal(t, map[string]int{"https://example.test/a": 1}, v.visitCount())
}

func TestRun_BoundedConcurrencyTiming(t *testing.T) {
	const (
		workers = 3
		count   = 100
		delay   = 20 * time.Millisecond
	)
	seeds := make([]string, count)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("https://example.test/page/%d", i)
	}
	v := newGraphVisitor(nil)
	v.delay = delay

	c := newTestCrawler(t, Config{Seeds: seeds, Workers: workers}, -1, v, storage.NewMemoryStore(testLogger()))

	start := time.Now()
	summary, err := c.Run(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, count, summary.Processed)
	assert.LessOrEqual(t, v.peak.Load(), int32(workers))

	rounds := (count + workers - 1) / workers
	minExpected := time.Duration(rounds) * delay * 9 / 10
	maxExpected := time.Duration(count) * delay / 2
	assert.GreaterOrEqual(t, elapsed, minExpected, "finished faster than %d rounds allow", rounds)
	assert.Less(t, elapsed, maxExpected, "workers did not run concurrently")
}

func TestRun_EachAddressVisitedOnce(t *testing.T) {
	// Dense graph: every node links to every other node.
	nodes := make([]string, 30)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("https://example.test/n%d", i)
	}
	links := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		links[n] = nodes
	}
	v := newGraphVisitor(links)
	store := storage.NewMemoryStore(testLogger())
	c := newTestCrawler(t, Config{Seeds: nodes[:1], Workers: 8}, 0, v, store)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	counts := v.visitCount()
	assert.Len(t, counts, len(nodes))
	for addr, n := range counts {
		assert.Equal(t, 1, n, "address %s visited %d times", addr, n)
	}
	assert.Equal(t, len(nodes), summary.Admitted)
	assert.Equal(t, 0, c.Frontier().InFlight())
	assert.Equal(t, 0, c.Frontier().Len())
}

func TestRun_PredicateAppliesToDiscoveries(t *testing.T) {
	v := newGraphVisitor(map[string][]string{
		"https://example.test/list?p=1": {
			"https://example.test/list?p=2",
			"https://example.test/item/fire",
		},
		"https://example.test/list?p=2": {"https://example.test/item/ice"},
	})
	v.admit = func(addr string) bool { return strings.Contains(addr, "?p=") }

	c := newTestCrawler(t, Config{Seeds: []string{"https://example.test/list?p=1"}, Workers: 2}, 0, v, storage.NewMemoryStore(testLogger()))
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, []string{
		"https://example.test/item/fire",
		"https://example.test/item/ice",
		"https://example.test/list?p=1",
		"https://example.test/list?p=2",
	}, c.Frontier().Discovered())
}

func TestRun_FailuresAndPanicsAreAcknowledged(t *testing.T) {
	v := newGraphVisitor(map[string][]string{
		"https://example.test/":    {"https://example.test/ok", "https://example.test/404", "https://example.test/panic"},
		"https://example.test/404": {"https://example.test/never"},
	})
	v.fail = map[string]error{
		"https://example.test/404": fmt.Errorf("%w: status 404 404 Not Found", utils.ErrClientHTTPError),
	}
	v.panicOn = "https://example.test/panic"
	store := storage.NewMemoryStore(testLogger())

	c := newTestCrawler(t, Config{Seeds: []string{"https://example.test/"}, Workers: 2}, 0, v, store)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, []models.FailedVisit{
		{URL: "https://example.test/404", ErrorType: "HTTP_404"},
		{URL: "https://example.test/panic", ErrorType: "Internal_Panic"},
	}, summary.Failures)

	// Links of a failed visit are not admitted.
	assert.NotContains(t, c.Frontier().Seen(), "https://example.test/never")

	failed, err := store.PagesWithStatus(models.PageStatusFailure)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/404", "https://example.test/panic"}, failed)
}

func TestRun_SeedsFilteredAndDeduplicated(t *testing.T) {
	rule := parse.FilterRule{AllowedHosts: []string{"example.test"}}
	v := newGraphVisitor(nil)
	c := newTestCrawler(t, Config{
		Seeds: []string{
			"https://example.test/a#top",
			"https://elsewhere.test/",
			"https://example.test/a",
			"::bad",
		},
		Filter:  rule.Filter,
		Workers: 1,
	}, 0, v, storage.NewMemoryStore(testLogger()))

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/a", "https://example.test/a"}, summary.Seeds)
	assert.Equal(t, []string{"https://example.test/a"}, c.Frontier().Seen())
	assert.Equal(t, map[string]int{"https://example.test/a": 1}, v.visitCount())
}

func TestRun_NoSeeds(t *testing.T) {
	c := newTestCrawler(t, Config{Workers: 4}, 0, newGraphVisitor(nil), storage.NewMemoryStore(testLogger()))
	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Admitted)
}

func TestRun_ContextCancelled(t *testing.T) {
	v := newGraphVisitor(nil)
	v.delay = time.Hour
	store := storage.NewMemoryStore(testLogger())
	c := newTestCrawler(t, Config{
		Seeds:   []string{"https://example.test/a", "https://example.test/b"},
		Workers: 1,
	}, 0, v, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	summary, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.StuckWorkers)

	pending, err := store.PagesWithStatus(models.PageStatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/a", "https://example.test/b"}, pending)
}

// stubbornVisitor ignores cancellation
type stubbornVisitor struct{ release chan struct{} }

func (s *stubbornVisitor) Admit(string) bool { return true }
func (s *stubbornVisitor) Visit(context.Context, string, *logrus.Entry) (*VisitResult, error) {
	<-s.release
	return &VisitResult{}, nil
}

func TestRun_ReportsStuckWorkers(t *testing.T) {
	v := &stubbornVisitor{release: make(chan struct{})}
	t.Cleanup(func() { close(v.release) })

	c := newTestCrawler(t, Config{
		Seeds:         []string{"https://example.test/a"},
		Workers:       2,
		ShutdownGrace: 30 * time.Millisecond,
	}, 0, v, storage.NewMemoryStore(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	summary, err := c.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, summary.StuckWorkers)
}

func TestRun_ProgressReporting(t *testing.T) {
	v := newGraphVisitor(nil)
	v.delay = 30 * time.Millisecond
	c := newTestCrawler(t, Config{
		Seeds:            []string{"https://example.test/a", "https://example.test/b"},
		Workers:          1,
		ProgressInterval: 10 * time.Millisecond,
	}, 0, v, storage.NewMemoryStore(testLogger()))

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestCrawlSummary_Metadata(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &CrawlSummary{
		RunID:      "run-1",
		SiteKey:    "codex",
		Stage:      StageRecords,
		StartTime:  start,
		EndTime:    start.Add(2 * time.Second),
		Seeds:      []string{"https://example.test/"},
		Discovered: 3,
		Admitted:   2,
		Succeeded:  1,
		Failed:     1,
		Failures:   []models.FailedVisit{{URL: "https://example.test/x", ErrorType: "HTTP_5xx"}},
	}
	assert.Equal(t, 2*time.Second, s.Duration())

	outputs := []models.OutputFile{{Path: "records.csv", SHA256: "abc"}}
	md := s.Metadata(outputs)
	assert.Equal(t, "codex", md.SiteKey)
	assert.Equal(t, "run-1", md.RunID)
	assert.Equal(t, StageRecords, md.Stage)
	assert.Equal(t, 3, md.Discovered)
	assert.Equal(t, 2, md.Admitted)
	assert.Equal(t, outputs, md.Outputs)
	assert.Equal(t, s.Failures, md.Failures)
}
