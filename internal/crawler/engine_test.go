package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/urlutil"
)

// fakeRenderer serves canned HTML keyed by normalized URL. Unknown URLs
// fail with a network error, like an unreachable host would.
type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
	block chan struct{}
}

func newFakeRenderer(pages map[string]string) *fakeRenderer {
	return &fakeRenderer{
		pages: pages,
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (r *fakeRenderer) Render(ctx context.Context, rawURL string) (RenderResult, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.calls[rawURL]++
	err := r.errs[rawURL]
	html, ok := r.pages[rawURL]
	r.mu.Unlock()

	if err != nil {
		return RenderResult{}, err
	}
	if !ok {
		return RenderResult{}, &RenderFailure{Kind: KindNetwork, Message: "no route to host"}
	}
	return RenderResult{HTML: html, RawHTML: html}, nil
}

func (r *fakeRenderer) Close(context.Context) error { return nil }

func (r *fakeRenderer) callCount(rawURL string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[rawURL]
}

// fakeCache is an in-memory PageCache keyed by normalized URL.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Payload(rawURL string) ([]byte, bool) {
	key, err := urlutil.Normalize(rawURL)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	return payload, ok
}

func (c *fakeCache) Put(rawURL string, payload []byte, _ time.Duration) error {
	key, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	c.puts++
	return nil
}

type mockPolicy struct {
	mock.Mock
}

func (m *mockPolicy) Allowed(rawURL string) bool {
	return m.Called(rawURL).Bool(0)
}

func (m *mockPolicy) CrawlDelay() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

func (m *mockPolicy) Sitemaps() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func page(links ...string) string {
	html := "<html><head><title>t</title></head><body>"
	for _, l := range links {
		html += fmt.Sprintf(`<a href="%s">link</a>`, l)
	}
	return html + "</body></html>"
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not terminate")
		}
	}
}

func splitEvents(events []Event) (pages []PageData, errs []ErrorInfo, progress []ProgressInfo, complete *CompleteInfo) {
	for _, ev := range events {
		switch ev.Kind {
		case EventPage:
			pages = append(pages, *ev.Page)
		case EventError:
			errs = append(errs, *ev.Error)
		case EventProgress:
			progress = append(progress, *ev.Progress)
		case EventComplete:
			complete = ev.Complete
		}
	}
	return
}

func newTestEngine(renderer Renderer, cache PageCache, resolve PolicyResolver, sitemaps SitemapSource) *Engine {
	return NewEngine(renderer, NewMarkdownTransformer(zap.NewNop()), cache, resolve, sitemaps, zap.NewNop())
}

func baseOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		RootURL:     "https://example.com",
		MaxPages:    50,
		MaxDepth:    3,
		Concurrency: 4,
		OutputDir:   t.TempDir(),
	}
}

func TestCrawlWalksSameOriginLinks(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("/a", "/b"),
		"https://example.com/a": page(),
		"https://example.com/b": page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	pages, errs, progress, complete := splitEvents(collect(t, events))
	require.Empty(t, errs)
	require.Len(t, pages, 3)
	require.NotEmpty(t, progress)
	require.NotNil(t, complete)
	require.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	}, complete.ScrapedURLs)
}

func TestCrawlCompleteIsLastEvent(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page("/a"),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	all := collect(t, events)
	require.NotEmpty(t, all)
	require.Equal(t, EventComplete, all[len(all)-1].Kind)
	for _, ev := range all[:len(all)-1] {
		require.NotEqual(t, EventComplete, ev.Kind)
	}
}

func TestCrawlRespectsPageLimit(t *testing.T) {
	links := make([]string, 20)
	pages := map[string]string{}
	for i := range links {
		links[i] = fmt.Sprintf("/p%d", i)
		pages[fmt.Sprintf("https://example.com/p%d", i)] = page()
	}
	pages["https://example.com/"] = page(links...)

	renderer := newFakeRenderer(pages)
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.MaxPages = 5
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.NotNil(t, complete)
	require.LessOrEqual(t, len(complete.ScrapedURLs)+len(complete.Failed), 5)
	require.Len(t, complete.ScrapedURLs, 5)
}

func TestCrawlRespectsDepthLimit(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("/a"),
		"https://example.com/a": page("/b"),
		"https://example.com/b": page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.MaxDepth = 1
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/a",
	}, complete.ScrapedURLs)
	require.Zero(t, renderer.callCount("https://example.com/b"))
}

func TestCrawlDepthZeroScrapesRootOnly(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("/a"),
		"https://example.com/a": page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.MaxDepth = 0
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.Equal(t, []string{"https://example.com/"}, complete.ScrapedURLs)
	require.Zero(t, renderer.callCount("https://example.com/a"))
}

func TestCrawlStaysOnOrigin(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("https://other.org/x", "/a"),
		"https://example.com/a": page(),
		"https://other.org/x":   page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.NotContains(t, complete.ScrapedURLs, "https://other.org/x")
	require.Zero(t, renderer.callCount("https://other.org/x"))
}

func TestCrawlAllowExternalLinks(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page("https://other.org/x"),
		"https://other.org/x":  page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.AllowExternalLinks = true
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.Contains(t, complete.ScrapedURLs, "https://other.org/x")
}

func TestCrawlIncludeExcludePatterns(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":                page("/docs/a", "/docs/internal/b", "/blog/c"),
		"https://example.com/docs/a":          page(),
		"https://example.com/docs/internal/b": page(),
		"https://example.com/blog/c":          page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.IncludePatterns = []string{"*/docs/*"}
	opts.ExcludePatterns = []string{"*internal*"}
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.Contains(t, complete.ScrapedURLs, "https://example.com/docs/a")
	require.NotContains(t, complete.ScrapedURLs, "https://example.com/docs/internal/b")
	require.NotContains(t, complete.ScrapedURLs, "https://example.com/blog/c")
}

func TestCrawlQueryOrderIsSignificant(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":          page("/p?a=1&b=2", "/p?b=2&a=1", "/p?a=1&b=2"),
		"https://example.com/p?a=1&b=2": page(),
		"https://example.com/p?b=2&a=1": page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	// Reordered query params are distinct pages; the exact duplicate is
	// fetched only once.
	require.Len(t, complete.ScrapedURLs, 3)
	require.Equal(t, 1, renderer.callCount("https://example.com/p?a=1&b=2"))
}

func TestCrawlRobotsDisallowed(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":        page("/private", "/a"),
		"https://example.com/a":       page(),
		"https://example.com/private": page(),
	})

	policy := &mockPolicy{}
	policy.On("Allowed", "https://example.com/private").Return(false)
	policy.On("Allowed", mock.Anything).Return(true)
	policy.On("CrawlDelay").Return(time.Duration(0))
	policy.On("Sitemaps").Return(nil)

	resolve := func(context.Context, string) RobotsPolicy { return policy }
	eng := newTestEngine(renderer, nil, resolve, nil)

	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	_, errs, _, complete := splitEvents(collect(t, events))
	require.Len(t, errs, 1)
	require.Equal(t, KindRobotsDisallowed, errs[0].Kind)
	require.Equal(t, "https://example.com/private", errs[0].URL)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/a"}, complete.ScrapedURLs)
	require.Zero(t, renderer.callCount("https://example.com/private"))
}

func TestCrawlFetchFailureDoesNotAbort(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("/slow", "/a"),
		"https://example.com/a": page(),
	})
	renderer.errs["https://example.com/slow"] = &RenderFailure{Kind: KindTimeout, Message: "deadline exceeded"}

	eng := newTestEngine(renderer, nil, nil, nil)
	events, err := eng.Crawl(context.Background(), baseOptions(t))
	require.NoError(t, err)

	_, errs, _, complete := splitEvents(collect(t, events))
	require.Len(t, errs, 1)
	require.Equal(t, KindTimeout, errs[0].Kind)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/a"}, complete.ScrapedURLs)
	require.Contains(t, complete.Failed, errs[0])
}

func TestCrawlConfigurationErrors(t *testing.T) {
	eng := newTestEngine(newFakeRenderer(nil), nil, nil, nil)

	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"relative root url", func(o *Options) { o.RootURL = "/just/a/path" }},
		{"empty root url", func(o *Options) { o.RootURL = "" }},
		{"bad include pattern", func(o *Options) { o.IncludePatterns = []string{"[unclosed"} }},
		{"negative limit", func(o *Options) { o.MaxPages = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := baseOptions(t)
			tc.mutate(&opts)
			_, err := eng.Crawl(context.Background(), opts)
			require.Error(t, err)
		})
	}
}

func TestCrawlCancelDrains(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":  page("/a", "/b", "/c"),
		"https://example.com/a": page(),
		"https://example.com/b": page(),
		"https://example.com/c": page(),
	})
	renderer.block = make(chan struct{})

	eng := newTestEngine(renderer, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	opts := baseOptions(t)
	opts.Concurrency = 1
	events, err := eng.Crawl(ctx, opts)
	require.NoError(t, err)

	// Cancel while the first fetch is still in flight, then release it.
	cancel()
	close(renderer.block)

	all := collect(t, events)
	require.Equal(t, EventComplete, all[len(all)-1].Kind)

	_, _, _, complete := splitEvents(all)
	// The in-flight root finished; its outlinks were dropped by the drain.
	require.LessOrEqual(t, len(complete.ScrapedURLs), 1)
}

func TestCrawlServesFromCache(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/a": page(),
	})
	cache := newFakeCache()

	cached := PageData{
		URL:      "https://example.com/",
		Markdown: "# Cached",
		Metadata: PageMetadata{Title: "Cached"},
		Outlinks: []string{"https://example.com/a"},
	}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, cache.Put("https://example.com/", payload, time.Hour))

	eng := newTestEngine(renderer, cache, nil, nil)
	opts := baseOptions(t)
	opts.CacheTTL = time.Hour
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	pages, errs, _, complete := splitEvents(collect(t, events))
	require.Empty(t, errs)
	require.Zero(t, renderer.callCount("https://example.com/"))
	require.Equal(t, 1, renderer.callCount("https://example.com/a"))
	require.Len(t, pages, 2)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/a"}, complete.ScrapedURLs)
}

func TestCrawlWritesToCache(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page(),
	})
	cache := newFakeCache()

	eng := newTestEngine(renderer, cache, nil, nil)
	opts := baseOptions(t)
	opts.CacheTTL = time.Hour
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)
	collect(t, events)

	payload, ok := cache.Payload("https://example.com/")
	require.True(t, ok)
	var data PageData
	require.NoError(t, json.Unmarshal(payload, &data))
	require.Equal(t, "https://example.com/", data.URL)
}

func TestCrawlCacheDisabledWithoutTTL(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page(),
	})
	cache := newFakeCache()

	eng := newTestEngine(renderer, cache, nil, nil)
	opts := baseOptions(t)
	opts.CacheTTL = 0
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)
	collect(t, events)

	require.Zero(t, cache.puts)
}

func TestCrawlSitemapSeeds(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":         page(),
		"https://example.com/orphan":   page(),
		"https://example.com/orphan-2": page(),
	})

	sitemaps := func(_ context.Context, origin string, _ []string) []string {
		return []string{
			origin + "/orphan",
			origin + "/orphan-2",
			"https://other.org/out-of-scope",
		}
	}
	eng := newTestEngine(renderer, nil, nil, sitemaps)

	opts := baseOptions(t)
	opts.UseSitemap = true
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/orphan",
		"https://example.com/orphan-2",
	}, complete.ScrapedURLs)
}

func TestCrawlResumeSkipsManifestURLs(t *testing.T) {
	dir := t.TempDir()
	prior, err := LoadManifest(dir)
	require.NoError(t, err)
	require.NoError(t, prior.Append(ManifestRecord{URL: "https://example.com/", Path: "index.md", Status: StatusScraped}))

	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page("/a"),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.OutputDir = dir
	opts.Resume = true
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	require.Zero(t, renderer.callCount("https://example.com/"))
	require.Contains(t, complete.ScrapedURLs, "https://example.com/")
}

func TestCrawlResumeCountsTowardLimit(t *testing.T) {
	dir := t.TempDir()
	prior, err := LoadManifest(dir)
	require.NoError(t, err)
	require.NoError(t, prior.Append(ManifestRecord{URL: "https://example.com/x", Path: "x.md", Status: StatusScraped}))
	require.NoError(t, prior.Append(ManifestRecord{URL: "https://example.com/y", Path: "y.md", Status: StatusScraped}))

	renderer := newFakeRenderer(map[string]string{
		"https://example.com/": page("/a"),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.OutputDir = dir
	opts.Resume = true
	opts.MaxPages = 2
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, _, complete := splitEvents(collect(t, events))
	// The two resumed pages exhaust the budget; nothing new is fetched.
	require.LessOrEqual(t, len(complete.ScrapedURLs)+len(complete.Failed), 2)
	require.ElementsMatch(t, []string{"https://example.com/x", "https://example.com/y"}, complete.ScrapedURLs)
	require.Zero(t, renderer.callCount("https://example.com/"))
}

func TestCrawlWritesManifestAndArtifacts(t *testing.T) {
	renderer := newFakeRenderer(map[string]string{
		"https://example.com/":     page("/docs"),
		"https://example.com/docs": page(),
	})
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)
	collect(t, events)

	m, err := LoadManifest(opts.OutputDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/docs"}, m.ScrapedURLs())

	require.FileExists(t, filepath.Join(opts.OutputDir, "index.md"))
	require.FileExists(t, filepath.Join(opts.OutputDir, "docs.md"))
}

func TestCrawlProgressEstimateCappedByLimit(t *testing.T) {
	links := make([]string, 30)
	pages := map[string]string{}
	for i := range links {
		links[i] = fmt.Sprintf("/p%d", i)
		pages[fmt.Sprintf("https://example.com/p%d", i)] = page()
	}
	pages["https://example.com/"] = page(links...)

	renderer := newFakeRenderer(pages)
	eng := newTestEngine(renderer, nil, nil, nil)

	opts := baseOptions(t)
	opts.MaxPages = 10
	events, err := eng.Crawl(context.Background(), opts)
	require.NoError(t, err)

	_, _, progress, _ := splitEvents(collect(t, events))
	require.NotEmpty(t, progress)
	for _, p := range progress {
		require.LessOrEqual(t, p.Estimate, 10)
		require.LessOrEqual(t, p.Processed, 10)
	}
}
