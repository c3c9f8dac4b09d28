package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/supacrawl/supacrawl/internal/metrics"
	"github.com/supacrawl/supacrawl/internal/urlutil"
)

const eventBuffer = 64

// Engine wires the renderer, transformer, cache, and policy sources into
// crawl jobs. One Engine serves many jobs; per-job state lives on the job.
type Engine struct {
	renderer      Renderer
	transformer   Transformer
	cache         PageCache
	resolvePolicy PolicyResolver
	sitemapSource SitemapSource
	logger        *zap.Logger
}

// NewEngine builds an Engine. Renderer and transformer are required; cache
// and the policy/sitemap sources may be nil, which disables caching,
// robots checks, and sitemap seeding respectively.
func NewEngine(renderer Renderer, transformer Transformer, cache PageCache, resolve PolicyResolver, sitemaps SitemapSource, logger *zap.Logger) *Engine {
	metrics.Init()
	return &Engine{
		renderer:      renderer,
		transformer:   transformer,
		cache:         cache,
		resolvePolicy: resolve,
		sitemapSource: sitemaps,
		logger:        logger,
	}
}

// Crawl starts a crawl job and returns its event stream. Configuration
// problems fail here; everything after this point is reported per page on
// the stream, which always terminates with a single complete event.
//
// Cancelling ctx drains the job: queued entries are dropped, in-flight
// fetches finish, and the stream still ends with a complete event.
func (e *Engine) Crawl(ctx context.Context, opts Options) (<-chan Event, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if e.renderer == nil || e.transformer == nil {
		return nil, fmt.Errorf("engine misconfigured: renderer and transformer are required")
	}

	rootURL, err := urlutil.Parse(opts.RootURL)
	if err != nil {
		return nil, fmt.Errorf("root url %q: %w", opts.RootURL, err)
	}

	matcher, err := urlutil.NewMatcher(opts.IncludePatterns, opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	sink, err := NewFileSystemSink(opts.OutputDir, e.logger)
	if err != nil {
		return nil, err
	}
	manifest, err := LoadManifest(opts.OutputDir)
	if err != nil {
		return nil, err
	}

	j := &job{
		engine:   e,
		id:       uuid.NewString(),
		opts:     opts,
		rootURL:  rootURL,
		matcher:  matcher,
		frontier: newFrontier(opts.MaxPages),
		sink:     sink,
		manifest: manifest,
		events:   make(chan Event, eventBuffer),
		state:    StateSeeded,
	}
	j.logger = e.logger.With(zap.String("job_id", j.id), zap.String("root", rootURL.String()))

	if opts.Resume {
		// Resumed pages consume budget so the complete event never
		// reports more than MaxPages results even across runs. Every
		// manifest URL is still marked visited to prevent refetching.
		for _, u := range manifest.ScrapedURLs() {
			j.frontier.MarkVisited(u)
			if len(j.scraped) < opts.MaxPages {
				j.scraped = append(j.scraped, u)
			}
		}
		j.logger.Info("resuming crawl", zap.Int("already_scraped", len(j.scraped)))
	}

	go j.run(ctx)
	return j.events, nil
}

type job struct {
	engine   *Engine
	id       string
	opts     Options
	rootURL  *url.URL
	matcher  *urlutil.Matcher
	frontier *frontier
	sink     *FileSystemSink
	manifest *Manifest
	events   chan Event
	policy   RobotsPolicy
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	processed int
	scraped   []string
	failed    []ErrorInfo
}

func (j *job) run(ctx context.Context) {
	defer close(j.events)

	j.seed(ctx)
	j.setState(StateRunning)

	// Cancellation drains the frontier instead of aborting workers, so
	// in-flight fetches complete and the stream still terminates cleanly.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			j.logger.Info("context cancelled, draining frontier")
			j.setState(StateDraining)
			j.frontier.Drain()
		case <-watchDone:
		}
	}()

	workCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i := 0; i < j.opts.Concurrency; i++ {
		g.Go(func() error {
			j.worker(workCtx)
			return nil
		})
	}
	_ = g.Wait()
	close(watchDone)

	j.setState(StateComplete)

	j.mu.Lock()
	info := CompleteInfo{
		ScrapedURLs: append([]string(nil), j.scraped...),
		Failed:      append([]ErrorInfo(nil), j.failed...),
	}
	j.mu.Unlock()
	if info.ScrapedURLs == nil {
		info.ScrapedURLs = []string{}
	}
	if info.Failed == nil {
		info.Failed = []ErrorInfo{}
	}

	j.events <- completeEvent(info)
	metrics.ObserveJob(string(StateComplete))
	j.logger.Info("crawl complete",
		zap.Int("scraped", len(info.ScrapedURLs)),
		zap.Int("failed", len(info.Failed)),
	)
}

// seed resolves the robots policy, sets up politeness, and admits the
// root plus any sitemap-discovered URLs at depth zero.
func (j *job) seed(ctx context.Context) {
	if j.engine.resolvePolicy != nil {
		j.policy = j.engine.resolvePolicy(ctx, j.rootURL.String())
	}
	if j.policy != nil {
		if delay := j.policy.CrawlDelay(); delay > 0 {
			j.limiter = rate.NewLimiter(rate.Every(delay), 1)
			j.logger.Info("honoring crawl-delay", zap.Duration("delay", delay))
		}
	}

	j.frontier.MarkAndEnqueue(FrontierEntry{URL: j.rootURL.String(), Depth: 0})

	if !j.opts.UseSitemap || j.engine.sitemapSource == nil {
		return
	}
	var fromRobots []string
	if j.policy != nil {
		fromRobots = j.policy.Sitemaps()
	}
	origin := urlutil.Origin(j.rootURL)
	seeds := j.engine.sitemapSource(ctx, origin, fromRobots)
	admitted := 0
	for _, raw := range seeds {
		u, err := urlutil.Parse(raw)
		if err != nil {
			continue
		}
		if !j.inScope(u) {
			continue
		}
		if j.frontier.MarkAndEnqueue(FrontierEntry{URL: u.String(), Depth: 0}) {
			admitted++
		}
	}
	if len(seeds) > 0 {
		j.logger.Info("seeded from sitemap", zap.Int("discovered", len(seeds)), zap.Int("admitted", admitted))
	}
}

func (j *job) worker(ctx context.Context) {
	for {
		entry, ok := j.frontier.Next()
		if !ok {
			return
		}
		metrics.IncActiveWorkers()
		j.process(ctx, entry)
		metrics.DecActiveWorkers()
		j.frontier.Done()
	}
}

// process runs one frontier entry through the full pipeline: robots,
// cache, fetch, transform, persist, and outlink admission. Every path
// ends with a progress event.
func (j *job) process(ctx context.Context, entry FrontierEntry) {
	defer j.emitProgress()

	if j.policy != nil && !j.policy.Allowed(entry.URL) {
		metrics.ObserveRobotsDenied(entry.URL)
		j.recordFailure(entry.URL, KindRobotsDisallowed, "disallowed by robots.txt")
		return
	}

	if data, ok := j.cachedPage(entry.URL); ok {
		metrics.ObserveCacheHit()
		j.logger.Debug("cache hit", zap.String("url", entry.URL))
		j.completePage(entry, data)
		return
	}

	j.waitPoliteness(ctx, entry.URL)

	res, err := j.engine.renderer.Render(ctx, entry.URL)
	if err != nil {
		kind, msg := classifyError(err)
		j.recordFailure(entry.URL, kind, msg)
		return
	}

	tr, err := j.engine.transformer.ToMarkdown(res.HTML, entry.URL)
	if err != nil {
		j.recordFailure(entry.URL, KindUnknown, fmt.Sprintf("transforming page: %v", err))
		return
	}

	data := PageData{
		URL:      entry.URL,
		Markdown: tr.Markdown,
		Metadata: tr.Metadata,
		Outlinks: tr.Outlinks,
	}
	j.storePage(data)
	j.completePage(entry, data)
}

// completePage persists the artifact, records the manifest row, emits the
// page event, and admits outlinks. Shared by the fetch and cache-hit
// paths; cached pages still contribute their outlinks so a fully cached
// site keeps expanding.
func (j *job) completePage(entry FrontierEntry, data PageData) {
	path, err := j.sink.SavePage(data)
	if err != nil {
		j.recordFailure(entry.URL, KindUnknown, fmt.Sprintf("saving page: %v", err))
		return
	}
	if err := j.manifest.Append(ManifestRecord{URL: entry.URL, Path: path, Status: StatusScraped}); err != nil {
		j.logger.Warn("manifest write failed", zap.String("url", entry.URL), zap.Error(err))
	}

	j.mu.Lock()
	j.scraped = append(j.scraped, entry.URL)
	j.mu.Unlock()

	metrics.ObservePageScraped(entry.URL)
	j.events <- pageEvent(data)
	j.admitOutlinks(entry, data.Outlinks)
}

// admitOutlinks filters discovered links through depth, scope, pattern,
// and dedup checks. Rejections are silent; they are admission decisions,
// not failures.
func (j *job) admitOutlinks(entry FrontierEntry, links []string) {
	depth := entry.Depth + 1
	if depth > j.opts.MaxDepth {
		return
	}
	for _, raw := range links {
		u, err := urlutil.Parse(raw)
		if err != nil {
			continue
		}
		if !j.inScope(u) {
			continue
		}
		j.frontier.MarkAndEnqueue(FrontierEntry{
			URL:            u.String(),
			Depth:          depth,
			DiscoveredFrom: entry.URL,
		})
	}
}

func (j *job) inScope(u *url.URL) bool {
	if !j.opts.AllowExternalLinks && !urlutil.SameOrigin(j.rootURL, u) {
		return false
	}
	return j.matcher.Allow(u)
}

func (j *job) cachedPage(rawURL string) (PageData, bool) {
	if j.engine.cache == nil || j.opts.CacheTTL <= 0 {
		return PageData{}, false
	}
	payload, ok := j.engine.cache.Payload(rawURL)
	if !ok {
		return PageData{}, false
	}
	var data PageData
	if err := json.Unmarshal(payload, &data); err != nil {
		j.logger.Warn("discarding unreadable cache entry", zap.String("url", rawURL), zap.Error(err))
		return PageData{}, false
	}
	return data, true
}

func (j *job) storePage(data PageData) {
	if j.engine.cache == nil || j.opts.CacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	// Cache trouble never fails a page.
	if err := j.engine.cache.Put(data.URL, payload, j.opts.CacheTTL); err != nil {
		j.logger.Warn("cache write failed", zap.String("url", data.URL), zap.Error(err))
	}
}

func (j *job) waitPoliteness(ctx context.Context, rawURL string) {
	if j.limiter == nil {
		return
	}
	start := time.Now()
	if err := j.limiter.Wait(ctx); err != nil {
		return
	}
	if waited := time.Since(start); waited > 0 {
		metrics.ObservePolitenessDelay(rawURL, waited)
	}
}

func (j *job) recordFailure(rawURL string, kind ErrorKind, msg string) {
	info := ErrorInfo{URL: rawURL, Kind: kind, Message: msg}

	j.mu.Lock()
	j.failed = append(j.failed, info)
	j.mu.Unlock()

	if err := j.manifest.Append(ManifestRecord{URL: rawURL, Status: StatusFailed}); err != nil {
		j.logger.Warn("manifest write failed", zap.String("url", rawURL), zap.Error(err))
	}

	metrics.ObservePageFailed(rawURL, string(kind))
	j.logger.Warn("page failed", zap.String("url", rawURL), zap.String("kind", string(kind)), zap.String("reason", msg))
	j.events <- errorEvent(info)
}

func (j *job) emitProgress() {
	j.mu.Lock()
	j.processed++
	processed := j.processed
	j.mu.Unlock()

	estimate := min(j.opts.MaxPages, j.frontier.Enqueued())
	j.events <- progressEvent(processed, estimate)
}

func (j *job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
	j.logger.Debug("job state", zap.String("state", string(s)))
}

// classifyError maps a renderer error onto the failure taxonomy.
func classifyError(err error) (ErrorKind, string) {
	var rf *RenderFailure
	if errors.As(err, &rf) {
		return rf.Kind, rf.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, err.Error()
	}
	return KindFetchFailed, err.Error()
}
