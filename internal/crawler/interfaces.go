package crawler

import (
	"context"
	"time"
)

// Renderer turns a URL into HTML. Implementations classify failures with
// *RenderFailure so the engine can report a precise error kind.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (RenderResult, error)
	Close(ctx context.Context) error
}

// Transformer converts fetched HTML into Markdown plus extracted metadata
// and outlinks. baseURL resolves relative links.
type Transformer interface {
	ToMarkdown(html, baseURL string) (TransformResult, error)
}

// PageCache stores serialized PageData keyed by URL. Implementations
// normalize the URL themselves so equivalent spellings share an entry.
type PageCache interface {
	Payload(rawURL string) ([]byte, bool)
	Put(rawURL string, payload []byte, ttl time.Duration) error
}

// RobotsPolicy answers per-URL admission questions for one origin.
type RobotsPolicy interface {
	Allowed(rawURL string) bool
	CrawlDelay() time.Duration
	Sitemaps() []string
}

// PolicyResolver fetches and parses the robots policy for the origin of
// rootURL. It never fails: unreachable or missing robots.txt resolves to a
// permissive policy.
type PolicyResolver func(ctx context.Context, rootURL string) RobotsPolicy

// SitemapSource discovers seed URLs for an origin, preferring the sitemap
// locations advertised by robots.txt.
type SitemapSource func(ctx context.Context, origin string, fromRobots []string) []string
