// Package robots resolves and enforces robots.txt policy for a crawl.
//
// Policy resolution is deliberately forgiving: a missing, unreachable, or
// non-200 robots.txt yields the permissive default. Robots absence is not
// an error and never fails a job.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Policy is the immutable robots decision set for one origin. URLs outside
// the origin are out of scope and always allowed.
type Policy struct {
	origin     string
	group      *robotstxt.Group
	sitemaps   []string
	crawlDelay time.Duration
	userAgent  string
}

// Resolver fetches robots.txt and builds policies.
type Resolver struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewResolver builds a Resolver with the crawl's user agent.
func NewResolver(client *http.Client, userAgent string, logger *zap.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, userAgent: userAgent, logger: logger}
}

// Resolve fetches and parses robots.txt for the URL's origin. Any failure
// degrades to the permissive policy for that origin.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) *Policy {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Permissive("", r.userAgent)
	}
	origin := Origin(parsed)

	body, ok := r.fetch(ctx, origin)
	if !ok {
		return Permissive(origin, r.userAgent)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.logger.Warn("robots.txt parse failed; allowing access",
			zap.String("origin", origin), zap.Error(err))
		return Permissive(origin, r.userAgent)
	}

	policy := &Policy{
		origin:    origin,
		group:     data.FindGroup(r.userAgent),
		sitemaps:  append([]string(nil), data.Sitemaps...),
		userAgent: r.userAgent,
	}
	if policy.group != nil {
		policy.crawlDelay = policy.group.CrawlDelay
	}
	return policy
}

// fetch returns the robots.txt body only on HTTP 200. Everything else,
// including 5xx, means the crawl proceeds unrestricted.
func (r *Resolver) fetch(ctx context.Context, origin string) ([]byte, bool) {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed; allowing access",
			zap.String("url", robotsURL), zap.Error(err))
		return nil, false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("robots.txt unavailable; allowing access",
			zap.String("url", robotsURL), zap.Int("status", resp.StatusCode))
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, false
	}
	return body, true
}

// Permissive returns the allow-everything policy for an origin.
func Permissive(origin, userAgent string) *Policy {
	return &Policy{origin: origin, userAgent: userAgent}
}

// Allowed reports whether the URL may be fetched under this policy.
// Longest-match-wins between allow and disallow rules per standard robots
// semantics; no matching rule means allowed.
func (p *Policy) Allowed(rawURL string) bool {
	if p == nil || p.group == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if p.origin != "" && !strings.EqualFold(Origin(parsed), p.origin) {
		return true
	}
	return p.group.Test(parsed.RequestURI())
}

// CrawlDelay returns the Crawl-delay directive for the matched user-agent
// group, zero when absent.
func (p *Policy) CrawlDelay() time.Duration {
	if p == nil {
		return 0
	}
	return p.crawlDelay
}

// Sitemaps returns the Sitemap directive URLs in file order.
func (p *Policy) Sitemaps() []string {
	if p == nil {
		return nil
	}
	return p.sitemaps
}

// Origin returns the scheme://host[:port] triple for a URL.
func Origin(u *url.URL) string {
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}
