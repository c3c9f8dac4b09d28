// Package sitemap discovers and parses XML sitemaps used to seed a crawl.
//
// Sitemap data is advisory only: every URL found here still passes through
// the same policy, pattern, and dedup checks as organically discovered
// links. Malformed or unreachable sitemaps yield an empty list, never an
// error.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Nested sitemap indexes are parsed recursively up to this depth; the cap
// plus the visited set keeps cyclic indexes from exploding.
const maxIndexDepth = 3

const maxSitemapBytes = 32 << 20

// Conventional locations probed when robots.txt lists no sitemaps.
var fallbackPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap/sitemap.xml",
}

// Entry is a single URL record from a sitemap.
type Entry struct {
	URL          string
	LastModified time.Time
	Priority     float64
}

// Client fetches and parses sitemaps.
type Client struct {
	client    *http.Client
	userAgent string
	maxURLs   int
	logger    *zap.Logger
}

// NewClient builds a sitemap client. maxURLs caps the total entries
// returned across nested indexes.
func NewClient(client *http.Client, userAgent string, maxURLs int, logger *zap.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxURLs <= 0 {
		maxURLs = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: client, userAgent: userAgent, maxURLs: maxURLs, logger: logger}
}

// Seeds returns sitemap entries for an origin. Sitemap URLs from robots.txt
// take precedence; conventional locations are probed only when robots.txt
// listed none.
func (c *Client) Seeds(ctx context.Context, origin string, fromRobots []string) []Entry {
	sitemapURLs := append([]string(nil), fromRobots...)
	if len(sitemapURLs) == 0 {
		if found := c.probeFallbacks(ctx, origin); found != "" {
			sitemapURLs = append(sitemapURLs, found)
		}
	}

	var entries []Entry
	visited := make(map[string]struct{})
	for _, u := range sitemapURLs {
		entries = append(entries, c.parse(ctx, u, 0, visited, c.maxURLs-len(entries))...)
		if len(entries) >= c.maxURLs {
			break
		}
	}
	return entries
}

// Parse fetches and parses one sitemap, following nested indexes.
func (c *Client) Parse(ctx context.Context, sitemapURL string) []Entry {
	return c.parse(ctx, sitemapURL, 0, make(map[string]struct{}), c.maxURLs)
}

func (c *Client) probeFallbacks(ctx context.Context, origin string) string {
	origin = strings.TrimSuffix(origin, "/")
	for _, path := range fallbackPaths {
		candidate := origin + path
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, candidate, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", c.userAgent)
		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close sitemap probe body", zap.Error(cerr))
		}
		if resp.StatusCode == http.StatusOK {
			return candidate
		}
	}
	return ""
}

func (c *Client) parse(ctx context.Context, sitemapURL string, depth int, visited map[string]struct{}, budget int) []Entry {
	if budget <= 0 {
		return nil
	}
	if depth >= maxIndexDepth {
		c.logger.Warn("max sitemap index depth reached", zap.String("url", sitemapURL))
		return nil
	}
	if _, seen := visited[sitemapURL]; seen {
		c.logger.Debug("sitemap cycle detected", zap.String("url", sitemapURL))
		return nil
	}
	visited[sitemapURL] = struct{}{}

	content, ok := c.fetch(ctx, sitemapURL)
	if !ok {
		return nil
	}

	root, ok := rootElement(content)
	if !ok {
		c.logger.Warn("sitemap is not valid XML", zap.String("url", sitemapURL))
		return nil
	}

	switch root {
	case "sitemapindex":
		var idx sitemapIndex
		if err := xml.Unmarshal(content, &idx); err != nil {
			c.logger.Warn("sitemap index parse failed", zap.String("url", sitemapURL), zap.Error(err))
			return nil
		}
		var entries []Entry
		for _, sm := range idx.Sitemaps {
			loc := strings.TrimSpace(sm.Loc)
			if loc == "" {
				continue
			}
			entries = append(entries, c.parse(ctx, loc, depth+1, visited, budget-len(entries))...)
			if len(entries) >= budget {
				break
			}
		}
		return entries
	case "urlset":
		var set urlSet
		if err := xml.Unmarshal(content, &set); err != nil {
			c.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
			return nil
		}
		entries := make([]Entry, 0, len(set.URLs))
		for _, u := range set.URLs {
			if len(entries) >= budget {
				break
			}
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			entries = append(entries, Entry{
				URL:          loc,
				LastModified: parseLastMod(u.LastMod),
				Priority:     parsePriority(u.Priority),
			})
		}
		return entries
	default:
		c.logger.Warn("unknown sitemap root element",
			zap.String("url", sitemapURL), zap.String("element", root))
		return nil
	}
}

func (c *Client) fetch(ctx context.Context, sitemapURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil, false
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close sitemap response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("sitemap returned non-200",
			zap.String("url", sitemapURL), zap.Int("status", resp.StatusCode))
		return nil, false
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		c.logger.Warn("sitemap read failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil, false
	}

	if strings.HasSuffix(sitemapURL, ".gz") || isGzip(content) {
		if unzipped, err := gunzip(content); err == nil {
			content = unzipped
		}
	}
	return content, true
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc      string `xml:"loc"`
		LastMod  string `xml:"lastmod"`
		Priority string `xml:"priority"`
	} `xml:"url"`
}

func rootElement(content []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, true
		}
	}
}

func isGzip(content []byte) bool {
	return len(content) > 2 && content[0] == 0x1f && content[1] == 0x8b
}

func gunzip(content []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(io.LimitReader(r, maxSitemapBytes))
}

var lastModLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseLastMod(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parsePriority(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return p
}
