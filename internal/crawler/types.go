package crawler

import (
	"fmt"
	"time"
)

// State is the lifecycle phase of a crawl job.
type State string

// Job lifecycle states. DRAINING means no new fetches start but in-flight
// fetches run to completion.
const (
	StateSeeded   State = "seeded"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateComplete State = "complete"
)

// ErrorKind classifies per-page failures surfaced on the event stream.
type ErrorKind string

// Failure kinds. All of them are scoped to a single page; none aborts the
// job.
const (
	KindInvalidURL       ErrorKind = "invalid_url"
	KindRobotsDisallowed ErrorKind = "robots_disallowed"
	KindFetchFailed      ErrorKind = "fetch_failed"
	KindTimeout          ErrorKind = "timeout"
	KindNetwork          ErrorKind = "network"
	KindUnknown          ErrorKind = "unknown"
)

// RenderFailure is the typed error returned by Renderer implementations.
type RenderFailure struct {
	Kind    ErrorKind
	Message string
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("render failed (%s): %s", e.Kind, e.Message)
}

// FrontierEntry is one discovered URL awaiting processing. Entries are
// created once a link passes policy, pattern, and dedup checks and are
// never mutated afterwards.
type FrontierEntry struct {
	URL            string
	Depth          int
	DiscoveredFrom string
}

// Options configures a single crawl job.
type Options struct {
	RootURL            string        `json:"url"`
	MaxPages           int           `json:"limit"`
	MaxDepth           int           `json:"max_depth"`
	Concurrency        int           `json:"concurrency"`
	IncludePatterns    []string      `json:"include_patterns"`
	ExcludePatterns    []string      `json:"exclude_patterns"`
	AllowExternalLinks bool          `json:"allow_external_links"`
	OutputDir          string        `json:"output_dir"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	UseSitemap         bool          `json:"use_sitemap"`
	Resume             bool          `json:"resume"`
}

// Default crawl limits. MaxDepth has no in-engine fallback because zero
// is a meaningful value (root-only crawl); the CLI and API layers apply
// DefaultMaxDepth when the caller left depth unset.
const (
	DefaultMaxPages    = 100
	DefaultMaxDepth    = 3
	DefaultConcurrency = 10
)

// ApplyDefaults fills unset knobs with the standard crawl limits. Zero is
// invalid for MaxPages and Concurrency so it reads as unset; MaxDepth is
// left alone, zero means crawl only the root.
func (o *Options) ApplyDefaults() {
	if o.MaxPages == 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// Validate rejects configuration-level mistakes. These are the only
// failures that abort a crawl before it starts.
func (o Options) Validate() error {
	if o.RootURL == "" {
		return fmt.Errorf("root url must be set")
	}
	if o.MaxPages <= 0 {
		return fmt.Errorf("page limit must be > 0")
	}
	if o.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output directory must be set")
	}
	return nil
}

// PageMetadata is the metadata the transformer extracts from a page.
type PageMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// PageData is the normalized result for one scraped page. It is the cache
// payload and the body of a page event.
type PageData struct {
	URL      string       `json:"url"`
	Markdown string       `json:"markdown"`
	Metadata PageMetadata `json:"metadata"`
	Outlinks []string     `json:"outlinks"`
}

// TransformResult is the output of the HTML-to-Markdown transformer.
type TransformResult struct {
	Markdown string
	Metadata PageMetadata
	Outlinks []string
}

// RenderResult carries both the rendered and the raw HTML for a URL.
type RenderResult struct {
	HTML    string
	RawHTML string
}

// EventKind discriminates crawl stream events.
type EventKind string

// The four event kinds. A crawl stream is a finite sequence of progress,
// page, and error events terminated by exactly one complete event.
const (
	EventProgress EventKind = "progress"
	EventPage     EventKind = "page"
	EventError    EventKind = "error"
	EventComplete EventKind = "complete"
)

// ProgressInfo reports entries processed so far. Estimate is advisory: the
// lesser of the page limit and the URLs admitted to the frontier.
type ProgressInfo struct {
	Processed int `json:"processed"`
	Estimate  int `json:"total_estimate"`
}

// ErrorInfo describes one per-page failure.
type ErrorInfo struct {
	URL     string    `json:"url"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CompleteInfo is the terminal event payload.
type CompleteInfo struct {
	ScrapedURLs []string    `json:"scraped_urls"`
	Failed      []ErrorInfo `json:"failed"`
}

// Event is a closed tagged variant: Kind selects which payload pointer is
// set; the others are nil.
type Event struct {
	Kind     EventKind     `json:"type"`
	Progress *ProgressInfo `json:"progress,omitempty"`
	Page     *PageData     `json:"page,omitempty"`
	Error    *ErrorInfo    `json:"error,omitempty"`
	Complete *CompleteInfo `json:"complete,omitempty"`
}

func progressEvent(processed, estimate int) Event {
	return Event{Kind: EventProgress, Progress: &ProgressInfo{Processed: processed, Estimate: estimate}}
}

func pageEvent(data PageData) Event {
	return Event{Kind: EventPage, Page: &data}
}

func errorEvent(info ErrorInfo) Event {
	return Event{Kind: EventError, Error: &info}
}

func completeEvent(info CompleteInfo) Event {
	return Event{Kind: EventComplete, Complete: &info}
}
