// Package api exposes the HTTP interface: crawl submission with a
// streaming NDJSON event response, cache management, and operational
// endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/cache"
	"github.com/supacrawl/supacrawl/internal/crawler"
	"github.com/supacrawl/supacrawl/internal/metrics"
	"github.com/supacrawl/supacrawl/internal/middleware"
)

// Server wires HTTP handlers to the crawl engine and the content cache.
type Server struct {
	router          chi.Router
	engine          *crawler.Engine
	store           *cache.Store
	defaultCacheTTL time.Duration
	logger          *zap.Logger
}

// NewServer constructs a Server with middleware and routes. store may be
// nil, which disables the cache endpoints with 404s.
func NewServer(engine *crawler.Engine, store *cache.Store, defaultCacheTTL time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		engine:          engine,
		store:           store,
		defaultCacheTTL: defaultCacheTTL,
		logger:          logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl", s.crawl)
		if store != nil {
			r.Route("/cache", func(r chi.Router) {
				r.Get("/stats", s.cacheStats)
				r.Post("/clear", s.cacheClear)
				r.Post("/prune", s.cachePrune)
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// crawlRequest is the crawl submission body. cache_ttl accepts a Go
// duration string ("30m"); zero means the server default. max_depth is a
// pointer so an explicit 0 (root-only crawl) is distinguishable from the
// field being omitted.
type crawlRequest struct {
	URL                string   `json:"url"`
	Limit              int      `json:"limit"`
	MaxDepth           *int     `json:"max_depth"`
	Concurrency        int      `json:"concurrency"`
	IncludePatterns    []string `json:"include_patterns"`
	ExcludePatterns    []string `json:"exclude_patterns"`
	AllowExternalLinks bool     `json:"allow_external_links"`
	OutputDir          string   `json:"output_dir"`
	CacheTTL           string   `json:"cache_ttl"`
	UseSitemap         bool     `json:"use_sitemap"`
	Resume             bool     `json:"resume"`
	NoCache            bool     `json:"no_cache"`
}

// crawl starts a crawl and streams its events as NDJSON until the
// terminal complete event. Closing the connection drains the job.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	maxDepth := crawler.DefaultMaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}

	opts := crawler.Options{
		RootURL:            req.URL,
		MaxPages:           req.Limit,
		MaxDepth:           maxDepth,
		Concurrency:        req.Concurrency,
		IncludePatterns:    req.IncludePatterns,
		ExcludePatterns:    req.ExcludePatterns,
		AllowExternalLinks: req.AllowExternalLinks,
		OutputDir:          req.OutputDir,
		UseSitemap:         req.UseSitemap,
		Resume:             req.Resume,
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(os.TempDir(), "supacrawl", uuid.NewString())
	}
	if !req.NoCache {
		opts.CacheTTL = s.defaultCacheTTL
		if req.CacheTTL != "" {
			ttl, err := time.ParseDuration(req.CacheTTL)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid cache_ttl: "+err.Error())
				return
			}
			opts.CacheTTL = ttl
		}
	}

	events, err := s.engine.Crawl(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Client went away; the request context cancellation drains
			// the job, so just consume the rest of the stream.
			s.logger.Debug("event stream write failed", zap.Error(err))
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.Clear(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) cachePrune(w http.ResponseWriter, _ *http.Request) {
	removed, err := s.store.Prune()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
