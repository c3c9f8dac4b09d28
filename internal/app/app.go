// Package app assembles the application services shared by the CLI
// commands: configuration, logging, the content cache, and the crawl
// engine with its renderer, transformer, and policy sources.
package app

import (
	"context"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/cache"
	"github.com/supacrawl/supacrawl/internal/config"
	"github.com/supacrawl/supacrawl/internal/crawler"
	"github.com/supacrawl/supacrawl/internal/logging"
	"github.com/supacrawl/supacrawl/internal/robots"
	"github.com/supacrawl/supacrawl/internal/sitemap"
)

// App holds the wired services for one process.
type App struct {
	Settings config.Settings
	Logger   *zap.Logger
	Cache    *cache.Store
	Engine   *crawler.Engine

	renderer *crawler.PageRenderer
}

// New builds the full service graph from configuration.
func New(v *viper.Viper) (*App, error) {
	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(settings.Development)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(settings.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	renderer, err := crawler.NewPageRenderer(crawler.RenderConfig{
		UserAgent:        settings.UserAgent,
		RequestTimeout:   settings.RequestTimeout,
		RenderTimeout:    settings.RenderTimeout,
		FetchConcurrency: settings.Concurrency,
		JSEnabled:        settings.RenderEnabled,
		RenderWorkers:    settings.RenderWorkers,
	}, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: settings.RequestTimeout}
	resolver := robots.NewResolver(httpClient, settings.UserAgent, logger)
	resolve := func(ctx context.Context, rootURL string) crawler.RobotsPolicy {
		return resolver.Resolve(ctx, rootURL)
	}

	sitemaps := sitemap.NewClient(httpClient, settings.UserAgent, 0, logger)
	sitemapSource := func(ctx context.Context, origin string, fromRobots []string) []string {
		entries := sitemaps.Seeds(ctx, origin, fromRobots)
		urls := make([]string, 0, len(entries))
		for _, e := range entries {
			urls = append(urls, e.URL)
		}
		return urls
	}

	engine := crawler.NewEngine(
		renderer,
		crawler.NewMarkdownTransformer(logger),
		store,
		resolve,
		sitemapSource,
		logger,
	)

	return &App{
		Settings: settings,
		Logger:   logger,
		Cache:    store,
		Engine:   engine,
		renderer: renderer,
	}, nil
}

// Close releases the renderer and flushes logs.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if err := a.renderer.Close(ctx); err != nil {
		a.Logger.Warn("renderer close failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
