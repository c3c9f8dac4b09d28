package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supacrawl/supacrawl/internal/app"
	"github.com/supacrawl/supacrawl/internal/crawler"
)

type crawlFlags struct {
	limit      int
	maxDepth   int
	workers    int
	include    []string
	exclude    []string
	external   bool
	outputDir  string
	noCache    bool
	useSitemap bool
	resume     bool
	jsonOutput bool
}

// newCrawlCmd creates the 'crawl' subcommand: crawl a site and write
// Markdown artifacts plus a manifest to the output directory.
func newCrawlCmd(appFrom func() *app.App) *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site starting from a root URL",
		Long: `Crawls a website breadth-first from the root URL, staying on the
root's origin unless --allow-external is set. Every scraped page becomes a
Markdown file; manifest.json in the output directory records the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), appFrom(), args[0], flags)
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", crawler.DefaultMaxPages, "maximum pages to process")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", crawler.DefaultMaxDepth, "maximum link depth from the root (0 crawls only the root)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "concurrent fetches (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "glob patterns a URL path must match")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "glob patterns that reject a URL path")
	cmd.Flags().BoolVar(&flags.external, "allow-external", false, "follow links to other origins")
	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "./crawl-output", "output directory")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "bypass the content cache")
	cmd.Flags().BoolVar(&flags.useSitemap, "sitemap", false, "seed the crawl from the site's sitemap")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "skip URLs already in the output manifest")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "emit raw NDJSON events instead of progress lines")
	return cmd
}

func runCrawl(ctx context.Context, a *app.App, rootURL string, flags crawlFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := flags.workers
	if workers <= 0 {
		workers = a.Settings.Concurrency
	}

	opts := crawler.Options{
		RootURL:            rootURL,
		MaxPages:           flags.limit,
		MaxDepth:           flags.maxDepth,
		Concurrency:        workers,
		IncludePatterns:    flags.include,
		ExcludePatterns:    flags.exclude,
		AllowExternalLinks: flags.external,
		OutputDir:          flags.outputDir,
		UseSitemap:         flags.useSitemap,
		Resume:             flags.resume,
	}
	if !flags.noCache {
		opts.CacheTTL = a.Settings.CacheTTL
	}

	events, err := a.Engine.Crawl(ctx, opts)
	if err != nil {
		return err
	}

	if flags.jsonOutput {
		return streamJSON(events)
	}
	return streamText(events, flags.outputDir)
}

func streamJSON(events <-chan crawler.Event) error {
	enc := json.NewEncoder(os.Stdout)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func streamText(events <-chan crawler.Event, outputDir string) error {
	for ev := range events {
		switch ev.Kind {
		case crawler.EventProgress:
			fmt.Printf("\rprocessed %d/%d", ev.Progress.Processed, ev.Progress.Estimate)
		case crawler.EventPage:
			fmt.Printf("\rscraped   %s\n", ev.Page.URL)
		case crawler.EventError:
			fmt.Printf("\rfailed    %s (%s: %s)\n", ev.Error.URL, ev.Error.Kind, ev.Error.Message)
		case crawler.EventComplete:
			fmt.Printf("\rdone: %d scraped, %d failed. Output in %s\n",
				len(ev.Complete.ScrapedURLs), len(ev.Complete.Failed), outputDir)
		}
	}
	return nil
}
