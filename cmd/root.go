// Package cmd defines and implements the CLI commands for the supacrawl
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/supacrawl/supacrawl/internal/app"
	"github.com/supacrawl/supacrawl/internal/config"
)

// newRootCmd creates and configures the root command. Service wiring
// happens in PersistentPreRunE so every subcommand sees a built App.
func newRootCmd() *cobra.Command {
	var application *app.App

	cmd := &cobra.Command{
		Use:   "supacrawl",
		Short: "Crawl a site and turn its pages into Markdown.",
		Long: `supacrawl walks a website starting from a root URL, honoring
robots.txt, and converts every page it scrapes into a Markdown artifact
with a manifest describing the crawl.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.GetViper()
			config.Init(v)

			var err error
			application, err = app.New(v)
			if err != nil {
				return fmt.Errorf("initializing services: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			application.Close(cmd.Context())
		},
	}

	appFrom := func() *app.App { return application }
	cmd.AddCommand(newCrawlCmd(appFrom))
	cmd.AddCommand(newCacheCmd(appFrom))
	cmd.AddCommand(newServeCmd(appFrom))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
