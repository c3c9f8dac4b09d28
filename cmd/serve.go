package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/api"
	"github.com/supacrawl/supacrawl/internal/app"
)

const shutdownGrace = 10 * time.Second

// newServeCmd creates the 'serve' subcommand running the HTTP API.
func newServeCmd(appFrom func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl HTTP API",
		Long: `Starts the HTTP server exposing crawl submission with streaming
NDJSON responses, cache management, Prometheus metrics, and health checks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), appFrom())
		},
	}
}

func runServe(ctx context.Context, a *app.App) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(a.Engine, a.Cache, a.Settings.CacheTTL, a.Logger)
	httpServer := &http.Server{
		Addr:              a.Settings.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("api server listening", zap.String("addr", a.Settings.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
