package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-commonbase/commonbase/internal/api"
	"github.com/your-commonbase/commonbase/internal/observability"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // bulk uploads can run long
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes and starts the HTTP API server.
func runServe(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting commonbase", "version", Version)

	a, err := setupApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		AgentHost:   a.cfg.Tracing.AgentHost,
		Environment: a.cfg.Tracing.Environment,
		ServiceName: a.cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if flushErr := shutdownTracing(flushCtx); flushErr != nil {
			logger.Warn("flushing traces", "error", flushErr)
		}
	}()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Store:       a.store,
		Linker:      a.linker,
		Searcher:    a.searcher,
		Graph:       a.graph,
		Bulk:        a.pipeline,
		Embedder:    a.ai,
		Synthesizer: a.ai,
		Transcriber: a.ai,
		Pool:        a.pool,
		CORSOrigins: a.cfg.CORSOrigins,
		TrustProxy:  a.cfg.TrustProxy,
		RateBurst:   a.cfg.RateBurst,
		AssetsDir:   a.cfg.AssetsDir,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	addr := a.cfg.Addr
	if flagAddr != "" {
		addr = flagAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
