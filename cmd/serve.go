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
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/api"
)

const (
	shutdownTimeout = 15 * time.Second
	cleanupInterval = 10 * time.Minute
	readHeaderLimit = 10 * time.Second
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the documentation job service",
		Long: `Starts the HTTP API, the job worker pool, and the stale-job
reaper. Jobs are accepted on POST /v1/jobs and processed in the
background.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe, err := buildPipeline(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer pipe.Close()

	pipe.pool.Start(ctx)

	go reapStaleJobs(ctx, pipe, cfg.StaleAfter(), logger)

	server := api.NewServer(pipe.service, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderLimit,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	pipe.queue.Close()
	pipe.pool.Wait()
	logger.Info("shutdown complete")
	return nil
}

// reapStaleJobs periodically fails in-progress jobs that stopped advancing,
// typically after a crash or deploy mid-run.
func reapStaleJobs(ctx context.Context, pipe *pipeline, olderThan time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pipe.service.CleanupStale(ctx, olderThan)
			if err != nil {
				logger.Warn("stale job cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("stale jobs failed", zap.Int("count", n))
			}
		}
	}
}
