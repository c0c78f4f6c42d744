package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/carzilla-scraper/internal/api"
	"github.com/maltedev/carzilla-scraper/internal/app"
	"github.com/maltedev/carzilla-scraper/internal/config"
	"github.com/maltedev/carzilla-scraper/internal/jobs"
	"github.com/maltedev/carzilla-scraper/internal/logging"
	"github.com/maltedev/carzilla-scraper/internal/queue"
)

const (
	jobWorkers   = 2
	jobQueueSize = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Relay != nil {
		go func() {
			if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	jobQueue := queue.NewInMemoryQueue(jobQueueSize)
	jobManager := jobs.NewManager(a.Service, jobQueue, 0, logger)
	workersDone := make(chan struct{})
	go func() {
		jobManager.Run(ctx, jobWorkers)
		close(workersDone)
	}()

	opts := []api.Option{api.WithJobs(jobManager)}
	if a.Outbox != nil {
		opts = append(opts, api.WithOutbox(a.Outbox))
	}
	if a.Dataset != nil {
		opts = append(opts, api.WithDataset(a.Dataset))
	}
	handlers := api.NewHandlers(a.Service, a.Mapper, a.Checker, a.Catalog, logger, opts...)

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Scraper.Budget + 10*time.Second,
			AccessLog:      true,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		// Let queued jobs drain before the workers are cancelled.
		_ = jobQueue.Close()
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
		}
		cancel()
	}()

	logger.Info("server starting", "addr", cfg.Addr(), "driver", cfg.Scraper.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped")
}
