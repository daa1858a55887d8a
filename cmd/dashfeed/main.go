package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradeiq/dashfeed/internal/api"
	"github.com/tradeiq/dashfeed/internal/config"
	"github.com/tradeiq/dashfeed/internal/database"
	"github.com/tradeiq/dashfeed/internal/poller"
	"github.com/tradeiq/dashfeed/internal/realtime"
	"github.com/tradeiq/dashfeed/internal/recorder"
	"github.com/tradeiq/dashfeed/internal/status"
	"github.com/tradeiq/dashfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/dashfeed.example.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting dashfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional recorder
	var rec *recorder.Recorder
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger.With("component", "recorder"))

		if err := rec.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		// Writes must outlive the signal context so Stop can drain.
		if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no database configured, recording disabled")
	}

	// Realtime feed
	feed := realtime.New(realtimeConfig(cfg.Realtime), realtime.WithLogger(logger.With("component", "realtime")))
	defer feed.Close()

	feed.OnStatusChange(func(s realtime.Status) {
		logger.Info("realtime status", "status", s)
	})
	feed.OnMessage(func(msg *realtime.InboundMessage) {
		logger.Debug("realtime message", "type", msg.Type)
	})
	if rec != nil {
		feed.OnMessage(rec.RecordMessage)
	}
	feed.Connect()

	// Metrics poller
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	var handler poller.Handler
	if rec != nil {
		handler = rec
	}
	pl := poller.New(poller.Config{
		Instruments: cfg.Poller.Instruments,
		Timeframe:   cfg.Poller.Timeframe,
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, apiClient, handler, logger.With("component", "poller"))
	if err := pl.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	// Health and status server
	var recStats status.Recorder
	if rec != nil {
		recStats = rec
	}
	srv := status.New(feed, pl, recStats, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting http server", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("dashfeed running",
		"target", feed.Target(),
		"instruments", len(cfg.Poller.Instruments),
		"status_url", fmt.Sprintf("http://localhost:%d/status", cfg.HTTP.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	feed.Disconnect()
	if err := pl.Stop(shutdownCtx); err != nil {
		logger.Warn("poller stop", "error", err)
	}
	if rec != nil {
		if err := rec.Stop(shutdownCtx); err != nil {
			logger.Warn("recorder stop", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	logger.Info("dashfeed stopped")
}

func realtimeConfig(c config.RealtimeConfig) realtime.Config {
	return realtime.Config{
		BaseURL:              c.BaseURL,
		Path:                 c.Path,
		UserID:               c.UserID,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		HandshakeTimeout:     c.HandshakeTimeout,
		WriteTimeout:         c.WriteTimeout,
		PingInterval:         c.PingInterval,
	}
}
