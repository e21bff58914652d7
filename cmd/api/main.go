package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maraichr/sheetflow/internal/api"
	"github.com/maraichr/sheetflow/internal/config"
	"github.com/maraichr/sheetflow/internal/ingestion"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/internal/store"
	"github.com/maraichr/sheetflow/internal/store/postgres"
	vk "github.com/maraichr/sheetflow/internal/store/valkey"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	s := store.New(pool)

	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	broker := queue.NewBroker(vkClient, logger)
	if err := broker.EnsureGroups(ctx); err != nil {
		logger.Error("failed to ensure consumer groups", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Workers publish progress over Valkey; the relay feeds it to local
	// WebSocket subscribers.
	hub := progress.NewHub()
	relay := progress.NewRelay(vkClient, hub, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("progress relay stopped", slog.String("error", err.Error()))
		}
	}()

	// Intake events go through Valkey like the workers', so every replica's
	// relay sees them.
	pub := progress.Multi{progress.Logging{Logger: logger}, progress.NewValkeyPublisher(vkClient)}
	intake := ingestion.NewIntake(s, broker, pub, cfg.Storage.WorkDir, logger)

	router := api.NewRouter(logger, api.RouterDeps{
		DB:             pool,
		Queue:          broker,
		Uploads:        s,
		Intake:         intake,
		Hub:            hub,
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
}
