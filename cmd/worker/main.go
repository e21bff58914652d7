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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maraichr/sheetflow/internal/chunkstore"
	"github.com/maraichr/sheetflow/internal/config"
	"github.com/maraichr/sheetflow/internal/ingestion"
	"github.com/maraichr/sheetflow/internal/lease"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/internal/store"
	minioclient "github.com/maraichr/sheetflow/internal/store/minio"
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

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.Database.DSN(), "up", -1, logger); err != nil {
			logger.Error("failed to migrate database", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Database
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	s := store.New(pool)

	// Valkey
	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	chunks, err := newChunkStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open chunk store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("chunk store ready", slog.String("backend", cfg.Storage.ChunkStore))

	broker := queue.NewBroker(vkClient, logger)
	if err := broker.EnsureGroups(ctx); err != nil {
		logger.Error("failed to ensure consumer groups", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pub := progress.Multi{progress.Logging{Logger: logger}, progress.NewValkeyPublisher(vkClient)}

	dispatcher := ingestion.NewDispatcher(
		ingestion.NewIntake(s, broker, pub, cfg.Storage.WorkDir, logger),
		ingestion.NewDecomposer(s, chunks, broker, pub, ingestion.NewSheetReader(cfg.Pipeline.SheetReader), cfg.Pipeline.ChunkSize, logger),
		ingestion.NewRowProcessor(s, chunks, lease.NewValkey(vkClient), pub, cfg.Pipeline.LeaseTTL, logger),
		logger,
	)

	policy := queue.Policy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Initial:     cfg.Worker.BackoffInitial,
		Max:         cfg.Worker.BackoffMax,
	}
	var rowLimiter *rate.Limiter
	if cfg.Worker.RowRateLimit > 0 {
		rowLimiter = rate.NewLimiter(rate.Limit(cfg.Worker.RowRateLimit), cfg.Worker.RowRateLimit)
	}
	concurrency := map[queue.Kind]int{
		queue.KindIntake:    cfg.Worker.IntakeConcurrency,
		queue.KindDecompose: cfg.Worker.ChunkConcurrency,
		queue.KindRow:       cfg.Worker.RowConcurrency,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range queue.Kinds() {
		pc := queue.PoolConfig{
			Consumer:     cfg.Worker.ConsumerName,
			Concurrency:  concurrency[kind],
			Policy:       policy,
			ClaimTimeout: cfg.Worker.ClaimTimeout,
		}
		if kind == queue.KindRow {
			pc.Limiter = rowLimiter
		}
		p := queue.NewPool(broker.Queue(kind), dispatcher, pc, logger)
		g.Go(func() error { return p.Run(ctx) })
	}

	if cfg.Worker.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func newChunkStore(ctx context.Context, cfg *config.Config) (chunkstore.Store, error) {
	switch cfg.Storage.ChunkStore {
	case "minio":
		mc, err := minioclient.NewClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return chunkstore.NewMinIO(mc), nil
	case "s3":
		return chunkstore.NewS3(ctx, cfg.S3)
	default:
		return chunkstore.NewDisk(cfg.Storage.ChunkDir)
	}
}
