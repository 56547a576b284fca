package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"fleettag/pkg/bus"
	"fleettag/pkg/db"
	"fleettag/pkg/metrics"
	gos3 "fleettag/pkg/s3"
	"fleettag/pkg/telemetry"
	"fleettag/services/history"
)

const serviceName = "fleettag-history"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", serviceName).Logger()
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("history service failed")
	}
}

func run(logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := history.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if !cfg.SkipMigration {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	orm, err := db.OpenORM(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Error().Err(err).Msg("close orm")
		}
	}()

	m := metrics.New()

	eventBus, err := bus.New(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer eventBus.Close()
	if err := eventBus.EnsureStream(); err != nil {
		return err
	}

	store, err := history.NewPGStore(pool)
	if err != nil {
		return err
	}
	ingestor, err := history.NewIngestor(eventBus, store, m, logger)
	if err != nil {
		return err
	}
	if err := ingestor.Start(ctx); err != nil {
		return fmt.Errorf("start ingest: %w", err)
	}
	defer func() {
		if err := ingestor.Close(); err != nil {
			logger.Error().Err(err).Msg("close ingest")
		}
	}()

	reader, err := history.NewGormReader(orm)
	if err != nil {
		return err
	}

	serverCfg := history.ServerConfig{
		Reader:     reader,
		Stats:      store,
		Ready:      func(ctx context.Context) error { return db.Ping(ctx, pool) },
		PresignTTL: cfg.PresignTTL,
		Metrics:    m,
		Logger:     logger,
		RateLimit:  cfg.RateLimit,
	}
	if cfg.S3Bucket != "" {
		s3Client, err := gos3.NewClientFromEnv(ctx)
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		serverCfg.Presigner = s3Client
		serverCfg.Bucket = cfg.S3Bucket
	}

	server, err := history.NewServer(serverCfg)
	if err != nil {
		return err
	}
	handler, err := server.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
