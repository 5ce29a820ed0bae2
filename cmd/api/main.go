package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"leadignite/api/internal/app"
	"leadignite/api/internal/blob"
	"leadignite/api/internal/config"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/search"
	"leadignite/api/internal/store"
	"leadignite/api/internal/vector"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		logger, _ = logging.New("info")
		logger.Warn("invalid LOG_LEVEL, using info", zap.String("level", cfg.LogLevel))
	}
	defer func() { _ = logger.Sync() }()

	deps := app.Deps{Config: cfg, Logger: logger}

	var db *sql.DB
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
		deps.DB = db
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		var client *redis.Client
		client, err = store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer client.Close()
		deps.Redis = client
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeiliEngine(cfg.MeiliURL, cfg.MeiliAPIKey, logger.Named("meilisearch"))
		defer meili.Close()
		deps.Search = meili
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger.Named("minio"))
		if err != nil {
			logger.Fatal("minio setup failed", zap.Error(err))
		}
		deps.Blobs = blobs
	}

	vectors, err := vector.New(ctx, cfg, db, logger.Named("vector"))
	if err != nil {
		logger.Fatal("vector backend setup failed", zap.String("backend", cfg.VectorBackend), zap.Error(err))
	}
	deps.Vectors = vectors

	httpServer := app.NewHTTPServer(app.New(deps), cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Lead Ignite API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
