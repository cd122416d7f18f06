package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"beanpos/backend/internal/cache"
	"beanpos/backend/internal/cart"
	"beanpos/backend/internal/config"
	"beanpos/backend/internal/describe"
	"beanpos/backend/internal/httpapi"
	"beanpos/backend/internal/logger"
	"beanpos/backend/internal/service"
	"beanpos/backend/internal/snapshot"
	"beanpos/backend/internal/store"
	"beanpos/backend/internal/store/memory"
	pgstore "beanpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	zlog := logger.NewWithDefaults()
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			zlog.Fatal("schema setup failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zlog.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		zlog.Info("repository: in-memory")
	}

	register := cart.NewEngine(repo)

	var snapshots *snapshot.Writer
	if cfg.SnapshotPath != "" {
		snapshots = snapshot.NewWriter(cfg.SnapshotPath)
		state, err := snapshot.Load(cfg.SnapshotPath)
		if err != nil {
			zlog.Warn("snapshot unreadable, starting fresh", zap.Error(err))
		} else if state != nil {
			register.Restore(state.Sales, state.ActiveSaleID, state.NextSaleID)
			zlog.Info("register restored from snapshot",
				zap.Int("open_sales", len(state.Sales)),
				zap.Time("saved_at", state.SavedAt),
			)
		}
	}

	descCache := cache.DescriptionCache(cache.NoopDescriptionCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDescriptionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			zlog.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			descCache = redisCache
			closers = append(closers, redisCache.Close)
			zlog.Info("cache: redis")
		}
	} else {
		zlog.Info("cache: noop")
	}

	var generator describe.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := describe.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			zlog.Warn("gemini unavailable, descriptions fall back to placeholder", zap.Error(err))
		} else {
			generator = gemini
			closers = append(closers, gemini.Close)
			zlog.Info("describe: gemini")
		}
	} else {
		zlog.Info("describe: placeholder only")
	}
	describer := describe.NewEngine(generator, descCache, cfg.DescribeTTL, func(productName string, err error) {
		zlog.Warn("describe failed", zap.String("product", productName), zap.Error(err))
	})

	svc := service.New(repo, register, describer, snapshots, zlog, cfg.DefaultBranchID)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, zlog, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("cafe POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Warn("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}
