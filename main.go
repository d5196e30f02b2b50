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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"bitespeed/internal/config"
	"bitespeed/internal/database"
	"bitespeed/internal/handlers"
	"bitespeed/internal/lock"
	"bitespeed/internal/logger"
	"bitespeed/internal/metrics"
	"bitespeed/internal/service"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	store, closeStore, db, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(cfg, db)
	if err != nil {
		return err
	}
	defer closeLocker()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.NewReconciliationService(store,
		service.WithLogger(log),
		service.WithMetrics(metrics.New(registry)),
		service.WithLocker(locker),
	)
	router := handlers.NewRouter(handlers.NewIdentifyHandler(svc, log), registry, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "driver", cfg.DatabaseDriver, "lock_backend", cfg.LockBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// openStore returns the contact store for the configured driver. db is nil for the
// in-memory store.
func openStore(cfg config.Config, log *slog.Logger) (service.Store, func(), *database.DB, error) {
	if cfg.DatabaseDriver == "memory" {
		return database.NewMemoryStore(nil), func() {}, nil, nil
	}
	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database.NewContactStore(db.Conn), func() { _ = db.Close() }, db, nil
}

func openLocker(cfg config.Config, db *database.DB) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return lock.NewRedis(client, cfg.LockTTL), func() { _ = client.Close() }, nil
	case config.LockPostgres:
		if db == nil {
			return nil, nil, errors.New("postgres lock backend needs a postgres database")
		}
		return lock.NewPostgres(db.Conn.DB), func() {}, nil
	default:
		return lock.NewMemory(), func() {}, nil
	}
}
