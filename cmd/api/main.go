package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/app/migrate"
	httpx "github.com/CarlosSalas01/SistemaDeReplicas/internal/http"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/lifecycle"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository/memory"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository/postgres"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/activity"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/auth"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/requests"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/service/watchdog"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/storage"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/ws"
	"github.com/CarlosSalas01/SistemaDeReplicas/pkg/config"
	"github.com/CarlosSalas01/SistemaDeReplicas/pkg/logger"
)

func main() {
	cfg, err := config.LoadAPIConfigWithFile()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Service:     "sistema-replicas-api",
		Environment: cfg.Environment,
		Exporter:    cfg.OTELExporter,
		Endpoint:    cfg.OTELEndpoint,
	})
	if err != nil {
		log.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		log.Error("failed to open artifact storage", "error", err, "backend", cfg.ArtifactBackend)
		os.Exit(1)
	}

	registry := ws.NewRegistry()
	activitySvc := activity.New(store, log)
	var requestSvc requests.Service
	dispatcher := notify.NewDispatcher(registry, log,
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithPendingCounter(notify.PendingCounterFunc(func(ctx context.Context) (int, error) {
			return requestSvc.PendingCount(ctx)
		})),
	)
	requestSvc = requests.New(store, artifacts, activitySvc, dispatcher, log, cfg.MaxUploadBytes())
	authSvc := auth.New(store, activitySvc, log, cfg)
	lifecycleSvc := lifecycle.New(store, activitySvc, dispatcher, lifecycle.SimulatedDeployer{Delay: cfg.DeploySimulation}, log)
	watchdogCtl := watchdog.New(store, dispatcher, log, cfg.WatchdogInterval, cfg.DeployStuckAfter)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:       authSvc,
		Requests:   requestSvc,
		Activity:   activitySvc,
		Lifecycle:  lifecycleSvc,
		Watchdog:   watchdogCtl,
		Registry:   registry,
		Dispatcher: dispatcher,
	}, limiter, httpx.Options{
		MaxUploadBytes:      cfg.MaxUploadBytes(),
		WSSendBuffer:        cfg.WSSendBuffer,
		WSMessagesPerSecond: cfg.WSMessagesPerSecond,
		CORSOrigin:          cfg.CORSOrigin,
		DBHealth:            store.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return watchdogCtl.Run(gctx) })
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "artifacts", cfg.ArtifactBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := lifecycleSvc.Shutdown(shutdownCtx); err != nil {
			log.Warn("pending deployments not drained", "error", err, "pending", lifecycleSvc.PendingDeployments())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("api server stopped")
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	case "", "postgres":
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		runner.Close()
		return nil, nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		runner.Close()
		return nil, nil, err
	}
	return postgres.New(pool), runner.Close, nil
}

func openArtifacts(ctx context.Context, cfg config.APIConfig) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ArtifactBackend)) {
	case "", "disk":
		return storage.NewDiskStore(cfg.UploadDir)
	case "minio":
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown ARTIFACT_BACKEND %q", cfg.ArtifactBackend)
	}
}
