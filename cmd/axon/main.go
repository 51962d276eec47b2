package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/app/migrate"
	"github.com/AbhishekMashetty/axon/internal/archive"
	"github.com/AbhishekMashetty/axon/internal/cluster"
	httpx "github.com/AbhishekMashetty/axon/internal/http"
	"github.com/AbhishekMashetty/axon/internal/manifest"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/repository"
	"github.com/AbhishekMashetty/axon/internal/repository/memory"
	"github.com/AbhishekMashetty/axon/internal/repository/postgres"
	"github.com/AbhishekMashetty/axon/internal/service/rollout"
	"github.com/AbhishekMashetty/axon/internal/ws"
	"github.com/AbhishekMashetty/axon/pkg/config"
	"github.com/AbhishekMashetty/axon/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	orchCfg := config.LoadOrchestratorConfig()
	log := logger.New("axon", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		if cfg.Environment != "development" {
			log.Error("JWT_SECRET is required outside development")
			os.Exit(1)
		}
		log.Warn("JWT_SECRET not set, API authentication disabled")
	}

	store, dbHealth, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	mappings, err := cluster.LoadMappings(orchCfg.ServiceMappingsPath)
	if err != nil {
		log.Error("failed to load service mappings", "error", err)
		os.Exit(1)
	}
	clientset, err := cluster.NewClientset(orchCfg.KubeconfigPath)
	if err != nil {
		log.Error("failed to create kubernetes client", "error", err)
		os.Exit(1)
	}
	validator := cluster.New(clientset, mappings, log)

	pipelineClient := pipeline.New(pipelineConfig(orchCfg.Pipeline), nil, log)
	parser, err := manifest.NewParser(mappings)
	if err != nil {
		log.Error("failed to compile manifest schema", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub(log)
	defer hub.Close()

	orch := rollout.New(orchestratorConfig(orchCfg), rollout.Dependencies{
		Store:     store,
		Pipeline:  pipelineClient,
		Validator: validator,
		Events:    hub,
		Metrics:   rollout.NewMetrics(registry),
		Logger:    log,
	})

	var archiver httpx.Archiver
	if cfg.Archive.Enabled() {
		archiveStore, err := archive.New(cfg.Archive, log)
		if err != nil {
			log.Error("failed to configure manifest archive", "error", err)
			os.Exit(1)
		}
		if err := archiveStore.EnsureBucket(ctx); err != nil {
			log.Warn("manifest archive bucket unavailable", "error", err)
		}
		archiver = archiveStore
	}

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		shared, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("shared quotas unavailable, counting per replica", "error", err)
		} else {
			limiter = shared
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter(clock.RealClock{})
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:           log,
		Orchestrator:     orch,
		Manifests:        parser,
		Cluster:          validator,
		Pipeline:         pipelineClient,
		Archive:          archiver,
		Hub:              hub,
		Limiter:          limiter,
		JWTSecret:        cfg.JWTSecret,
		MaxManifestBytes: cfg.MaxManifestBytes,
		DBHealth:         dbHealth,
		Registry:         registry,
		BaseContext:      ctx,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.Store)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		// In-flight batches observe ctx and fail their remaining deployments.
		orch.Wait()
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore returns the configured repository, its health check, and a release func.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store, batches are lost on restart")
		return memory.New(), nil, func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		runner, err := migrate.New(pool, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return postgres.New(pool), pool.Ping, pool.Close, nil
	default:
		return nil, nil, nil, errors.New("unknown store " + cfg.Store + " (want postgres or memory)")
	}
}
