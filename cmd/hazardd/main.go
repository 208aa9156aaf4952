// Command hazardd runs the hazard alert service: the public API, the fire
// feed consumer, the crisis controller, and its periodic jobs.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/mapbox"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/openai"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/openmeteo"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/redis"
	"github.com/couchcryptid/hazard-alert-service/internal/alert"
	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/crisis"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/family"
	"github.com/couchcryptid/hazard-alert-service/internal/firefeed"
	"github.com/couchcryptid/hazard-alert-service/internal/fusion"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/pipeline"
	"github.com/couchcryptid/hazard-alert-service/internal/report"
	"github.com/couchcryptid/hazard-alert-service/internal/scheduler"
	"github.com/couchcryptid/hazard-alert-service/internal/weather"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready readiness

	// Fusion cache: Redis when configured, otherwise in process.
	var (
		kv       cache.KV
		memoryKV *cache.MemoryKV
	)
	if cfg.RedisAddr != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		rkv := redisadapter.NewKV(client, "hazard:")
		kv = rkv
		ready = append(ready, rkv)
		logger.Info("fusion cache on redis", "addr", cfg.RedisAddr)
	} else {
		memoryKV = cache.NewMemoryKV(clock)
		kv = memoryKV
		logger.Info("fusion cache in memory")
	}

	// Family groups: Postgres when configured, otherwise in process.
	var familyRepo family.Repository = family.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo := postgres.NewFamilyRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		familyRepo = repo
		ready = append(ready, pingCheck{db})
	}

	writer := kafkaadapter.NewWriter(cfg, logger, metrics)
	alerts := alert.NewStore(cfg.AlertTTL, cfg.AlertRadiusKm, writer, clock, logger, metrics)

	reportStore := report.NewStore()
	weatherCache := weather.NewCache(openmeteo.NewClient(cfg.WeatherBaseURL, cfg.WeatherTimeout, logger), cfg.WeatherTTL, clock, logger, metrics)

	var oracle fusion.Oracle
	if cfg.OpenAIAPIKey != "" {
		oracle = openai.NewOracle(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, logger)
		logger.Info("risk oracle enabled", "model", cfg.OpenAIModel, "timeout", cfg.OracleTimeout)
	} else {
		logger.Info("risk oracle disabled, using heuristic scores")
	}

	// The controller probes fusion during sweeps, and fire loads notify the
	// controller, so the fire store is bound to the controller after both exist.
	notifier := &lateNotifier{}
	fires := firefeed.NewStore(notifier, logger, metrics)
	engine := fusion.NewEngine(fusion.Config{
		RadiusKm:      cfg.FusionRadiusKm,
		OracleTimeout: cfg.OracleTimeout,
		InputTimeout:  cfg.FusionInputTimeout,
		Budget:        cfg.FusionBudget,
		CacheWindow:   cfg.FusionCacheWindow,
		ReportWindow:  cfg.SignalRetention,
	}, fires, reportStore, weatherCache, oracle, kv, clock, logger, metrics)
	controller := crisis.NewController(crisis.Config{
		ElevatedThreshold: cfg.CrisisElevatedThreshold,
		CrisisThreshold:   cfg.CrisisThreshold,
		HalfLife:          cfg.CrisisHalfLife,
		Cooldown:          cfg.CrisisCooldown,
		Retention:         cfg.SignalRetention,
		UrgentWindow:      cfg.CrisisUrgentWindow,
	}, alerts, engine, clock, logger, metrics)
	notifier.target = controller

	reports := report.NewService(reportStore, controller, clock, logger, metrics)

	var reader *kafkaadapter.Reader
	if cfg.FireFeedEnabled {
		var geocoder domain.RegionGeocoder
		if cfg.MapboxEnabled {
			cached, err := mapbox.NewCachedGeocoder(mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics), cfg.MapboxCacheSize, metrics)
			if err != nil {
				logger.Error("failed to create geocoder cache", "error", err)
				os.Exit(1)
			}
			geocoder = cached
			metrics.GeocodeEnabled.Set(1)
			logger.Info("mapbox region lookup enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
		} else {
			logger.Info("mapbox region lookup disabled")
		}

		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, pipeline.NewTransformer(geocoder, logger), fires, clock, logger, metrics, cfg.BatchSize)
		ready = append(ready, p)

		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("fire feed pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("fire feed disabled")
	}

	sched := scheduler.New(logger, metrics)
	maintenance := scheduler.Maintenance{
		Reports:   reportStore,
		Fires:     fires,
		Crisis:    controller,
		Alerts:    alerts,
		Retention: cfg.SignalRetention,
		Clock:     clock,
		Logger:    logger,
	}
	if memoryKV != nil {
		maintenance.Cache = memoryKV
	}
	for _, job := range []scheduler.Job{
		scheduler.CrisisSweep(cfg.CrisisSweepSchedule, controller, logger),
		scheduler.WeatherRefresh(cfg.WeatherRefreshSchedule, weatherCache, logger),
		maintenance.Job(cfg.MaintenanceSchedule),
	} {
		if err := sched.Add(job); err != nil {
			logger.Error("failed to schedule job", "error", err)
			os.Exit(1)
		}
	}
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Services{
		Reports: reports,
		Fires:   fires,
		Risk:    engine,
		Weather: weatherCache,
		Alerts:  alerts,
		Crisis:  controller,
		Family:  family.NewService(familyRepo, clock, logger),
	}, ready, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs still running at shutdown deadline")
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

type checker interface {
	CheckReadiness(ctx context.Context) error
}

// readiness is ready when every dependency is.
type readiness []checker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

type pingCheck struct{ db *sql.DB }

func (p pingCheck) CheckReadiness(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// lateNotifier forwards fire batches to a controller bound after construction.
type lateNotifier struct {
	target firefeed.BatchNotifier
}

func (n *lateNotifier) NotifyBatch(ctx context.Context, batch []domain.PartitionSignal) error {
	return n.target.NotifyBatch(ctx, batch)
}
