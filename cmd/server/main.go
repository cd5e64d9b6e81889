package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/privacykit/shortlink/config"
	appmodel "github.com/privacykit/shortlink/internal/app/model"
	apprepository "github.com/privacykit/shortlink/internal/app/repository"
	appserver "github.com/privacykit/shortlink/internal/app/server"
	appservice "github.com/privacykit/shortlink/internal/app/service"
	"github.com/privacykit/shortlink/internal/infra/logger"
	infraNATS "github.com/privacykit/shortlink/internal/infra/nats"
	infraPostgres "github.com/privacykit/shortlink/internal/infra/postgres"
	infraPrometheus "github.com/privacykit/shortlink/internal/infra/prometheus"
	infraRedis "github.com/privacykit/shortlink/internal/infra/redis"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("code_length", cfg.Shortener.CodeLength),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Link{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	log.Info("Connected to NATS successfully")

	linkRepo := apprepository.NewLinkRepository(gormDB, pool)

	goneTTL := parseDuration(cfg.Shortener.GoneCacheTTL, 24*time.Hour)
	goneCache := appservice.NewGoneCache(redisClient, goneTTL)

	consumer := appservice.NewEventConsumer(js, log, goneCache)
	if err := consumer.Start(); err != nil {
		log.Fatal("Failed to start deactivation event consumer", zap.Error(err))
	}

	codeFilter := appservice.NewCodeFilter(cfg.Shortener.FilterCapacity, cfg.Shortener.FilterErrorRate)
	warmed, err := codeFilter.Warm(ctx, linkRepo)
	if err != nil {
		log.Fatal("Failed to warm code filter", zap.Error(err))
	}
	log.Info("Code filter warmed", zap.Int("codes", warmed))

	refresher := appservice.NewFilterRefresher(log, linkRepo, codeFilter,
		parseDuration(cfg.Shortener.FilterRefresh, 5*time.Minute))
	refresher.Start()
	defer refresher.Stop()

	linkService := appservice.NewLinkService(appservice.Deps{
		Repo:      linkRepo,
		Generator: appservice.NewCodeGenerator(linkRepo, codeFilter, cfg.Shortener),
		Filter:    codeFilter,
		Gone:      goneCache,
		Events:    appservice.NewEventPublisher(js),
		Logger:    log,
	})

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:  log,
		Links:   linkService,
		BaseURL: cfg.Server.BaseURL,
	})

	if err := server.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
