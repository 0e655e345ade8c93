package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-progress-api/api/swagger"
	"github.com/noah-isme/sma-progress-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-progress-api/internal/middleware"
	"github.com/noah-isme/sma-progress-api/internal/realtime"
	"github.com/noah-isme/sma-progress-api/internal/repository"
	"github.com/noah-isme/sma-progress-api/internal/router"
	"github.com/noah-isme/sma-progress-api/internal/service"
	"github.com/noah-isme/sma-progress-api/pkg/cache"
	"github.com/noah-isme/sma-progress-api/pkg/config"
	"github.com/noah-isme/sma-progress-api/pkg/database"
	"github.com/noah-isme/sma-progress-api/pkg/jobs"
	"github.com/noah-isme/sma-progress-api/pkg/logger"
)

// @title SMA Progress API
// @version 1.0.0
// @description Student progress records, statistics and live dashboards
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, running without cache and change feed", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := service.NewValidator()
	metrics := service.NewMetricsService()

	recordRepo := repository.NewRecordRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)

	var cacheRepo service.CacheRepository
	if rdb != nil {
		cacheRepo = repository.NewCacheRepository(rdb, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Stats.CacheTTL, logr, cfg.Stats.CacheEnabled && rdb != nil)

	statsSvc := service.NewStatsService(recordRepo, cacheSvc, nil, metrics, logr, service.StatsServiceConfig{
		CacheTTL:         cfg.Stats.CacheTTL,
		DefaultTrendDays: cfg.Stats.DefaultTrendDays,
		MaxTrendDays:     cfg.Stats.MaxTrendDays,
	})
	invalidations := jobs.NewQueue("stats-invalidation", statsSvc.HandleInvalidation, jobs.QueueConfig{
		Workers:    2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logr,
	})
	invalidations.Start(ctx)
	defer invalidations.Stop()
	statsSvc.SetQueue(invalidations)

	hub := realtime.NewHub(recordRepo,
		realtime.WithLogger(logr),
		realtime.WithQueryTimeout(cfg.Database.QueryTimeout),
		realtime.WithObserver(metrics),
	)
	defer hub.Close()

	var publisher realtime.Publisher = hub
	if cfg.Realtime.Enabled && rdb != nil {
		broker := realtime.NewRedisBroker(rdb, cfg.Realtime.Channel, hub.Notify, logr)
		subCtx, cancelSub := context.WithTimeout(ctx, 10*time.Second)
		feed, err := broker.Subscribe(subCtx)
		cancelSub()
		if err != nil {
			logr.Warn("redis change feed unavailable, live updates stay on this instance", zap.Error(err))
		} else {
			publisher = broker
			go feed.Forward(ctx, hub.Notify)
		}
	}

	recordSvc := service.NewRecordService(recordRepo, publisher, statsSvc, metrics, validate, logr, service.RecordServiceConfig{
		BulkMaxStudents: cfg.Bulk.MaxStudents,
		BulkConcurrency: cfg.Bulk.Concurrency,
	})
	studentSvc := service.NewStudentService(studentRepo, courseRepo, recordRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, statsSvc, validate, logr)
	changes := service.NewChangeNotifier(recordRepo, publisher, statsSvc, logr)
	studentSvc.SetChangeNotifier(changes)
	courseSvc.SetChangeNotifier(changes)
	userSvc := service.NewUserService(userRepo, validate, logr)
	authSvc := service.NewAuthService(userRepo, logr, service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   cfg.JWT.Leeway,
	})
	exportSvc := service.NewExportService(studentSvc, recordRepo, logr, nil)

	access := handler.NewAccess(studentSvc, courseSvc)
	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	liveHandler := handler.NewLiveHandler(hub, access, logr, handler.LiveConfig{Heartbeat: cfg.Realtime.Heartbeat})
	handlers := router.Handlers{
		Records:  handler.NewRecordHandler(recordSvc, access),
		Stats:    handler.NewStatsHandler(statsSvc, access),
		Live:     liveHandler,
		Students: handler.NewStudentHandler(studentSvc, access),
		Courses:  handler.NewCourseHandler(courseSvc, access),
		Users:    handler.NewUserHandler(userSvc, authSvc),
		Exports:  handler.NewExportHandler(exportSvc, access),
		Metrics:  handler.NewMetricsHandler(metrics, checks),
	}

	var limiter *internalmiddleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = internalmiddleware.NewRateLimiter(internalmiddleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
		go sweepLimiter(ctx, limiter, logr)
	}

	engine := router.Setup(cfg, handlers, router.Deps{
		Auth:        authSvc,
		Metrics:     metrics,
		RateLimiter: limiter,
		Logger:      logr,
	})

	// No write timeout: live statistics are long-lived event streams.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(liveHandler.Shutdown)

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func sweepLimiter(ctx context.Context, limiter *internalmiddleware.RateLimiter, logr *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				logr.Debug("rate limiter swept idle clients", zap.Int("removed", n))
			}
		}
	}
}
