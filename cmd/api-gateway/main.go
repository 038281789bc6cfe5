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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classroom-sync/api/swagger"
	"github.com/noah-isme/classroom-sync/internal/handler"
	internalmiddleware "github.com/noah-isme/classroom-sync/internal/middleware"
	"github.com/noah-isme/classroom-sync/internal/models"
	"github.com/noah-isme/classroom-sync/internal/repository"
	"github.com/noah-isme/classroom-sync/internal/service"
	"github.com/noah-isme/classroom-sync/pkg/cache"
	"github.com/noah-isme/classroom-sync/pkg/classroom"
	"github.com/noah-isme/classroom-sync/pkg/config"
	"github.com/noah-isme/classroom-sync/pkg/database"
	"github.com/noah-isme/classroom-sync/pkg/lock"
	"github.com/noah-isme/classroom-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-sync/pkg/middleware/requestid"
)

// @title Classroom Sync API
// @version 1.0.0
// @description Imports classroom courses, rosters and coursework into local course records.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Migrations.Enabled {
		if err := database.Migrate(db, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		if cfg.Sync.LockBackend == config.LockBackendRedis {
			logr.Fatal("redis lock backend requested but redis is unreachable", zap.Error(err))
		}
		logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
	} else {
		redisClient = client
		defer client.Close()
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.Sync.LockBackend == config.LockBackendRedis {
		locker = lock.NewRedis(redisClient, "", logr)
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Sync.ReportTTL, logr, redisClient != nil)
	store := repository.NewStore(db)

	httpClient := &http.Client{Transport: http.DefaultTransport}
	classroomClient := classroom.NewClient(classroom.Config{
		BaseURL:        cfg.Classroom.BaseURL,
		RequestTimeout: cfg.Classroom.RequestTimeout,
		MaxRetries:     cfg.Classroom.MaxRetries,
		PageSize:       cfg.Classroom.PageSize,
		Observe:        metricsSvc.ObserveProviderRequest,
	}, httpClient, logr)
	refresher := service.NewTokenRefresher(service.TokenRefresherConfig{
		ClientID:     cfg.Classroom.ClientID,
		ClientSecret: cfg.Classroom.ClientSecret,
		TokenURL:     cfg.Classroom.TokenURL,
		Timeout:      cfg.Classroom.RequestTimeout,
	}, store.Integrations(), httpClient, metricsSvc, logr)
	syncSvc := service.NewSyncService(store, classroomClient, refresher, locker, cacheSvc, metricsSvc, service.SyncConfig{
		Workers:      cfg.Sync.Workers,
		LockTTL:      cfg.Sync.LockTTL,
		ReportTTL:    cfg.Sync.ReportTTL,
		QueueWorkers: cfg.Sync.QueueWorkers,
		QueueRetries: cfg.Sync.QueueRetries,
	}, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sync.Enabled {
		syncSvc.StartWorkers(ctx)
		defer syncSvc.StopWorkers()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	secured.GET("/metrics/sync", internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), metricsHandler.Snapshot)

	if cfg.Sync.Enabled {
		syncHandler := handler.NewSyncHandler(syncSvc)
		classroomRoutes := secured.Group("/integrations/classroom")
		classroomRoutes.POST("/sync", syncHandler.Sync)
		classroomRoutes.POST("/sync/async", syncHandler.SyncAsync)
		classroomRoutes.GET("/sync/last", syncHandler.LastReport)
		classroomRoutes.GET("/status", syncHandler.Status)
		classroomRoutes.DELETE("", syncHandler.Disconnect)

		admin := secured.Group("/admin")
		admin.Use(internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
		admin.POST("/accounts/:id/classroom/sync", syncHandler.AdminSync)
	} else {
		logr.Info("classroom sync disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "lock_backend", cfg.Sync.LockBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
