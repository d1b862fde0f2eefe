package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mossy-p/tutor-call/config"
	"github.com/mossy-p/tutor-call/internal/handlers"
	"github.com/mossy-p/tutor-call/internal/middleware"
	"github.com/mossy-p/tutor-call/internal/redis"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/mossy-p/tutor-call/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	defer db.Close()

	// Connect to Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rdb, err := redis.Connect(ctx, cfg.Redis)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("redis connection established", zap.String("host", cfg.Redis.Host))

	h := handlers.New(db,
		redis.NewRoomStore(rdb, cfg.RoomTTL),
		signaling.NewRedisTransport(rdb, logger.Named("relay")),
		handlers.Options{JWTSecret: cfg.JWTSecret, AdminEmail: cfg.AdminEmail},
		logger.Named("api"))

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger.Named("http")))

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins, logger))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.Routes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting tutor call server", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	// Hijacked websockets are not covered by Shutdown.
	logger.Info("relays closed", zap.Int("count", h.CloseRelays()))
}

func newLogger(environment string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
