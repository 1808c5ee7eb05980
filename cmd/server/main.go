// Package main runs the live-class backend: REST control surface, WebSocket
// signaling gateway and the recording upload worker, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gradus-edu/live-backend/config"
	"github.com/gradus-edu/live-backend/internal/auth"
	"github.com/gradus-edu/live-backend/internal/live"
	"github.com/gradus-edu/live-backend/internal/middleware"
	"github.com/gradus-edu/live-backend/internal/signaling"
	"github.com/gradus-edu/live-backend/internal/worker"
	"github.com/gradus-edu/live-backend/pkg/database"
	"github.com/gradus-edu/live-backend/pkg/queue"
	"github.com/gradus-edu/live-backend/pkg/redis"
	"github.com/gradus-edu/live-backend/pkg/response"
	"github.com/gradus-edu/live-backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	store := live.NewRepository(pool)
	service := live.NewService(store, logger)
	service.SetSessionListLimit(cfg.Live.SessionListLimit)

	bus := signaling.NewRedisBus(rdb.Client, logger)
	registry := signaling.NewRegistry()
	gateway := signaling.NewGateway(store, registry, bus, bus, logger,
		time.Duration(cfg.Live.PongWaitSec)*time.Second,
		time.Duration(cfg.Live.PingIntervalSec)*time.Second)
	service.SetNotifier(gateway)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	var recordingProcessor *worker.RecordingProcessor
	if s3Client != nil {
		service.SetRecordingPipeline(jobQueue, s3Client, cfg.Recording.SpoolDir)
		recordingProcessor = worker.NewRecordingProcessor(jobQueue, store, s3Client, logger)
	}

	liveHandler := live.NewHandler(service, logger, cfg.Live.SignalingPath, iceServers)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	liveHandler.RegisterRoutes(router, jwtService)

	// WebSocket (signaling key in query; no Authorization header required)
	router.GET(cfg.Live.SignalingPath, gateway.ServeWS)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if recordingProcessor != nil {
		go recordingProcessor.Run(workerCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
