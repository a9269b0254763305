package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/config"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/handlers"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/middleware"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/migrations"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/presence"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/routes"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/services"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()
	cfg := config.AppConfig

	env := cfg.Environment
	if env == "" {
		env = "development"
	}
	logger.Init(env)
	logger.Info().Str("environment", env).Msg("Starting consultation chat service...")

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is required")
	}

	// 1. Storage
	database.Connect()
	database.InitRedis()

	if err := database.Migrate(database.DB); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate chat tables")
	}
	if err := migrations.NewMigrator(database.DB).Run(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Msg("Database migrations complete")

	blobs := newBlobStore(cfg)
	tracker := newPresenceTracker(cfg)

	// 2. Chat services
	directory := services.NewGormDirectory(database.DB)
	rooms := services.NewRoomService(database.DB, directory)
	store := services.NewChatStore(database.DB)

	gateway := handlers.NewGateway(handlers.GatewayDeps{
		Rooms:       rooms,
		Store:       store,
		Users:       directory,
		Presence:    tracker,
		SendAllowed: middleware.UserSendAllowed,
	})
	coord := services.NewCoordinator(database.DB, rooms, store, services.CoordinatorConfig{
		Blobs:          blobs,
		Broadcaster:    gateway,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	gateway.Coordinator = coord
	rooms.OnCreated(gateway.SubscribeRoom)

	socketServer, err := handlers.NewSocketServer(gateway, cfg.FrontendURL, socketAdapterOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize socket server")
	}
	go func() {
		if err := socketServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("Socket server stopped")
		}
	}()
	defer socketServer.Close()

	// 3. Router
	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.SecurityHeaders())

	// Exempt /socket.io from rate limiting
	generalLimit := middleware.GeneralRateLimit()
	r.Use(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/socket.io/") {
			c.Next()
			return
		}
		generalLimit(c)
	})

	api := r.Group("/api")
	routes.RegisterChatRoutes(api, handlers.NewChatHandler(rooms, store, coord))
	routes.RegisterSystemRoutes(r, tracker)

	r.GET("/socket.io/*any", handlers.SocketHandler(socketServer))
	r.POST("/socket.io/*any", handlers.SocketHandler(socketServer))

	// 4. Start Server with graceful shutdown
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", port).Str("env", env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

func newBlobStore(cfg *config.Config) services.BlobStore {
	if cfg.StorageBackend == "s3" {
		store, err := services.NewS3BlobStore(context.Background(), services.S3Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize S3 attachment store")
		}
		logger.Info().Str("bucket", cfg.R2BucketName).Msg("Attachments stored in S3/R2")
		return store
	}

	store, err := services.NewLocalBlobStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize local attachment store")
	}
	logger.Info().Str("dir", cfg.UploadDir).Msg("Attachments stored on local disk")
	return store
}

func newPresenceTracker(cfg *config.Config) presence.Tracker {
	if cfg.PresenceBackend == "redis" {
		if database.Redis == nil {
			logger.Fatal().Msg("PRESENCE_BACKEND=redis requires REDIS_ADDR")
		}
		return presence.NewRedisTracker(database.Redis, "")
	}
	return presence.NewMemoryTracker()
}

func socketAdapterOptions(cfg *config.Config) *socketio.RedisAdapterOptions {
	if !cfg.SocketRedisAdapter || cfg.RedisAddr == "" {
		return nil
	}
	return &socketio.RedisAdapterOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Prefix:   "chat-socket",
	}
}
