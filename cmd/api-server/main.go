package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/chunkd/cmd/api-server/middleware"
	"github.com/lgulliver/chunkd/internal/common"
	"github.com/lgulliver/chunkd/internal/storage"
	"github.com/lgulliver/chunkd/internal/upload"
	"github.com/lgulliver/chunkd/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting chunkd API server")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Redis is optional; without it uploads are still serialized per
	// instance, just not across instances
	var cache *common.Cache
	if cfg.Redis.Enabled() {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	blobStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Initialize services
	uploadService := upload.NewService(db, blobStorage, cache, &cfg.Upload)

	// Setup HTTP server
	router := setupRouter(uploadService, &cfg.Auth)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Reap expired sessions in the background
	reapCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go runReaper(reapCtx, uploadService, cfg.Upload.ReapInterval)

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stopReaper()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

// runReaper periodically removes expired incomplete sessions and their blobs
func runReaper(ctx context.Context, uploadService *upload.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uploadService.DeleteExpired(ctx); err != nil {
				log.Error().Err(err).Msg("expired session reap failed")
			}
		}
	}
}

func setupRouter(uploadService *upload.Service, authCfg *config.AuthConfig) *gin.Engine {
	// Set Gin mode based on environment
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "chunkd",
			"time":    time.Now().UTC(),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		uploads := api.Group("/uploads", middleware.OptionalAuthMiddleware(authCfg))
		{
			uploads.PUT("", handlePutChunk(uploadService))
			uploads.PUT("/:id", handlePutChunk(uploadService))
			uploads.POST("", handleComplete(uploadService))
			uploads.POST("/:id", handleComplete(uploadService))
			uploads.GET("", handleGet(uploadService))
			uploads.GET("/:id", handleGet(uploadService))
			uploads.DELETE("/:id", handleDelete(uploadService))
		}
	}

	return router
}
