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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wheeltrack/wheeltrack-api/internal/account"
	"github.com/wheeltrack/wheeltrack-api/internal/analytics"
	"github.com/wheeltrack/wheeltrack-api/internal/auth"
	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/internal/config"
	"github.com/wheeltrack/wheeltrack-api/internal/database"
	"github.com/wheeltrack/wheeltrack-api/internal/pnl"
	"github.com/wheeltrack/wheeltrack-api/internal/syncer"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
	"github.com/wheeltrack/wheeltrack-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the wheel tracking API server with graceful
// shutdown support
func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpireHours)*time.Hour)
	authHandlers := auth.NewGinHandlers(authService)
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		authService.RegisterAPICredentials(apiKey, os.Getenv("API_SECRET"))
	}

	flexClient := broker.NewClient(cfg.Broker.FlexBaseURL, cfg.Sync.MaxRetries, cfg.Sync.InitialBackoff)

	accountDB := account.NewDatabase(db)
	accountHandlers := account.NewGinHandlers(accountDB)

	syncService := syncer.NewService(db, flexClient, cfg.Broker.ExcludeSymbols, cfg.Sync.SymbolWorkers)
	syncHandlers := syncer.NewGinHandlers(syncService, accountDB)

	wheelDB := wheel.NewDatabase(db)
	wheelHandlers := wheel.NewGinHandlers(wheelDB, pnl.NewSnapshotSource(db))

	analyticsHandlers := analytics.NewGinHandlers(wheelDB)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWT.Secret, authHandlers, syncHandlers, wheelHandlers, analyticsHandlers, accountHandlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding syncs 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - All other routes: Protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	syncHandlers *syncer.GinHandlers,
	wheelHandlers *wheel.GinHandlers,
	analyticsHandlers *analytics.GinHandlers,
	accountHandlers *account.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Authenticated routes
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.POST("/sync", syncHandlers.SyncHandler())
			protected.GET("/wheels", wheelHandlers.WheelSummaryHandler())
			protected.GET("/history", wheelHandlers.HistoryHandler())
			protected.GET("/analytics", analyticsHandlers.ReportHandler())
			protected.GET("/account/settings", accountHandlers.GetSettingsHandler())
			protected.POST("/account/settings", accountHandlers.UpdateSettingsHandler())
		}
	}
}
