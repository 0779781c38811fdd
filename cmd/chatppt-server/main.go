package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chatppt/chatppt/internal/api"
	"github.com/chatppt/chatppt/internal/app"
	"github.com/chatppt/chatppt/internal/config"
)

func main() {
	// Load configuration
	config.Load()

	// Initialize logger with config
	logger := initLogger()
	logger.Info("Configuration loaded", zap.String("source", "config.Load()"))

	ctx := context.Background()

	// Initialize application state
	as, err := app.New(ctx, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application state", zap.Error(err))
	}

	if err := as.Health.StartupHealthCheck(ctx); err != nil {
		logger.Fatal("Startup health check failed", zap.Error(err))
	}

	// Pick up where the last run left off
	if err := as.Machine.ResumeLatest(ctx); err != nil {
		logger.Warn("Failed to resume latest session", zap.Error(err))
	}

	router := setupRouter(as)

	addr := fmt.Sprintf("%s:%d", config.Http().Host, config.Http().Port)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Setup graceful shutdown
	done := setupSignalHandler(as, server, logger)

	logger.Info("Starting ChatPPT server", zap.String("address", addr))

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	<-done
	logger.Info("Server shutdown complete")
}

func initLogger() *zap.Logger {
	logConfig := config.Logger()

	var config zap.Config
	if logConfig.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch logConfig.Level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}

func setupRouter(as *app.AppState) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(cors.Default())
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(limitRequestBody(config.Http().MaxRequestSize))

	handlers := api.NewHandlers(as.Machine, as.Health, as.Logger)

	// Health check at the root for load balancers
	router.GET("/health", handlers.HealthCheck)

	handlers.RegisterRoutes(router.Group("/api/v1"))

	return router
}

// limitRequestBody caps request bodies, attachment uploads included
func limitRequestBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func setupSignalHandler(as *app.AppState, server *http.Server, logger *zap.Logger) chan struct{} {
	done := make(chan struct{}, 1)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalCh

		logger.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}

		if err := as.Close(ctx); err != nil {
			logger.Error("Error closing application state", zap.Error(err))
		}

		_ = logger.Sync()
		done <- struct{}{}
	}()

	return done
}
