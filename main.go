package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/EduMatch-2025/contract-service/internal/config"
	"github.com/EduMatch-2025/contract-service/internal/events"
	"github.com/EduMatch-2025/contract-service/internal/handlers"
	"github.com/EduMatch-2025/contract-service/internal/jobs"
	"github.com/EduMatch-2025/contract-service/internal/repositories/casdoor"
	"github.com/EduMatch-2025/contract-service/internal/repositories/postgres"
	"github.com/EduMatch-2025/contract-service/internal/services"
	"github.com/EduMatch-2025/contract-service/internal/utils"
	"github.com/EduMatch-2025/contract-service/internal/validator"
	"github.com/EduMatch-2025/contract-service/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}

	// Initialize repositories
	repoConfig := postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	}
	repoManager := postgres.NewRepositoryManager(repoConfig)
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}

	// Initialize validator
	validator := validator.New()

	// Initialize event publisher. Falls back to an in-memory publisher when
	// no brokers are configured so local development works without Kafka.
	var eventPublisher events.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		topics := map[string]string{
			events.TopicOTPIssued:     cfg.Kafka.OTPIssuedTopic,
			events.TopicFullySigned:   cfg.Kafka.FullySignedTopic,
			events.TopicStatusChanged: cfg.Kafka.StatusChangedTopic,
		}
		eventPublisher, err = events.NewKafkaEventPublisher(cfg.Kafka.Brokers, topics, slogLogger)
		if err != nil {
			log.Fatalf("Failed to initialize event publisher: %v", err)
		}
	} else {
		log.Printf("Warning: KAFKA_BROKERS not set, events will not leave this process")
		eventPublisher = events.NewMockEventPublisher(slogLogger)
	}

	// Initialize services
	serviceConfig := services.ServiceManagerConfig{
		EnableDebugLogging: cfg.Environment == "development",
		LogLevel:           cfg.LogLevel,
		OTPTTL:             cfg.OTPTTL,
		ApprovalTTL:        cfg.ApprovalTTL,
		DefaultTimeout:     30 * time.Second,
	}
	serviceManager := services.NewServiceManager(db, repoManager.GetRepository(), slogLogger, validator, eventPublisher, serviceConfig)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, validator, logger, cfg.Casdoor, repoManager.GetRepository().User())

	// Start the contract expiry scheduler
	scheduler := jobs.NewScheduler(serviceManager.Contract(), slogLogger)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Setup middleware
	handlers.SetupMiddleware(router, logger)

	// Setup routes
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the scheduler before taking down services
	stopCancel := scheduler.Stop()
	defer stopCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Shutdown services
	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	// Close database connection
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}
