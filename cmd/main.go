package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dining-service/internal/clients"
	"dining-service/internal/config"
	"dining-service/internal/events"
	"dining-service/internal/handlers"
	"dining-service/internal/importer"
	"dining-service/internal/jobs"
	"dining-service/internal/middleware"
	"dining-service/internal/repository"
	"dining-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/tracing"
)

// @title Dining Menu API
// @version 1.0.0
// @description Campus dining menu catalog and spreadsheet import pipeline

// @host localhost:8095
// @BasePath /api/v1

// @securityDefinitions.apikey AdminSecret
// @in header
// @name X-Admin-Secret

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	redisClient := connectRedis(cfg)

	// Repositories
	menuRepo := repository.NewMenuRepository(db, redisClient)
	runRepo := repository.NewImportRunRepository(db)
	runLock := repository.NewRunLock(redisClient, config.ImportLockKey, cfg.ImportLockTTL, logger)

	// Embedding client is optional; without it new items wait for a backfill
	var embedder importer.EmbeddingService
	var backfiller services.Backfiller
	if cfg.EmbeddingServiceURL != "" {
		embeddingClient := clients.NewEmbeddingClient(clients.EmbeddingConfig{
			BaseURL:     cfg.EmbeddingServiceURL,
			APIKey:      cfg.EmbeddingAPIKey,
			Model:       cfg.EmbeddingModel,
			BatchSize:   cfg.EmbeddingBatchSize,
			Concurrency: cfg.EmbeddingConcurrency,
			RatePerSec:  cfg.EmbeddingRatePerSec,
		}, menuRepo, logger)
		embedder = embeddingClient
		backfiller = embeddingClient
		log.Println("✓ Embedding client initialized")
	} else {
		log.Println("EMBEDDING_SERVICE_URL not set, embeddings will not be generated")
	}

	// Event publisher only if NATS_URL is set
	var publisher services.EventPublisher
	if cfg.NatsURL != "" {
		eventsPublisher, err := events.NewPublisher(cfg.NatsURL, logger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize events publisher: %v (continuing without event publishing)", err)
		} else {
			publisher = eventsPublisher
			defer eventsPublisher.Close()
			log.Println("✓ Events publisher initialized (NATS connected)")
		}
	} else {
		log.Println("NATS_URL not set, skipping event publishing initialization")
	}

	pipeline := importer.NewPipeline(importer.NewFileSource(), menuRepo, embedder, logger)
	importService := services.NewImportService(services.ImportDeps{
		Pipeline:    pipeline,
		Runs:        runRepo,
		Lock:        runLock,
		Catalog:     menuRepo,
		Publisher:   publisher,
		Backfiller:  backfiller,
		DefaultPath: cfg.ImportSourcePath,
	}, logger)

	importHandler := handlers.NewImportHandler(importService, cfg.ImportDir)
	menuHandler := handlers.NewMenuHandler(menuRepo)

	// Scheduler
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	var importJob *jobs.ImportJob
	if cfg.ImportScheduleEnabled {
		importJob = jobs.NewImportJob(importService, cfg.ImportSourcePath, cfg.ImportInterval, logger)
		go importJob.Start(jobCtx)
		log.Printf("✓ Scheduled import enabled (every %s)", cfg.ImportInterval)
	}

	// Initialize OpenTelemetry tracing
	var tracerProvider *tracing.TracerProvider
	if cfg.Environment == "production" {
		tracerProvider, err = tracing.InitTracer(tracing.ProductionConfig("dining-service"))
	} else {
		tracerProvider, err = tracing.InitTracer(tracing.DefaultConfig("dining-service"))
	}
	if err != nil {
		log.Printf("WARNING: Failed to initialize tracing: %v (continuing without tracing)", err)
	} else {
		log.Println("✓ OpenTelemetry tracing initialized")
	}

	metrics := gosharedmw.InitGlobalMetrics("tesseract", "dining_service")
	log.Println("✓ Prometheus metrics initialized")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(tracing.GinMiddleware("dining-service"))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(db))
	router.GET("/metrics", gosharedmw.Handler())

	// Public catalog reads
	dining := router.Group("/api/v1/dining")
	{
		dining.GET("/vendors", menuHandler.ListVendors)
		dining.GET("/vendors/:id/items", menuHandler.ListVendorItems)
		dining.GET("/items/search", menuHandler.SearchItems)
	}

	// Admin import surface, shared-secret guarded
	admin := router.Group("/api/v1/admin/dining")
	admin.Use(middleware.AdminSecret(cfg.AdminSecret), middleware.Identity())
	{
		admin.POST("/import", importHandler.TriggerImport)
		admin.POST("/import/upload", importHandler.UploadImport)
		admin.GET("/import/template", importHandler.GetImportTemplate)
		admin.GET("/imports", importHandler.ListImportRuns)
		admin.POST("/embeddings/backfill", importHandler.BackfillEmbeddings)
	}
	if cfg.AdminSecret == "" {
		log.Println("WARNING: ADMIN_SECRET not set, admin routes will reject every request")
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Dining service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-quit
	log.Println("Shutting down dining-service...")

	if importJob != nil {
		importJob.Stop()
	}
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		} else {
			log.Println("✓ Tracer provider shut down")
		}
	}

	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Dining service stopped")
}

// connectRedis returns nil when Redis is unreachable, which disables the
// catalog cache and leaves the run lock in-process only
func connectRedis(cfg *config.Config) *redis.Client {
	redisClient, err := config.ConnectRedis(context.Background(), cfg)
	if err != nil {
		log.Printf("WARNING: %v (caching disabled, import lock is in-process only)", err)
		return nil
	}
	log.Println("✓ Redis connected successfully")
	return redisClient
}
