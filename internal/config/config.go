package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dining-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/secrets"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ImportLockKey is the Redis key shared by every process that runs imports or backfills
const ImportLockKey = "dining:import:lock"

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// NATS
	NatsURL string

	// Server
	Port        string
	Environment string

	// Admin trigger
	AdminSecret string

	// CORS
	CORSAllowedOrigins []string

	// Import
	ImportSourcePath      string
	ImportDir             string
	ImportInterval        time.Duration
	ImportScheduleEnabled bool
	ImportLockTTL         time.Duration

	// Embedding service
	EmbeddingServiceURL  string
	EmbeddingAPIKey      string
	EmbeddingModel       string
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
	EmbeddingRatePerSec  float64

	// Pagination
	DefaultPageSize int
	MaxPageSize     int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	defaultPageSize, _ := strconv.Atoi(getEnv("DEFAULT_PAGE_SIZE", "20"))
	maxPageSize, _ := strconv.Atoi(getEnv("MAX_PAGE_SIZE", "100"))
	scheduleEnabled, _ := strconv.ParseBool(getEnv("IMPORT_SCHEDULE_ENABLED", "false"))
	batchSize, _ := strconv.Atoi(getEnv("EMBEDDING_BATCH_SIZE", "32"))
	concurrency, _ := strconv.Atoi(getEnv("EMBEDDING_CONCURRENCY", "4"))
	ratePerSec, _ := strconv.ParseFloat(getEnv("EMBEDDING_RATE_PER_SEC", "5"), 64)
	importSourcePath := getEnv("IMPORT_SOURCE_PATH", "data/campus_dining.xlsx")

	return &Config{
		// Database - fetch password from GCP Secret Manager if enabled
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: secrets.GetDBPassword(),
		DBName:     getEnv("DB_NAME", "dining_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NatsURL:  os.Getenv("NATS_URL"),

		Port:        getEnv("PORT", "8095"),
		Environment: getEnv("ENVIRONMENT", "development"),

		AdminSecret: os.Getenv("ADMIN_SECRET"),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		ImportSourcePath:      importSourcePath,
		ImportDir:             getEnv("IMPORT_DIR", defaultImportDir(importSourcePath)),
		ImportInterval:        getDuration("IMPORT_INTERVAL", 24*time.Hour),
		ImportScheduleEnabled: scheduleEnabled,
		ImportLockTTL:         getDuration("IMPORT_LOCK_TTL", 30*time.Minute),

		EmbeddingServiceURL:  os.Getenv("EMBEDDING_SERVICE_URL"),
		EmbeddingAPIKey:      os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingBatchSize:   batchSize,
		EmbeddingConcurrency: concurrency,
		EmbeddingRatePerSec:  ratePerSec,

		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.Vendor{},
		&models.MenuItem{},
		&models.ImportRun{},
	); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "does not exist") && strings.Contains(errStr, "constraint") {
			log.Printf("Note: Migration constraint warning (safe to ignore): %v", err)
		} else {
			return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
		}
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

// defaultImportDir is the directory holding the default workbook, or empty
// when no default is configured.
func defaultImportDir(sourcePath string) string {
	if sourcePath == "" {
		return ""
	}
	return filepath.Dir(sourcePath)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("6h", "90m")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("WARNING: invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
