package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	VisionModel  string
	JWTSecret    string
	Port         string

	// Pipeline knobs.
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	PerformOCR       bool
	NumWorkers       int
	RetryMaxAttempts int
	RetryBaseBackoff time.Duration

	// Chat / retrieval knobs.
	MaxContextChunks int
	SimilarityFloor  float64
	HistoryWindow    int

	// Per-call timeouts for external collaborators.
	DownloadTimeout   time.Duration
	ExtractTimeout    time.Duration
	EmbedTimeout      time.Duration
	CompletionTimeout time.Duration

	// Diagnostics.
	LogRingSize int
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docuflow-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		VisionModel:  getEnv("VISION_MODEL", "gemini-1.5-flash"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		ChunkSize:        getEnvInt("CHUNK_SIZE", 500),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 50),
		EmbedBatchSize:   getEnvInt("EMBED_BATCH_SIZE", 16),
		PerformOCR:       getEnvBool("PERFORM_OCR", true),
		NumWorkers:       getEnvInt("PIPELINE_WORKERS", 4),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseBackoff: getEnvDuration("RETRY_BASE_BACKOFF", 2*time.Second),

		MaxContextChunks: getEnvInt("MAX_CONTEXT_CHUNKS", 5),
		SimilarityFloor:  getEnvFloat("SIMILARITY_FLOOR", 0.25),
		HistoryWindow:    getEnvInt("CHAT_HISTORY_WINDOW", 6),

		DownloadTimeout:   getEnvDuration("DOWNLOAD_TIMEOUT", 2*time.Minute),
		ExtractTimeout:    getEnvDuration("EXTRACT_TIMEOUT", 2*time.Minute),
		EmbedTimeout:      getEnvDuration("EMBED_TIMEOUT", time.Minute),
		CompletionTimeout: getEnvDuration("COMPLETION_TIMEOUT", time.Minute),

		LogRingSize: getEnvInt("LOG_RING_SIZE", 512),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
