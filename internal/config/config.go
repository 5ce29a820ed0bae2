package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	LogLevel      string
	CORSOrigin    string
	AppBaseURL    string
	DatabaseURL   string
	MigrationsDir string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	// Redis backs the discount usage ledger and the kanban board cache.
	RedisURL string
	// Meilisearch is optional; search falls back to the in-memory engine.
	MeiliURL    string
	MeiliAPIKey string
	// MinIO stores chat attachments.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Vector storage
	VectorBackend    string
	VectorDimensions int
	WeaviateHost     string
	WeaviateScheme   string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	GHLWebhookSecret string
	DefaultCurrency  string
	// InternalAPIToken guards the tool, agent and audit routes; empty
	// disables them.
	InternalAPIToken string
}

func Load() Config {
	return Config{
		Addr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		CORSOrigin:    getenv("CORS_ORIGIN", "*"),
		AppBaseURL:    strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:3000"), "/"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./db/migrations"),
		ReadTimeout:   time.Duration(getenvInt("READ_TIMEOUT_SECONDS", 15)) * time.Second,
		WriteTimeout:  time.Duration(getenvInt("WRITE_TIMEOUT_SECONDS", 30)) * time.Second,
		RedisURL:      getenv("REDIS_URL", ""),
		MeiliURL:      getenv("MEILI_URL", ""),
		MeiliAPIKey:   getenv("MEILI_API_KEY", ""),
		// MinIO - attachments stay in memory when the endpoint is empty
		MinioEndpoint:    getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getenv("MINIO_BUCKET", "chat-attachments"),
		MinioUseSSL:      getenvBool("MINIO_USE_SSL", false),
		VectorBackend:    strings.ToLower(getenv("VECTOR_BACKEND", "memory")),
		VectorDimensions: getenvInt("VECTOR_DIMENSIONS", 1536),
		WeaviateHost:     getenv("WEAVIATE_HOST", "localhost:8081"),
		WeaviateScheme:   getenv("WEAVIATE_SCHEME", "http"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:         getenv("SMTP_HOST", ""),
		SMTPPort:         getenv("SMTP_PORT", "587"),
		SMTPUsername:     getenv("SMTP_USER", ""),
		SMTPPassword:     getenv("SMTP_PASS", ""),
		SMTPFrom:         getenv("SMTP_FROM", ""),
		SMTPFromName:     getenv("SMTP_FROM_NAME", "Lead Ignite"),
		GHLWebhookSecret: getenv("GHL_WEBHOOK_SECRET", ""),
		DefaultCurrency:  strings.ToUpper(getenv("DEFAULT_CURRENCY", "USD")),
		InternalAPIToken: getenv("INTERNAL_API_TOKEN", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
