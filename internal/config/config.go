package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	DatabasePath string

	// LLM providers
	LLMProvider   string // "ollama" or "groq"
	OllamaBaseURL string
	GroqAPIKey    string
	GroqBaseURL   string

	// Model routing
	CreativeModel   string
	StructuredModel string
	BiographyModel  string

	// HTTP client
	HTTPTimeout time.Duration

	// Generation
	GenerationTimeout        time.Duration
	MaxConcurrentGenerations int

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	FrontendURL         string

	// JWT / Auth
	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabasePath: getEnv("DATABASE_PATH", "ghostwriter.db"),

		LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:   getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),

		CreativeModel:   getEnv("CREATIVE_MODEL", "llama3.1:8b"),
		StructuredModel: getEnv("STRUCTURED_MODEL", "llama3.1:8b"),
		BiographyModel:  getEnv("BIOGRAPHY_MODEL", "llama3.1:8b"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 120*time.Second),

		GenerationTimeout:        getEnvDuration("GENERATION_TIMEOUT", 10*time.Minute),
		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 4),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),

		JWTSecret:     getEnv("JWT_SECRET", "ghostwriter-default-dev-secret-change-me"),
		JWTAccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
