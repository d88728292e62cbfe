package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	JobStoreSQL       = "postgres"
	JobStorePostgREST = "postgrest"
	JobStoreMemory    = "memory"

	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
	StorageSupabase   = "supabase"

	DispatchLocal  = "local"
	DispatchRemote = "remote"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	LogLevel     string
	Port         string
	PublicAppURL string
	DatabaseURL  string
	DBMaxConns   int
	JWTSecret    string
	JobStore     string

	SupabaseURL        string
	SupabaseServiceKey string

	StorageBackend  string
	StoragePath     string
	StorageBaseURL  string
	StorageBucket   string
	S3Bucket        string
	S3PublicBaseURL string

	StripeSecretKey      string
	StripeWebhookSecret  string
	StripeRegularPriceID string
	StripePremiumPriceID string
	StripeCurrency       string

	GeminiAPIKey          string
	GeminiModel           string
	GeminiBaseURL         string
	GeminiTimeout         time.Duration
	GenerationMaxAttempts int
	GenerationBaseDelay   time.Duration
	SourceMaxDimension    int

	DispatchInterval time.Duration
	DispatchMode     string
	ProcessEndpoint  string
	ProcessToken     string
	ProcessTimeout   time.Duration
	StaleProcessing  time.Duration

	AMQPURL      string
	AMQPExchange string

	GeoIPDBPath         string
	RateLimitPerMin     int
	CheckoutLocales     []string
	EnforceJobOwnership bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Payment and generation credentials are optional at boot; the handlers that
// need them report a missing configuration per request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Port:         getEnv("PORT", "8080"),
		PublicAppURL: strings.TrimRight(getEnv("PUBLIC_APP_URL", "http://localhost:5173"), "/"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:    os.Getenv("SUPABASE_JWT_SECRET"),
		JobStore:     strings.ToLower(getEnv("JOB_STORE", JobStoreSQL)),

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageFilesystem)),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  strings.TrimRight(os.Getenv("STORAGE_BASE_URL"), "/"),
		StorageBucket:   getEnv("STORAGE_BUCKET", "images"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),

		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeRegularPriceID: os.Getenv("STRIPE_REGULAR_PRICE_ID"),
		StripePremiumPriceID: os.Getenv("STRIPE_PREMIUM_PRICE_ID"),
		StripeCurrency:       strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),

		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp-image-generation"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiTimeout:         time.Second * time.Duration(getEnvInt("GEMINI_TIMEOUT_SECONDS", 90)),
		GenerationMaxAttempts: getEnvInt("GENERATION_MAX_ATTEMPTS", 3),
		GenerationBaseDelay:   time.Millisecond * time.Duration(getEnvInt("GENERATION_BASE_DELAY_MS", 1000)),
		SourceMaxDimension:    getEnvInt("SOURCE_MAX_DIMENSION", 2048),

		DispatchInterval: time.Second * time.Duration(getEnvInt("DISPATCH_INTERVAL_SECONDS", 5)),
		DispatchMode:     strings.ToLower(getEnv("DISPATCH_MODE", DispatchLocal)),
		ProcessEndpoint:  os.Getenv("PROCESS_ENDPOINT"),
		ProcessToken:     os.Getenv("PROCESS_TOKEN"),
		ProcessTimeout:   time.Second * time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 300)),
		StaleProcessing:  time.Minute * time.Duration(getEnvInt("STALE_PROCESSING_MINUTES", 15)),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "image_processing"),

		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CheckoutLocales:     getEnvList("CHECKOUT_LOCALES", []string{"en"}),
		EnforceJobOwnership: getEnvBool("ENFORCE_JOB_OWNERSHIP", false),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = "http://localhost:" + cfg.Port + "/static"
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}

	switch cfg.JobStore {
	case JobStoreSQL:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case JobStorePostgREST:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for JOB_STORE=postgrest")
		}
	case JobStoreMemory:
	default:
		return nil, fmt.Errorf("unsupported JOB_STORE %q", cfg.JobStore)
	}

	switch cfg.DispatchMode {
	case DispatchLocal:
	case DispatchRemote:
		if cfg.ProcessEndpoint == "" {
			return nil, fmt.Errorf("PROCESS_ENDPOINT is required for DISPATCH_MODE=remote")
		}
	default:
		return nil, fmt.Errorf("unsupported DISPATCH_MODE %q", cfg.DispatchMode)
	}

	if cfg.GenerationMaxAttempts < 1 {
		cfg.GenerationMaxAttempts = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
