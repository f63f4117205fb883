package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Storage    StorageConfig
	Validation ValidationConfig
	Royalty    RoyaltyConfig
	Report     ReportConfig
	SMTP       SMTPConfig
}

type LoggerConfig struct {
	Level string
}

// StorageConfig points at the delivery/report object store.
type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UseSSL          bool
	Region          string
	DeliveryBucket  string
	ReportBucket    string
	SignedURLExpiry time.Duration
}

// ValidationConfig describes the external ERN validation service.
type ValidationConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// RoyaltyConfig carries the financial constants used by the royalty engine.
type RoyaltyConfig struct {
	Currency        string
	MinimumPayout   float64
	PlatformFeeRate float64
	DefaultRate     float64
	// PerStreamRates maps a DSP identifier to its per-stream payout rate,
	// used when no recorded revenue exists for a period.
	PerStreamRates  map[string]float64
	PaymentLeadDays int
}

type ReportConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "stardust-dsp"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "stardust"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),
		Storage: StorageConfig{
			Endpoint:        getenv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:       getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey:       getenv("STORAGE_SECRET_KEY", ""),
			UseSSL:          getenvBool("STORAGE_USE_SSL", false),
			Region:          getenv("STORAGE_REGION", "us-east-1"),
			DeliveryBucket:  getenv("STORAGE_DELIVERY_BUCKET", "stardust-deliveries"),
			ReportBucket:    getenv("STORAGE_REPORT_BUCKET", "stardust-reports"),
			SignedURLExpiry: getenvDuration("STORAGE_SIGNED_URL_EXPIRY", 7*24*time.Hour),
		},
		Validation: ValidationConfig{
			URL:     getenv("ERN_VALIDATOR_URL", "http://localhost:8180/validate"),
			APIKey:  strings.TrimSpace(getenv("ERN_VALIDATOR_API_KEY", "")),
			Timeout: getenvDuration("ERN_VALIDATOR_TIMEOUT", 30*time.Second),
		},
		Royalty: RoyaltyConfig{
			Currency:        getenv("ROYALTY_CURRENCY", "USD"),
			MinimumPayout:   getenvFloat("ROYALTY_MINIMUM_PAYOUT", 10.0),
			PlatformFeeRate: getenvFloat("ROYALTY_PLATFORM_FEE_RATE", 0.15),
			DefaultRate:     getenvFloat("ROYALTY_DEFAULT_STREAM_RATE", 0.003),
			PerStreamRates: map[string]float64{
				"spotify":      0.0032,
				"apple-music":  0.0078,
				"amazon-music": 0.0040,
				"youtube":      0.0007,
				"tidal":        0.0125,
			},
			PaymentLeadDays: getenvInt("ROYALTY_PAYMENT_LEAD_DAYS", 30),
		},
		Report: ReportConfig{
			MaxRetries:     getenvInt("REPORT_MAX_RETRIES", 3),
			RetryBaseDelay: getenvDuration("REPORT_RETRY_BASE_DELAY", time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "noreply@stardust-dsp.example"),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
