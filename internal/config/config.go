package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	SnowflakeNode int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMigrate         bool
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Email   EmailConfig
	Storage StorageConfig

	BillingConfigPath string
}

// EmailConfig selects and configures the notification transport.
type EmailConfig struct {
	Provider string // smtp, postmark, noop
	From     string
	ReplyTo  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	PostmarkServerToken  string
	PostmarkAccountToken string
}

// StorageConfig configures the object store used for rendered documents.
type StorageConfig struct {
	Enabled        bool
	Bucket         string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	ForcePathStyle bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "siteledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "siteledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "siteledger.db"),
		DBMigrate:         getenvBool("DATABASE_MIGRATE", true),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		Email: EmailConfig{
			Provider:             strings.ToLower(getenv("EMAIL_PROVIDER", "noop")),
			From:                 getenv("EMAIL_FROM", "billing@siteledger.local"),
			ReplyTo:              getenv("EMAIL_REPLY_TO", ""),
			SMTPHost:             getenv("SMTP_HOST", "localhost"),
			SMTPPort:             int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername:         getenv("SMTP_USERNAME", ""),
			SMTPPassword:         getenv("SMTP_PASSWORD", ""),
			PostmarkServerToken:  strings.TrimSpace(getenv("POSTMARK_SERVER_TOKEN", "")),
			PostmarkAccountToken: strings.TrimSpace(getenv("POSTMARK_ACCOUNT_TOKEN", "")),
		},
		Storage: StorageConfig{
			Enabled:        getenvBool("STORAGE_ENABLED", false),
			Bucket:         getenv("STORAGE_BUCKET", "siteledger-documents"),
			Region:         getenv("STORAGE_REGION", "ap-northeast-1"),
			Endpoint:       strings.TrimSpace(getenv("STORAGE_ENDPOINT", "")),
			AccessKeyID:    strings.TrimSpace(getenv("STORAGE_ACCESS_KEY_ID", "")),
			SecretKey:      strings.TrimSpace(getenv("STORAGE_SECRET_KEY", "")),
			ForcePathStyle: getenvBool("STORAGE_FORCE_PATH_STYLE", false),
		},

		BillingConfigPath: strings.TrimSpace(getenv("BILLING_CONFIG_PATH", "")),
	}
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
