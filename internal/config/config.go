package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	HTTPAddr string

	ProviderConfigSecret string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayTimeoutSec int

	VOPDailyQuota int

	BankDirectoryBaseURL string
	BAVBaseURL           string
	BAVAPIKey            string
	BAVTimeoutSec        int

	ReconciliationMinAgeHours int
	ReconciliationMaxAttempts int
	ReconcileIntervalSec      int
}

// Load loads configuration from environment variables and an optional
// .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:              getenv("APP_SERVICE", "sepa-recovery"),
		AppVersion:           getenv("APP_VERSION", "0.1.0"),
		Environment:          getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:         getenv("OTLP_ENDPOINT", "localhost:4317"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		ProviderConfigSecret: strings.TrimSpace(getenv("PROVIDER_CONFIG_SECRET", "")),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "postgres"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME_SEC", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME_SEC", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		GatewayBaseURL:    getenv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:     strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
		GatewayTimeoutSec: getenvInt("GATEWAY_TIMEOUT_SEC", 15),

		VOPDailyQuota: getenvInt("VOP_BAV_DAILY_QUOTA", 5000),

		BankDirectoryBaseURL: getenv("BANK_DIRECTORY_BASE_URL", ""),
		BAVBaseURL:           getenv("BAV_BASE_URL", ""),
		BAVAPIKey:            strings.TrimSpace(getenv("BAV_API_KEY", "")),
		BAVTimeoutSec:        getenvInt("BAV_TIMEOUT_SEC", 10),

		ReconciliationMinAgeHours: getenvInt("RECONCILIATION_MIN_AGE_HOURS", 48),
		ReconciliationMaxAttempts: getenvInt("RECONCILIATION_MAX_ATTEMPTS", 10),
		ReconcileIntervalSec:      getenvInt("RECONCILE_INTERVAL_SEC", 300),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
