package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

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
	DBRunMigrations   bool

	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Tld       TldConfig
	RateLimit RateLimitConfig

	// FeeCheckMode is "exact" or "declared_not_lower".
	FeeCheckMode string

	// SuperuserRegistrars may bypass client-side restrictions.
	SuperuserRegistrars []string

	// SeedRegistrars are created at startup when missing, allowed on every
	// loaded TLD.
	SeedRegistrars []string

	SchedulerEnabled     bool
	SchedulerInterval    time.Duration
	SchedulerBatchSize   int
	ExpansionCronSpec    string
	OutboxMaxAttempts    int
	OutboxRetryBaseDelay time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds commands per registrar. Rates are tokens per
// second; a zero rate disables that class.
type RateLimitConfig struct {
	Enabled     bool
	CheckRate   float64
	CheckBurst  int
	MutateRate  float64
	MutateBurst int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type TldConfig struct {
	Name  string
	Paths []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "registry"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "registry"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      strings.TrimSpace(getenv("RABBITMQ_URL", "")),
			Exchange: getenv("RABBITMQ_EXCHANGE", "registry.events"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			CheckRate:   getenvFloat("RATE_LIMIT_CHECK_RATE", 20),
			CheckBurst:  getenvInt("RATE_LIMIT_CHECK_BURST", 60),
			MutateRate:  getenvFloat("RATE_LIMIT_MUTATE_RATE", 5),
			MutateBurst: getenvInt("RATE_LIMIT_MUTATE_BURST", 20),
		},
		Tld: TldConfig{
			Name:  getenv("TLD_CONFIG_NAME", "tlds"),
			Paths: parseList(getenv("TLD_CONFIG_PATHS", "/etc/registry,.")),
		},
		FeeCheckMode:         strings.ToLower(getenv("FEE_CHECK_MODE", "exact")),
		SuperuserRegistrars:  parseList(getenv("SUPERUSER_REGISTRARS", "")),
		SeedRegistrars:       parseList(getenv("SEED_REGISTRARS", "")),
		SchedulerEnabled:     getenvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:    getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerBatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 50),
		ExpansionCronSpec:    getenv("RECURRENCE_EXPANSION_CRON", "0 2 * * *"),
		OutboxMaxAttempts:    getenvInt("OUTBOX_MAX_ATTEMPTS", 5),
		OutboxRetryBaseDelay: getenvDuration("OUTBOX_RETRY_BASE_DELAY", 200*time.Millisecond),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

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
	return int(getenvInt64(key, int64(def)))
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
