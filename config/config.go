package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DBConfig holds database configuration.
type DBConfig struct {
	URL             string
	MaxConns        int
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	MigrateOnStart  bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// JWTConfig holds token signing configuration.
type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// ReasoningConfig configures the advisory enrichment client. An empty URL
// disables enrichment.
type ReasoningConfig struct {
	URL             string
	Timeout         time.Duration
	Concurrency     int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// KafkaConfig configures the outbox relay publisher. No brokers means
// messages are only logged.
type KafkaConfig struct {
	Brokers       []string
	TopicPrefix   string
	RelayInterval time.Duration
	RelayBatch    int
}

// RedisConfig configures the lane-norm cache. An empty address disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PolicyConfig carries tenant policy defaults.
type PolicyConfig struct {
	AllowSubmittedRequests bool
}

// Config holds all configuration.
type Config struct {
	ServiceName string
	LogLevel    string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Reasoning   ReasoningConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Policy      PolicyConfig
}

// Load reads configuration from the environment, after loading an optional
// .env file.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: serviceName,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DB: DBConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 20),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MigrateOnStart:  getEnvAsBool("MIGRATE_ON_START", false),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			Env:             getEnv("APP_ENV", "development"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Reasoning: ReasoningConfig{
			URL:             getEnv("REASONING_URL", ""),
			Timeout:         getEnvAsDuration("REASONING_TIMEOUT", 2*time.Second),
			Concurrency:     getEnvAsInt("REASONING_CONCURRENCY", 4),
			BreakerFailures: getEnvAsInt("REASONING_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("REASONING_BREAKER_COOLDOWN", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS"),
			TopicPrefix:   getEnv("OUTBOX_TOPIC_PREFIX", "sourcing."),
			RelayInterval: getEnvAsDuration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    getEnvAsInt("OUTBOX_RELAY_BATCH", 50),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("LANE_CACHE_TTL", 10*time.Minute),
		},
		Policy: PolicyConfig{
			AllowSubmittedRequests: getEnvAsBool("ALLOW_SUBMITTED_REQUESTS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.JWT.Secret == "" && c.Server.Env == "production" {
		return fmt.Errorf("config: JWT_SECRET is required in production")
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = "dev-secret"
	}
	if c.Reasoning.Concurrency <= 0 {
		c.Reasoning.Concurrency = 1
	}
	return nil
}

// LogFields returns the non-secret settings for the startup log line.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("http_addr", c.Server.Addr),
		zap.Int("db_max_conns", c.DB.MaxConns),
		zap.Bool("reasoning_enabled", c.Reasoning.URL != ""),
		zap.Duration("reasoning_timeout", c.Reasoning.Timeout),
		zap.Strings("kafka_brokers", c.Kafka.Brokers),
		zap.Bool("lane_cache_enabled", c.Redis.Addr != ""),
		zap.Bool("allow_submitted_requests", c.Policy.AllowSubmittedRequests),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
