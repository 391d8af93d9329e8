package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Engine       EngineConfig
	Catalog      CatalogConfig
	Kafka        KafkaConfig
	NATS         NATSConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	// ConnectTimeout bounds connection retries at startup.
	ConnectTimeout time.Duration
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthClient is an API client allowed to exchange credentials for a token.
type AuthClient struct {
	ID         string
	SecretHash string
	Role       string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	Clients               []AuthClient
}

// EngineConfig tunes the timer engine.
type EngineConfig struct {
	SweepInterval        time.Duration
	SweepConcurrency     int
	TerminalRetention    time.Duration
	PersistWorkers       int
	PersistQueueSize     int
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

// CatalogConfig selects and tunes the policy source.
type CatalogConfig struct {
	// Source is "postgres" or "file".
	Source          string
	PolicyDir       string
	CacheTTL        time.Duration
	BreakerTimeout  time.Duration
	BreakerFailures int
}

// KafkaConfig configures the case event consumer; empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NATSConfig configures escalation command delivery; empty URL logs commands instead.
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
}

// NotificationConfig controls escalation delivery retries.
type NotificationConfig struct {
	MaxAttempts int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	clients, err := parseClients(os.Getenv("AUTH_CLIENTS"))
	if err != nil {
		return nil, err
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sla-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
			ConnectTimeout: getEnvAsDuration("POSTGRES_CONNECT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			Clients:               clients,
		},
		Engine: EngineConfig{
			SweepInterval:        getEnvAsDuration("ENGINE_SWEEP_INTERVAL", time.Minute),
			SweepConcurrency:     getEnvAsInt("ENGINE_SWEEP_CONCURRENCY", 8),
			TerminalRetention:    getEnvAsDuration("ENGINE_TERMINAL_RETENTION", 24*time.Hour),
			PersistWorkers:       getEnvAsInt("ENGINE_PERSIST_WORKERS", 4),
			PersistQueueSize:     getEnvAsInt("ENGINE_PERSIST_QUEUE_SIZE", 1024),
			RetryInitialInterval: getEnvAsDuration("ENGINE_RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
			RetryMaxElapsed:      getEnvAsDuration("ENGINE_RETRY_MAX_ELAPSED", 5*time.Minute),
		},
		Catalog: CatalogConfig{
			Source:          strings.ToLower(getEnv("CATALOG_SOURCE", "postgres")),
			PolicyDir:       getEnv("CATALOG_POLICY_DIR", "policies"),
			CacheTTL:        getEnvAsDuration("CATALOG_CACHE_TTL", 5*time.Minute),
			BreakerTimeout:  getEnvAsDuration("CATALOG_BREAKER_TIMEOUT", 30*time.Second),
			BreakerFailures: getEnvAsInt("CATALOG_BREAKER_FAILURES", 5),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_CASE_EVENTS_TOPIC", "case-events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "sla-engine"),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Stream:  getEnv("NATS_STREAM", "ESCALATIONS"),
			Subject: getEnv("NATS_SUBJECT", "sla.escalations"),
		},
		Notification: NotificationConfig{
			MaxAttempts: getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 10),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// parseClients reads "id:bcrypt-hash:role" entries separated by commas.
func parseClients(raw string) ([]AuthClient, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var clients []AuthClient
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid AUTH_CLIENTS entry %q", entry)
		}
		clients = append(clients, AuthClient{ID: parts[0], SecretHash: parts[1], Role: parts[2]})
	}
	return clients, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
