package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
// An empty Host disables Postgres and the in-memory stores are used instead.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Enabled reports whether a Postgres host is configured
func (d *DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ClientID          string   `mapstructure:"client_id"`
	EventsTopic       string   `mapstructure:"events_topic"`
	NotificationTopic string   `mapstructure:"notification_topic"`
}

// JWTConfig holds settings for verifying buyer tokens issued by the identity provider
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	Issuer          string `mapstructure:"issuer"`
	AllowUserHeader bool   `mapstructure:"allow_user_header"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// PaymentConfig selects and configures the payment authority
type PaymentConfig struct {
	Provider        string        `mapstructure:"provider"` // stripe, simulated
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	Currency        string        `mapstructure:"currency"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SimDelay        time.Duration `mapstructure:"sim_delay"`
}

// EngineConfig holds inventory, voucher and admission tuning
type EngineConfig struct {
	LedgerBackend       string        `mapstructure:"ledger_backend"` // memory, redis
	ReservationTimeout  time.Duration `mapstructure:"reservation_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize      int           `mapstructure:"sweep_batch_size"`
	EmbeddedSweeper     bool          `mapstructure:"embedded_sweeper"`
	CASMaxAttempts      int           `mapstructure:"cas_max_attempts"`
	CASInitialBackoff   time.Duration `mapstructure:"cas_initial_backoff"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
	RedeemRatePerSecond float64       `mapstructure:"redeem_rate_per_second"`
	RedeemBurst         int           `mapstructure:"redeem_burst"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables alone are enough
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticket-engine")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults (empty host = in-memory stores)
	v.SetDefault("DATABASE_HOST", "")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "ticket_engine")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "5m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "ticket-engine")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "purchase-events")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "ticket.notifications")

	// JWT defaults
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_ALLOW_USER_HEADER", false)

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticket-engine")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Payment defaults
	v.SetDefault("PAYMENT_PROVIDER", "simulated")
	v.SetDefault("PAYMENT_STRIPE_SECRET_KEY", "")
	v.SetDefault("PAYMENT_CURRENCY", "eur")
	v.SetDefault("PAYMENT_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_SIM_DELAY", "0s")

	// Engine defaults
	v.SetDefault("ENGINE_LEDGER_BACKEND", "memory")
	v.SetDefault("ENGINE_RESERVATION_TIMEOUT", "15m")
	v.SetDefault("ENGINE_SWEEP_INTERVAL", "30s")
	v.SetDefault("ENGINE_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("ENGINE_EMBEDDED_SWEEPER", true)
	v.SetDefault("ENGINE_CAS_MAX_ATTEMPTS", 5)
	v.SetDefault("ENGINE_CAS_INITIAL_BACKOFF", "2ms")
	v.SetDefault("ENGINE_IDEMPOTENCY_TTL", "24h")
	v.SetDefault("ENGINE_REDEEM_RATE_PER_SECOND", 20.0)
	v.SetDefault("ENGINE_REDEEM_BURST", 40)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")
	cfg.Kafka.NotificationTopic = v.GetString("KAFKA_NOTIFICATION_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")
	cfg.JWT.AllowUserHeader = v.GetBool("JWT_ALLOW_USER_HEADER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Payment
	cfg.Payment.Provider = strings.ToLower(v.GetString("PAYMENT_PROVIDER"))
	cfg.Payment.StripeSecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	cfg.Payment.Currency = strings.ToLower(v.GetString("PAYMENT_CURRENCY"))
	cfg.Payment.Timeout = v.GetDuration("PAYMENT_TIMEOUT")
	cfg.Payment.SimDelay = v.GetDuration("PAYMENT_SIM_DELAY")

	// Engine
	cfg.Engine.LedgerBackend = strings.ToLower(v.GetString("ENGINE_LEDGER_BACKEND"))
	cfg.Engine.ReservationTimeout = v.GetDuration("ENGINE_RESERVATION_TIMEOUT")
	cfg.Engine.SweepInterval = v.GetDuration("ENGINE_SWEEP_INTERVAL")
	cfg.Engine.SweepBatchSize = v.GetInt("ENGINE_SWEEP_BATCH_SIZE")
	cfg.Engine.EmbeddedSweeper = v.GetBool("ENGINE_EMBEDDED_SWEEPER")
	cfg.Engine.CASMaxAttempts = v.GetInt("ENGINE_CAS_MAX_ATTEMPTS")
	cfg.Engine.CASInitialBackoff = v.GetDuration("ENGINE_CAS_INITIAL_BACKOFF")
	cfg.Engine.IdempotencyTTL = v.GetDuration("ENGINE_IDEMPOTENCY_TTL")
	cfg.Engine.RedeemRatePerSecond = v.GetFloat64("ENGINE_REDEEM_RATE_PER_SECOND")
	cfg.Engine.RedeemBurst = v.GetInt("ENGINE_REDEEM_BURST")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	switch c.Payment.Provider {
	case "simulated":
		if c.IsProduction() {
			return fmt.Errorf("simulated payment provider is not allowed in production")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("PAYMENT_STRIPE_SECRET_KEY is required for stripe provider")
		}
	default:
		return fmt.Errorf("unknown payment provider: %q", c.Payment.Provider)
	}

	switch c.Engine.LedgerBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Engine.LedgerBackend)
	}

	if c.Engine.ReservationTimeout <= 0 {
		return fmt.Errorf("reservation timeout must be positive")
	}
	if c.Engine.CASMaxAttempts <= 0 {
		return fmt.Errorf("CAS max attempts must be positive")
	}
	if c.Payment.Timeout >= c.Engine.ReservationTimeout {
		return fmt.Errorf("payment timeout (%s) must be shorter than reservation timeout (%s)",
			c.Payment.Timeout, c.Engine.ReservationTimeout)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
