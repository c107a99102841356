package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Confirm conflict policies
const (
	ConfirmConflictReject = "reject"
	ConfirmConflictAccept = "accept"
)

// Config holds all configuration for the reservation service
type Config struct {
	// Server configuration
	Port           string        `env:"PORT" envDefault:"8080"`
	GinMode        string        `env:"GIN_MODE" envDefault:"debug"`
	APIVersion     string        `env:"API_VERSION" envDefault:"v1"`
	APIPrefix      string        `env:"API_PREFIX" envDefault:"/api"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"debug"`

	// STORE_DRIVER=memory runs without Postgres/Redis, state is lost on restart
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	Reservations ReservationConfig
	Sweeper      SweeperConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	Name            string        `env:"DB_NAME" envDefault:"evently_db"`
	User            string        `env:"DB_USER" envDefault:"evently_user"`
	Password        string        `env:"DB_PASSWORD" envDefault:"evently_password"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	DSN             string        `env:"DATABASE_DSN"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Addr     string `env:"REDIS_ADDR"`
}

// KafkaConfig holds broker settings for lifecycle events and payment intake
type KafkaConfig struct {
	Enabled                  bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers                  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ReservationEventsTopic   string   `env:"RESERVATION_EVENTS_TOPIC" envDefault:"seat-reservations"`
	PaymentsTopic            string   `env:"PAYMENTS_TOPIC" envDefault:"payments"`
	PaymentCompensationTopic string   `env:"PAYMENT_COMPENSATION_TOPIC" envDefault:"payment-compensations"`
	ConsumerGroup            string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"evently-seat-reservations"`
	ConsumerWorkers          int      `env:"KAFKA_CONSUMER_WORKERS" envDefault:"2"`
	RetryMax                 int      `env:"KAFKA_PRODUCER_RETRY_MAX" envDefault:"3"`
}

// JWTConfig holds the secret used to verify tokens issued by the auth service
type JWTConfig struct {
	Secret string `env:"JWT_SECRET" envDefault:"your-super-secret-jwt-key"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	WindowDuration  time.Duration `env:"RATE_LIMIT_WINDOW_DURATION" envDefault:"60s"`
	DefaultRequests int           `env:"RATE_LIMIT_DEFAULT_REQUESTS" envDefault:"120"`
	PublicRequests  int           `env:"RATE_LIMIT_PUBLIC_REQUESTS" envDefault:"300"`
	HoldRequests    int           `env:"RATE_LIMIT_HOLD_REQUESTS" envDefault:"20"`
	ConfirmRequests int           `env:"RATE_LIMIT_CONFIRM_REQUESTS" envDefault:"120"`
	AdminRequests   int           `env:"RATE_LIMIT_ADMIN_REQUESTS" envDefault:"200"`
	WhitelistedIPs  []string      `env:"RATE_LIMIT_WHITELISTED_IPS" envSeparator:","`
}

// ReservationConfig holds the hold policy and store retry policy
type ReservationConfig struct {
	DefaultHoldTTL        time.Duration `env:"HOLD_DEFAULT_TTL" envDefault:"10m"`
	MaxHoldTTL            time.Duration `env:"HOLD_MAX_TTL" envDefault:"30m"`
	MaxSeatsPerHold       int           `env:"HOLD_MAX_SEATS" envDefault:"10"`
	ConfirmConflictPolicy string        `env:"CONFIRM_CONFLICT_POLICY" envDefault:"reject"`
	RetryMax              uint          `env:"STORE_RETRY_MAX" envDefault:"5"`
	RetryInitialInterval  time.Duration `env:"STORE_RETRY_INITIAL_INTERVAL" envDefault:"20ms"`
	RetryMaxInterval      time.Duration `env:"STORE_RETRY_MAX_INTERVAL" envDefault:"500ms"`
	AvailabilityCacheTTL  time.Duration `env:"AVAILABILITY_CACHE_TTL" envDefault:"2s"`
}

// SweeperConfig holds the expiry sweeper schedule
type SweeperConfig struct {
	Enabled    bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	Interval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	BatchSize  int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	MaxBatches int           `env:"SWEEP_MAX_BATCHES" envDefault:"10"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Build composite values
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = buildDatabaseDSN(cfg.Database)
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = cfg.Redis.Host + ":" + cfg.Redis.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the reservation engine cannot run with
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.Reservations.ConfirmConflictPolicy {
	case ConfirmConflictReject, ConfirmConflictAccept:
	default:
		return fmt.Errorf("invalid CONFIRM_CONFLICT_POLICY %q", c.Reservations.ConfirmConflictPolicy)
	}
	if c.Reservations.DefaultHoldTTL <= 0 {
		return fmt.Errorf("HOLD_DEFAULT_TTL must be positive")
	}
	if c.Reservations.MaxHoldTTL < c.Reservations.DefaultHoldTTL {
		return fmt.Errorf("HOLD_MAX_TTL must be at least HOLD_DEFAULT_TTL")
	}
	if c.Reservations.MaxSeatsPerHold <= 0 {
		return fmt.Errorf("HOLD_MAX_SEATS must be positive")
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 || c.Sweeper.MaxBatches <= 0 {
		return fmt.Errorf("sweeper interval, batch size and max batches must be positive")
	}
	return nil
}

// buildDatabaseDSN builds the database connection string
func buildDatabaseDSN(db DatabaseConfig) string {
	return "host=" + db.Host +
		" port=" + db.Port +
		" user=" + db.User +
		" password=" + db.Password +
		" dbname=" + db.Name +
		" sslmode=" + db.SSLMode
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GinMode == "release"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GinMode == "debug"
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return ":" + c.Port
}

// GetAPIBasePath returns the API base path
func (c *Config) GetAPIBasePath() string {
	return c.APIPrefix + "/" + c.APIVersion
}
