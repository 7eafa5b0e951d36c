// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Supported destination drivers
const (
	DriverPgx    = "pgx"
	DriverPQ     = "postgres"
	DriverSQLite = "sqlite3"
)

// SourceConfig holds source record API parameters
type SourceConfig struct {
	BaseURL        string
	Token          string
	RateLimit      time.Duration // Minimum delay between calls
	MaxConcurrency int
	Timeout        time.Duration // Per-call timeout
	PageSize       int
}

// DestinationConfig selects the destination driver
type DestinationConfig struct {
	Driver     string
	Postgres   *PostgresConfig
	SQLitePath string
}

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration
}

// LoadSourceConfig loads source API configuration from environment variables
func LoadSourceConfig() (*SourceConfig, error) {
	baseURL := os.Getenv("SOURCE_BASE_URL")
	if baseURL == "" {
		return nil, errors.New("SOURCE_BASE_URL environment variable is required")
	}

	token := os.Getenv("SOURCE_API_TOKEN")
	if token == "" {
		return nil, errors.New("SOURCE_API_TOKEN environment variable is required")
	}

	cfg := &SourceConfig{
		BaseURL:        baseURL,
		Token:          token,
		RateLimit:      time.Duration(getEnvAsInt("SOURCE_RATE_LIMIT_MS", 250)) * time.Millisecond,
		MaxConcurrency: getEnvAsInt("SOURCE_MAX_CONCURRENCY", 3),
		Timeout:        time.Duration(getEnvAsInt("SOURCE_TIMEOUT_SECONDS", 30)) * time.Second,
		PageSize:       getEnvAsInt("SOURCE_PAGE_SIZE", 100),
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	return cfg, nil
}

// LoadDestinationConfig loads destination configuration from environment variables
func LoadDestinationConfig() (*DestinationConfig, error) {
	cfg := &DestinationConfig{
		Driver:     getEnv("DEST_DRIVER", DriverPgx),
		SQLitePath: getEnv("SQLITE_PATH", "storyingress.db"),
	}

	switch cfg.Driver {
	case DriverPgx, DriverPQ:
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, err
		}
		cfg.Postgres = pgConfig
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported DEST_DRIVER %q", cfg.Driver)
	}

	return cfg, nil
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return nil, errors.New("POSTGRES_USER environment variable is required")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
	}

	database := os.Getenv("POSTGRES_DB")
	if database == "" {
		return nil, errors.New("POSTGRES_DB environment variable is required")
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnvAsInt("POSTGRES_PORT", getEnvAsInt("TUNNEL_PORT", 5432))

	cfg := &PostgresConfig{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  getEnv("POSTGRES_SSLMODE", "require"),

		MaxOpenConns:     getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 1800)) * time.Second,
		ConnMaxIdleTime:  time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_TIME_SECONDS", 600)) * time.Second,
		StatementTimeout: time.Duration(getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_SECONDS", 60)) * time.Second,
	}

	return cfg, nil
}

// ConnectionString returns a formatted PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
