// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// External systems
	Source      *SourceConfig
	Destination *DestinationConfig
	Storage     *StorageConfig

	// Migration settings
	RetryAttempts    int
	RetryDelay       time.Duration
	AttachmentMaxMB  int64
	FailureThreshold int
	MappingFile      string
	LegacyLink       []string

	// Shortest name eligible for substring matching; 0 is no minimum
	MatchMinSubstringLen int

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one is present
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{
		// Default values
		RetryAttempts:    getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:       time.Duration(getEnvAsInt("RETRY_DELAY_MS", 1000)) * time.Millisecond,
		AttachmentMaxMB:  int64(getEnvAsInt("ATTACHMENT_MAX_MB", 50)),
		FailureThreshold: getEnvAsInt("FAILURE_THRESHOLD", 25),
		MappingFile:      getEnv("MAPPING_FILE", ""),
		LegacyLink:       getEnvAsStringSlice("LEGACY_LINK_ENTITIES", nil),

		MatchMinSubstringLen: getEnvAsInt("MATCH_MIN_SUBSTRING_LEN", 0),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	sourceConfig, err := LoadSourceConfig()
	if err != nil {
		return nil, errors.New("failed to load source configuration: " + err.Error())
	}
	cfg.Source = sourceConfig

	destConfig, err := LoadDestinationConfig()
	if err != nil {
		return nil, errors.New("failed to load destination configuration: " + err.Error())
	}
	cfg.Destination = destConfig

	storageConfig, err := LoadStorageConfig()
	if err != nil {
		return nil, errors.New("failed to load storage configuration: " + err.Error())
	}
	cfg.Storage = storageConfig

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Source == nil {
		return errors.New("source configuration is required")
	}

	if c.Destination == nil {
		return errors.New("destination configuration is required")
	}

	if c.Storage == nil {
		return errors.New("storage configuration is required")
	}

	if c.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	if c.AttachmentMaxMB <= 0 {
		return errors.New("attachment size ceiling must be positive")
	}

	if c.FailureThreshold < 0 {
		return errors.New("failure threshold cannot be negative")
	}

	if c.MatchMinSubstringLen < 0 {
		return errors.New("match minimum substring length cannot be negative")
	}

	return nil
}

// AttachmentMaxBytes returns the download ceiling in bytes
func (c *Config) AttachmentMaxBytes() int64 {
	return c.AttachmentMaxMB * 1024 * 1024
}

// loadEnvFiles loads the given env files, or .env when none are given.
// A missing default .env is not an error.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.New("failed to load env file: " + err.Error())
	}
	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice parses a comma-separated variable, dropping empty entries
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(value, ",") {
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if v != "" {
			result = append(result, v)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
