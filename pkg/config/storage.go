// pkg/config/storage.go
package config

import (
	"errors"
	"fmt"
	"os"
)

// Supported object storage backends
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// StorageConfig holds object storage parameters
type StorageConfig struct {
	Backend       string
	Bucket        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
	LocalDir      string
}

// LoadStorageConfig loads object storage configuration from environment variables
func LoadStorageConfig() (*StorageConfig, error) {
	publicBase := os.Getenv("STORAGE_PUBLIC_BASE_URL")
	if publicBase == "" {
		return nil, errors.New("STORAGE_PUBLIC_BASE_URL environment variable is required")
	}

	cfg := &StorageConfig{
		Backend:       getEnv("STORAGE_BACKEND", StorageS3),
		Bucket:        getEnv("STORAGE_BUCKET", "media"),
		Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
		Region:        getEnv("STORAGE_REGION", "us-east-1"),
		AccessKey:     getEnv("STORAGE_ACCESS_KEY", ""),
		SecretKey:     getEnv("STORAGE_SECRET_KEY", ""),
		UsePathStyle:  getEnv("STORAGE_PATH_STYLE", "true") == "true",
		PublicBaseURL: publicBase,
		LocalDir:      getEnv("STORAGE_LOCAL_DIR", "./media"),
	}

	switch cfg.Backend {
	case StorageS3:
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, errors.New("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required for the s3 backend")
		}
	case StorageLocal:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Backend)
	}

	return cfg, nil
}
