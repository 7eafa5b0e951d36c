// pkg/attachment/store.go
package attachment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/config"
)

// ObjectStore is the object storage surface used for attachments. A store is
// bound to one bucket.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
}

// NewStore creates the object store selected by configuration
func NewStore(cfg *config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case config.StorageS3:
		store, err := NewS3Store(S3Options{
			Bucket:        cfg.Bucket,
			Endpoint:      cfg.Endpoint,
			Region:        cfg.Region,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			UsePathStyle:  cfg.UsePathStyle,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		return store, nil
	case config.StorageLocal:
		store, err := NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create local store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
