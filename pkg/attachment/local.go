// pkg/attachment/local.go
package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// LocalStore keeps attachments on the local filesystem, for development and
// dry runs against a copy of the destination
type LocalStore struct {
	root       string
	publicBase string
	logger     *zap.Logger
}

// NewLocalStore creates a filesystem store rooted at dir
func NewLocalStore(dir, publicBaseURL string, logger *zap.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("local storage directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	root, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStore{
		root:       root,
		publicBase: strings.TrimRight(publicBaseURL, "/"),
		logger:     logger.Named("local-store"),
	}, nil
}

// path resolves key under the root, rejecting traversal
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// PutObject writes data atomically under key
func (s *LocalStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tempFile.Chmod(filePermissions); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	success = true

	s.logger.Debug("Object stored",
		zap.String("key", key),
		zap.String("contentType", contentType),
		zap.Int("bytes", len(data)))
	return nil
}

// Exists reports whether a file is present at key
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object: %w", err)
}

// PublicURL returns the URL key is served under
func (s *LocalStore) PublicURL(key string) string {
	return s.publicBase + "/" + key
}
