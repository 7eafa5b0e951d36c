package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOURCE_BASE_URL", "https://api.source.test/v0/app1")
	t.Setenv("SOURCE_API_TOKEN", "token")
	t.Setenv("DEST_DRIVER", DriverSQLite)
	t.Setenv("STORAGE_BACKEND", StorageLocal)
	t.Setenv("STORAGE_PUBLIC_BASE_URL", "https://cdn.test")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Source.RateLimit)
	assert.Equal(t, 3, cfg.Source.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, int64(50*1024*1024), cfg.AttachmentMaxBytes())
	assert.Equal(t, 25, cfg.FailureThreshold)
	assert.Equal(t, 0, cfg.MatchMinSubstringLen)
	assert.Equal(t, "storyingress.db", cfg.Destination.SQLitePath)
	assert.Nil(t, cfg.Destination.Postgres)
	assert.Equal(t, "./media", cfg.Storage.LocalDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SOURCE_RATE_LIMIT_MS", "100")
	t.Setenv("SOURCE_MAX_CONCURRENCY", "0")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("ATTACHMENT_MAX_MB", "2")
	t.Setenv("LEGACY_LINK_ENTITIES", "storyteller, \"theme\",")
	t.Setenv("MATCH_MIN_SUBSTRING_LEN", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Source.RateLimit)
	assert.Equal(t, 1, cfg.Source.MaxConcurrency)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, int64(2*1024*1024), cfg.AttachmentMaxBytes())
	assert.Equal(t, []string{"storyteller", "theme"}, cfg.LegacyLink)
	assert.Equal(t, 3, cfg.MatchMinSubstringLen)
}

func TestLoadConfig_Postgres(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DEST_DRIVER", DriverPgx)
	t.Setenv("POSTGRES_USER", "migrator")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "stories")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_SSLMODE", "disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Destination.Postgres)
	assert.Equal(t,
		"host=db.internal port=5432 user=migrator password=secret dbname=stories sslmode=disable",
		cfg.Destination.Postgres.ConnectionString())
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"source url", "SOURCE_BASE_URL", "SOURCE_BASE_URL"},
		{"token", "SOURCE_API_TOKEN", "SOURCE_API_TOKEN"},
		{"public url", "STORAGE_PUBLIC_BASE_URL", "STORAGE_PUBLIC_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.unset, "")

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_RejectsUnknownBackends(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DEST_DRIVER", "mysql")
	_, err := LoadConfig()
	assert.Error(t, err)

	setBaseEnv(t)
	t.Setenv("STORAGE_BACKEND", "gcs")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SOURCE_PAGE_SIZE=42\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SOURCE_PAGE_SIZE") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Source.PageSize)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
