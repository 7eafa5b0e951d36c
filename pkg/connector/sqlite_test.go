package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/story-ingress/pkg/config"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "dest.db?_foreign_keys=on&_busy_timeout=5000", SQLiteDSN("dest.db"))
	assert.Equal(t, "dest.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000", SQLiteDSN("dest.db?mode=rwc"))
}

func TestFactory_CreatesSQLiteConnector(t *testing.T) {
	cfg := &config.Config{
		Destination: &config.DestinationConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "dest.db"),
		},
	}

	factory := NewConnectorFactory(cfg, zaptest.NewLogger(t))
	conn, err := factory.CreateDestinationConnector(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, config.DriverSQLite, conn.Driver())

	var one int
	require.NoError(t, conn.DB().Get(&one, "SELECT 1"))
	assert.Equal(t, 1, one)

	stats := GetConnectionStats(conn.DB().DB)
	assert.Equal(t, 1, stats.MaxOpenConns)
}

func TestFactory_RejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{Destination: &config.DestinationConfig{Driver: "oracle"}}

	_, err := NewConnectorFactory(cfg, zaptest.NewLogger(t)).CreateDestinationConnector(context.Background())
	assert.Error(t, err)
}
