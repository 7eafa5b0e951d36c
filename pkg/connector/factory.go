// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/config"
)

// ConnectorFactory creates destination connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDestinationConnector opens the configured destination and validates it
func (f *ConnectorFactory) CreateDestinationConnector(ctx context.Context) (DatabaseConnector, error) {
	dest := f.cfg.Destination
	f.logger.Info("Creating destination connector", zap.String("driver", dest.Driver))

	var (
		conn DatabaseConnector
		err  error
	)

	switch dest.Driver {
	case config.DriverPgx, config.DriverPQ:
		conn, err = NewPostgresConnector(ctx, dest.Driver, dest.Postgres)
	case config.DriverSQLite:
		conn, err = NewSQLiteConnector(ctx, dest.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported destination driver: %s", dest.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create destination connector: %w", err)
	}

	if err := conn.Validate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("destination validation failed: %w", err)
	}

	return conn, nil
}
