// pkg/connector/sqlite.go
package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/config"
)

// SQLiteConnector implements the DatabaseConnector interface for a SQLite file,
// used for local rehearsal runs and tests
type SQLiteConnector struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteConnector opens a SQLite database with foreign keys enforced
func NewSQLiteConnector(ctx context.Context, path string) (*SQLiteConnector, error) {
	logger := zap.L().Named("sqlite-connector")

	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	logger.Info("Opening SQLite database", zap.String("path", path))

	db, err := sqlx.Open(config.DriverSQLite, SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One writer at a time; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := PingWithTimeout(ctx, db.DB, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	return &SQLiteConnector{db: db, path: path, logger: logger}, nil
}

// SQLiteDSN appends the pragmas the destination schema relies on
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// DB returns the underlying database connection
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// Driver returns the driver name
func (c *SQLiteConnector) Driver() string {
	return config.DriverSQLite
}

// Validate checks that foreign key enforcement is active
func (c *SQLiteConnector) Validate(ctx context.Context) error {
	var enabled int
	if err := c.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("failed to query foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("foreign key enforcement is disabled on %s", c.path)
	}

	c.logger.Info("SQLite connection validated", zap.String("path", c.path))
	return nil
}

// Close closes the database connection
func (c *SQLiteConnector) Close() error {
	c.logger.Info("Closing SQLite connection")
	LogConnectionStats(c.logger, c.path, c.db.DB)
	return c.db.Close()
}
