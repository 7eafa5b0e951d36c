// pkg/destination/schema.go
package destination

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// SchemaStatements returns the schema DDL split into single statements.
// Drivers differ on multi-statement Exec, so each runs on its own.
func SchemaStatements() []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(schemaSQL, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			statements = append(statements, stmt)
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}

// EnsureSchema creates any missing destination tables and indexes
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := SchemaStatements()
	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}

	s.logger.Info("Destination schema ensured", zap.Int("statements", len(statements)))
	return nil
}
