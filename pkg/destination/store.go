// pkg/destination/store.go
package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// inChunkSize bounds IN (...) lists; SQLite caps bound parameters
const inChunkSize = 500

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Row is a set of column values
type Row map[string]interface{}

// JoinRow is one row of a many-to-many join table written with its owner
type JoinRow struct {
	Table        string
	OwnerColumn  string
	TargetColumn string
	OwnerID      string
	TargetID     string
}

// Store is the destination entity store over sqlx. The SQL it issues is
// written with ? placeholders and rebound for the connected driver.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a destination store
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("destination-store")}
}

// DB returns the underlying handle
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func checkIdentifiers(idents ...string) error {
	for _, ident := range idents {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("invalid identifier %q", ident)
		}
	}
	return nil
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// whereClause builds "a = ? AND b IS NULL" from a filter, in column order
func whereClause(filter Row) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	cols := sortedColumns(filter)
	if err := checkIdentifiers(cols...); err != nil {
		return "", nil, err
	}

	parts := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		if filter[col] == nil {
			parts = append(parts, col+" IS NULL")
			continue
		}
		parts = append(parts, col+" = ?")
		args = append(args, filter[col])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func insertStatement(table string, row Row) (string, []interface{}, error) {
	cols := sortedColumns(row)
	if err := checkIdentifiers(append([]string{table}, cols...)...); err != nil {
		return "", nil, err
	}

	args := make([]interface{}, len(cols))
	for i, col := range cols {
		args[i] = row[col]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	return query, args, nil
}

// Insert writes a row and its join rows in one transaction. Errors are
// classified; see Classify.
func (s *Store) Insert(ctx context.Context, table string, row Row, joins []JoinRow) error {
	query, args, err := insertStatement(table, row)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return Classify(err)
	}

	for _, join := range joins {
		joinQuery, joinArgs, err := insertStatement(join.Table, Row{
			join.OwnerColumn:  join.OwnerID,
			join.TargetColumn: join.TargetID,
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(joinQuery), joinArgs...); err != nil {
			return fmt.Errorf("failed to write %s row: %w", join.Table, Classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %s: %w", table, Classify(err))
	}
	committed = true
	return nil
}

// FindOne returns the first row of table matching filter, or nil
func (s *Store) FindOne(ctx context.Context, table string, filter Row) (Row, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind("SELECT * FROM "+table+where+" LIMIT 1"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row := Row{}
	if err := rows.MapScan(row); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
	}
	// Some drivers hand back text as []byte
	for col, v := range row {
		if b, ok := v.([]byte); ok {
			row[col] = string(b)
		}
	}
	return row, nil
}

// FindIDByExternalID returns the primary id of the row carrying externalID
func (s *Store) FindIDByExternalID(ctx context.Context, table, externalID string) (string, bool, error) {
	if err := checkIdentifiers(table); err != nil {
		return "", false, err
	}

	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind("SELECT id FROM "+table+" WHERE external_id = ?"), externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up %s %s: %w", table, externalID, err)
	}
	return id, true, nil
}

// Count returns the number of rows of table matching filter
func (s *Store) Count(ctx context.Context, table string, filter Row) (int, error) {
	if err := checkIdentifiers(table); err != nil {
		return 0, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM "+table+where), args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Update sets attributes on the row with primary id
func (s *Store) Update(ctx context.Context, table, id string, attrs Row) error {
	if len(attrs) == 0 {
		return nil
	}
	cols := sortedColumns(attrs)
	if err := checkIdentifiers(append([]string{table}, cols...)...); err != nil {
		return err
	}

	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, attrs[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, id, Classify(err))
	}
	return nil
}

// ClaimExternalID sets external_id on a legacy row that has none. It reports
// false when the row was claimed already.
func (s *Store) ClaimExternalID(ctx context.Context, table, id, externalID string) (bool, error) {
	if err := checkIdentifiers(table); err != nil {
		return false, err
	}

	query := "UPDATE " + table + " SET external_id = ? WHERE id = ? AND external_id IS NULL"
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), externalID, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s %s: %w", table, id, Classify(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ListLegacyCandidates returns rows with no external id, projected for
// identity matching
func (s *Store) ListLegacyCandidates(ctx context.Context, table, displayColumn string) ([]model.MatchCandidate, error) {
	if err := checkIdentifiers(table, displayColumn); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id, %s AS display_name FROM %s WHERE external_id IS NULL ORDER BY id", displayColumn, table)
	var candidates []model.MatchCandidate
	if err := s.db.SelectContext(ctx, &candidates, query); err != nil {
		return nil, fmt.Errorf("failed to list legacy %s: %w", table, err)
	}
	return candidates, nil
}

// ResolveIDs maps external ids to primary ids. Unknown ids are absent from
// the result.
func (s *Store) ResolveIDs(ctx context.Context, table string, externalIDs []string) (map[string]string, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(externalIDs))
	for start := 0; start < len(externalIDs); start += inChunkSize {
		end := start + inChunkSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}

		query, args, err := sqlx.In("SELECT id, external_id FROM "+table+" WHERE external_id IN (?)", externalIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build lookup: %w", err)
		}

		var rows []struct {
			ID         string `db:"id"`
			ExternalID string `db:"external_id"`
		}
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to resolve %s ids: %w", table, err)
		}
		for _, r := range rows {
			resolved[r.ExternalID] = r.ID
		}
	}
	return resolved, nil
}

// CountExternalIDs returns how many of externalIDs are present in table
func (s *Store) CountExternalIDs(ctx context.Context, table string, externalIDs []string) (int, error) {
	resolved, err := s.ResolveIDs(ctx, table, externalIDs)
	if err != nil {
		return 0, err
	}
	return len(resolved), nil
}

// InsertLink writes one join-table row. It reports false when the pair was
// already linked.
func (s *Store) InsertLink(ctx context.Context, link JoinRow) (bool, error) {
	if err := checkIdentifiers(link.Table, link.OwnerColumn, link.TargetColumn); err != nil {
		return false, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT DO NOTHING",
		link.Table, link.OwnerColumn, link.TargetColumn)
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), link.OwnerID, link.TargetID)
	if err != nil {
		return false, fmt.Errorf("failed to link %s: %w", link.Table, Classify(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// LookupObject returns the stored object for a content fingerprint, or nil
func (s *Store) LookupObject(ctx context.Context, fingerprint string) (*model.StoredObject, error) {
	var obj model.StoredObject
	query := "SELECT fingerprint, storage_key, public_url, content_type, byte_size FROM stored_objects WHERE fingerprint = ?"
	err := s.db.GetContext(ctx, &obj, s.db.Rebind(query), fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up stored object: %w", err)
	}
	return &obj, nil
}

// RecordObject adds a stored object to the ledger; an existing fingerprint is
// left as it is
func (s *Store) RecordObject(ctx context.Context, obj model.StoredObject) error {
	query := `INSERT INTO stored_objects (fingerprint, storage_key, public_url, content_type, byte_size)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (fingerprint) DO NOTHING`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		obj.Fingerprint, obj.StorageKey, obj.PublicURL, obj.ContentType, obj.ByteSize)
	if err != nil {
		return fmt.Errorf("failed to record stored object: %w", Classify(err))
	}
	return nil
}
