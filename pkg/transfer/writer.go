package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/destination"
	"github.com/David-Botos/story-ingress/pkg/identity"
	"github.com/David-Botos/story-ingress/pkg/model"
)

// EntityStore is the destination surface the writer needs
type EntityStore interface {
	FindIDByExternalID(ctx context.Context, table, externalID string) (string, bool, error)
	ResolveIDs(ctx context.Context, table string, externalIDs []string) (map[string]string, error)
	Insert(ctx context.Context, table string, row destination.Row, joins []destination.JoinRow) error
	ClaimExternalID(ctx context.Context, table, id, externalID string) (bool, error)
	ListLegacyCandidates(ctx context.Context, table, displayColumn string) ([]model.MatchCandidate, error)
	InsertLink(ctx context.Context, link destination.JoinRow) (bool, error)
	CountExternalIDs(ctx context.Context, table string, externalIDs []string) (int, error)
}

// RelationValue pairs a relation mapping with the source ids a record links to
type RelationValue struct {
	Mapping   model.RelationMapping
	SourceIDs []string
}

// EntityWriter performs idempotent create-or-skip writes keyed by external id.
// Writes are sequential; the existence check and insert for one external id
// never interleave with another write from the same writer.
type EntityWriter struct {
	store  EntityStore
	logger *zap.Logger
	dryRun bool

	mu sync.Mutex
	// planned holds rows a dry run would have created, by table then external id
	planned map[string]map[string]string
}

// NewEntityWriter creates a writer. In dry-run mode nothing is written and
// rows that would be created are remembered so dependent stages resolve.
func NewEntityWriter(store EntityStore, dryRun bool, logger *zap.Logger) *EntityWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityWriter{
		store:   store,
		logger:  logger.Named("entity-writer"),
		dryRun:  dryRun,
		planned: make(map[string]map[string]string),
	}
}

// DryRun reports whether the writer is in dry-run mode
func (w *EntityWriter) DryRun() bool {
	return w.dryRun
}

// Existing returns the primary id of an already-migrated record
func (w *EntityWriter) Existing(ctx context.Context, entity model.EntityType, externalID string) (string, bool, error) {
	table := entity.Table()
	if id, ok := w.plannedID(table, externalID); ok {
		return id, true, nil
	}
	return w.store.FindIDByExternalID(ctx, table, externalID)
}

// Upsert creates the row for externalID unless one exists. attrs may carry a
// pre-generated "id"; otherwise one is assigned.
func (w *EntityWriter) Upsert(
	ctx context.Context,
	entity model.EntityType,
	externalID string,
	attrs destination.Row,
	relations []RelationValue,
) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	table := entity.Table()

	// Step 1: Existence check
	id, found, err := w.Existing(ctx, entity, externalID)
	if err != nil {
		return Failed(fmt.Errorf("existence check failed: %w", err))
	}
	if found {
		return SkippedExisting(id)
	}

	// Step 2: Build the row
	row := make(destination.Row, len(attrs)+2)
	for k, v := range attrs {
		row[k] = v
	}
	id, _ = row["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	row["id"] = id
	row["external_id"] = externalID

	// Step 3: Resolve relations before anything is written
	joins, err := w.resolveRelations(ctx, entity, id, row, relations)
	if err != nil {
		return Failed(err)
	}

	if w.dryRun {
		w.plan(table, externalID, id)
		w.logger.Debug("Dry run, skipping insert",
			zap.String("table", table),
			zap.String("externalId", externalID))
		return Created(id)
	}

	// Step 4: Insert
	err = w.store.Insert(ctx, table, row, joins)
	switch {
	case err == nil:
		return Created(id)
	case errors.Is(err, destination.ErrUniqueViolation):
		// A concurrent run won the race; confirm before calling it a skip
		existing, found, lookupErr := w.store.FindIDByExternalID(ctx, table, externalID)
		if lookupErr == nil && found {
			return SkippedExisting(existing)
		}
		return Failed(err)
	case errors.Is(err, destination.ErrForeignKeyViolation):
		return Failed(fmt.Errorf("%w: %v", ErrDependencyMissing, err))
	default:
		return Failed(err)
	}
}

func (w *EntityWriter) resolveRelations(
	ctx context.Context,
	entity model.EntityType,
	id string,
	row destination.Row,
	relations []RelationValue,
) ([]destination.JoinRow, error) {
	var joins []destination.JoinRow

	for _, rel := range relations {
		m := rel.Mapping
		if len(rel.SourceIDs) == 0 {
			if m.Required {
				return nil, fmt.Errorf("%w: %s has no %s", ErrDependencyMissing, entity, m.Field)
			}
			continue
		}

		resolved, err := w.resolve(ctx, m.Target.Table(), rel.SourceIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", m.Field, err)
		}
		for _, sourceID := range rel.SourceIDs {
			if _, ok := resolved[sourceID]; !ok {
				return nil, fmt.Errorf("%w: %s %s", ErrDependencyMissing, m.Target, sourceID)
			}
		}

		if !m.IsMany() {
			if len(rel.SourceIDs) > 1 {
				w.logger.Debug("Single-valued relation has several links, using the first",
					zap.String("field", m.Field),
					zap.Int("links", len(rel.SourceIDs)))
			}
			row[m.Column] = resolved[rel.SourceIDs[0]]
			continue
		}

		seen := make(map[string]bool, len(rel.SourceIDs))
		for _, sourceID := range rel.SourceIDs {
			targetID := resolved[sourceID]
			if seen[targetID] {
				continue
			}
			seen[targetID] = true
			joins = append(joins, destination.JoinRow{
				Table:        m.JoinTable,
				OwnerColumn:  m.JoinColumn,
				TargetColumn: m.TargetColumn,
				OwnerID:      id,
				TargetID:     targetID,
			})
		}
	}
	return joins, nil
}

// resolve maps source ids to destination ids, including rows planned by a dry run
func (w *EntityWriter) resolve(ctx context.Context, table string, sourceIDs []string) (map[string]string, error) {
	resolved, err := w.store.ResolveIDs(ctx, table, sourceIDs)
	if err != nil {
		return nil, err
	}
	for _, sourceID := range sourceIDs {
		if id, ok := w.plannedID(table, sourceID); ok {
			resolved[sourceID] = id
		}
	}
	return resolved, nil
}

// ClaimLegacy links a record to a pre-existing row with no external id by
// display name. Claimed candidates leave the pool.
func (w *EntityWriter) ClaimLegacy(
	ctx context.Context,
	entity model.EntityType,
	externalID, displayName string,
	pool *identity.Pool,
) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	table := entity.Table()

	id, found, err := w.Existing(ctx, entity, externalID)
	if err != nil {
		return Failed(fmt.Errorf("existence check failed: %w", err))
	}
	if found {
		return SkippedExisting(id)
	}

	for {
		match := pool.Match(displayName)
		if !match.Matched() {
			return SkippedNoMatch()
		}

		candidate := match.Candidate
		if match.Ambiguous {
			w.logger.Warn("Ambiguous name match, using deterministic pick",
				zap.String("entity", string(entity)),
				zap.String("externalId", externalID),
				zap.String("name", displayName),
				zap.String("destinationId", candidate.DestinationID),
				zap.String("tier", match.Tier.String()))
		}
		pool.Claim(candidate.DestinationID)

		if w.dryRun {
			w.plan(table, externalID, candidate.DestinationID)
			return Linked(candidate.DestinationID)
		}

		claimed, err := w.store.ClaimExternalID(ctx, table, candidate.DestinationID, externalID)
		if err != nil {
			if errors.Is(err, destination.ErrUniqueViolation) {
				if existing, found, lookupErr := w.store.FindIDByExternalID(ctx, table, externalID); lookupErr == nil && found {
					return SkippedExisting(existing)
				}
			}
			return Failed(err)
		}
		if claimed {
			w.logger.Debug("Legacy row linked",
				zap.String("entity", string(entity)),
				zap.String("externalId", externalID),
				zap.String("destinationId", candidate.DestinationID),
				zap.String("tier", match.Tier.String()))
			return Linked(candidate.DestinationID)
		}
		// Claimed elsewhere since the pool was loaded; try the next candidate
	}
}

// Link writes one join row between two migrated records
func (w *EntityWriter) Link(ctx context.Context, link model.LinkMapping, ownerExternalID, targetExternalID string) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	owners, err := w.resolve(ctx, link.Owner.Table(), []string{ownerExternalID})
	if err != nil {
		return Failed(err)
	}
	ownerID, ok := owners[ownerExternalID]
	if !ok {
		return Failed(fmt.Errorf("%w: %s %s", ErrDependencyMissing, link.Owner, ownerExternalID))
	}

	targets, err := w.resolve(ctx, link.Target.Table(), []string{targetExternalID})
	if err != nil {
		return Failed(err)
	}
	targetID, ok := targets[targetExternalID]
	if !ok {
		return Failed(fmt.Errorf("%w: %s %s", ErrDependencyMissing, link.Target, targetExternalID))
	}

	if w.dryRun {
		return Created("")
	}

	created, err := w.store.InsertLink(ctx, destination.JoinRow{
		Table:        link.JoinTable,
		OwnerColumn:  link.OwnerColumn,
		TargetColumn: link.TargetColumn,
		OwnerID:      ownerID,
		TargetID:     targetID,
	})
	if err != nil {
		if errors.Is(err, destination.ErrForeignKeyViolation) {
			return Failed(fmt.Errorf("%w: %v", ErrDependencyMissing, err))
		}
		return Failed(err)
	}
	if !created {
		return SkippedExisting("")
	}
	return Created("")
}

// LegacyCandidates loads the unclaimed rows of an entity for identity matching
func (w *EntityWriter) LegacyCandidates(ctx context.Context, mapping *model.StageMapping) ([]model.MatchCandidate, error) {
	return w.store.ListLegacyCandidates(ctx, mapping.Entity.Table(), mapping.DisplayColumn)
}

func (w *EntityWriter) plan(table, externalID, id string) {
	if w.planned[table] == nil {
		w.planned[table] = make(map[string]string)
	}
	w.planned[table][externalID] = id
}

func (w *EntityWriter) plannedID(table, externalID string) (string, bool) {
	id, ok := w.planned[table][externalID]
	return id, ok
}
