package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/destination"
	"github.com/David-Botos/story-ingress/pkg/model"
)

// CountStore is the destination surface the verifier reads
type CountStore interface {
	CountExternalIDs(ctx context.Context, table string, externalIDs []string) (int, error)
	Count(ctx context.Context, table string, filter destination.Row) (int, error)
}

// IntegrityIssue is a destination-side problem found after a stage
type IntegrityIssue struct {
	Column       string `json:"column"`
	Description  string `json:"description"`
	AffectedRows int    `json:"affectedRows"`
}

// VerificationResult compares what a stage reported as persisted against
// what the destination holds
type VerificationResult struct {
	Entity          model.EntityType `json:"entity"`
	Expected        int              `json:"expected"`
	Present         int              `json:"present"`
	Missing         int              `json:"missing"`
	Consistent      bool             `json:"consistent"`
	IntegrityIssues []IntegrityIssue `json:"integrityIssues,omitempty"`
	Duration        time.Duration    `json:"duration"`
}

// Verifier re-reads the destination after each stage
type Verifier struct {
	store   CountStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewVerifier creates a new verifier
func NewVerifier(store CountStore, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		store:   store,
		logger:  logger.Named("verifier"),
		timeout: time.Minute * 5, // Default 5-minute timeout
	}
}

// WithTimeout sets a custom timeout for verification operations
func (v *Verifier) WithTimeout(timeout time.Duration) *Verifier {
	v.timeout = timeout
	return v
}

// VerifyStage checks that every external id in externalIDs is present and
// that required single-valued relations are populated
func (v *Verifier) VerifyStage(
	ctx context.Context,
	mapping *model.StageMapping,
	externalIDs []string,
) (*VerificationResult, error) {
	start := time.Now()
	table := mapping.Entity.Table()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	// Step 1: Presence of persisted records
	unique := dedupe(externalIDs)
	present, err := v.store.CountExternalIDs(ctx, table, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}

	result := &VerificationResult{
		Entity:   mapping.Entity,
		Expected: len(unique),
		Present:  present,
		Missing:  len(unique) - present,
	}

	// Step 2: Required foreign keys
	for _, rel := range mapping.Relations {
		if !rel.Required || rel.IsMany() {
			continue
		}
		orphans, err := v.store.Count(ctx, table, destination.Row{rel.Column: nil})
		if err != nil {
			return nil, fmt.Errorf("failed to check %s.%s: %w", table, rel.Column, err)
		}
		if orphans > 0 {
			result.IntegrityIssues = append(result.IntegrityIssues, IntegrityIssue{
				Column:       rel.Column,
				Description:  fmt.Sprintf("required %s reference is empty", rel.Target),
				AffectedRows: orphans,
			})
		}
	}

	result.Consistent = result.Missing == 0 && len(result.IntegrityIssues) == 0
	result.Duration = time.Since(start)

	if result.Consistent {
		v.logger.Info("Stage verification successful",
			zap.String("entity", string(mapping.Entity)),
			zap.Int("count", present))
	} else {
		v.logger.Warn("Stage verification mismatch",
			zap.String("entity", string(mapping.Entity)),
			zap.Int("expected", result.Expected),
			zap.Int("present", result.Present),
			zap.Int("missing", result.Missing),
			zap.Int("integrityIssues", len(result.IntegrityIssues)))
	}
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
