package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// FailedRecord is one failure listed in the report
type FailedRecord struct {
	ExternalID string      `json:"externalId"`
	Kind       FailureKind `json:"kind"`
	Reason     string      `json:"reason"`
}

// AttachmentReport tallies attachment transfers within a stage
type AttachmentReport struct {
	Transferred int            `json:"transferred"`
	Reused      int            `json:"reused"`
	Failed      []FailedRecord `json:"failed"`
}

// StageReport tallies outcomes for one stage
type StageReport struct {
	EntityType      model.EntityType    `json:"entityType"`
	Name            string              `json:"name,omitempty"`
	Created         int                 `json:"created"`
	SkippedExisting int                 `json:"skippedExisting"`
	SkippedNoMatch  int                 `json:"skippedNoMatch"`
	Linked          int                 `json:"linked"`
	Failed          []FailedRecord      `json:"failed"`
	Fetched         int                 `json:"fetched"`
	Expected        int                 `json:"expected,omitempty"`
	Shortfall       int                 `json:"shortfall"`
	Unaccounted     int                 `json:"unaccounted"`
	CleaningOps     int                 `json:"cleaningOps"`
	Attachments     *AttachmentReport   `json:"attachments,omitempty"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	SkipReason      string              `json:"skipReason,omitempty"`
	StartedAt       time.Time           `json:"startedAt"`
	FinishedAt      time.Time           `json:"finishedAt"`

	accounted map[string]bool
	persisted []string
}

func newStageReport(entity model.EntityType, name string) *StageReport {
	return &StageReport{
		EntityType: entity,
		Name:       name,
		Failed:     make([]FailedRecord, 0),
		StartedAt:  time.Now().UTC(),
		accounted:  make(map[string]bool),
	}
}

// Record tallies an outcome. sourceID is the source record it accounts for;
// externalID is the key the outcome was written under, which differs when one
// source record yields several rows.
func (s *StageReport) Record(sourceID, externalID string, o Outcome) {
	s.accounted[sourceID] = true

	switch o.Status {
	case StatusCreated:
		s.Created++
		s.persisted = append(s.persisted, externalID)
	case StatusSkippedExisting:
		s.SkippedExisting++
		s.persisted = append(s.persisted, externalID)
	case StatusLinked:
		s.Linked++
		s.persisted = append(s.persisted, externalID)
	case StatusSkippedNoMatch:
		s.SkippedNoMatch++
	case StatusFailed:
		s.Failed = append(s.Failed, FailedRecord{ExternalID: externalID, Kind: o.Kind, Reason: o.Reason})
	}
}

// RecordAttachment tallies one attachment transfer
func (s *StageReport) RecordAttachment(externalID string, reused bool, err error) {
	if s.Attachments == nil {
		s.Attachments = &AttachmentReport{Failed: make([]FailedRecord, 0)}
	}
	switch {
	case err != nil:
		s.Attachments.Failed = append(s.Attachments.Failed, FailedRecord{
			ExternalID: externalID,
			Kind:       KindOf(err),
			Reason:     err.Error(),
		})
	case reused:
		s.Attachments.Reused++
	default:
		s.Attachments.Transferred++
	}
}

// Outcomes returns the number of tallied outcomes
func (s *StageReport) Outcomes() int {
	return s.Created + s.SkippedExisting + s.SkippedNoMatch + s.Linked + len(s.Failed)
}

// Persisted returns the external ids known to be present in the destination
func (s *StageReport) Persisted() []string {
	return append([]string(nil), s.persisted...)
}

// Complete closes the stage and computes how many fetched records have no outcome
func (s *StageReport) Complete() {
	s.FinishedAt = time.Now().UTC()
	s.Unaccounted = s.Fetched - len(s.accounted)
	if s.Unaccounted < 0 {
		s.Unaccounted = 0
	}
}

// Skip marks a stage that never ran
func (s *StageReport) Skip(reason string) {
	s.SkipReason = reason
	s.Complete()
}

// MigrationReport is the durable output of a run
type MigrationReport struct {
	RunID      string         `json:"runId"`
	DryRun     bool           `json:"dryRun,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Stages     []*StageReport `json:"stages"`

	mu sync.Mutex
}

// NewMigrationReport starts a report for a run
func NewMigrationReport(runID string, dryRun bool) *MigrationReport {
	return &MigrationReport{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Stages:    make([]*StageReport, 0, len(model.DependencyOrder)),
	}
}

// StartStage appends a stage report
func (r *MigrationReport) StartStage(entity model.EntityType, name string) *StageReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	stage := newStageReport(entity, name)
	r.Stages = append(r.Stages, stage)
	return stage
}

// Stage returns the first stage report for an entity type
func (r *MigrationReport) Stage(entity model.EntityType) *StageReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.Stages {
		if s.EntityType == entity {
			return s
		}
	}
	return nil
}

// Complete marks the run finished
func (r *MigrationReport) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now().UTC()
}

// Duration returns the run duration
func (r *MigrationReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals sums outcome counts across stages
func (r *MigrationReport) Totals() (created, skippedExisting, skippedNoMatch, linked, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.Stages {
		created += s.Created
		skippedExisting += s.SkippedExisting
		skippedNoMatch += s.SkippedNoMatch
		linked += s.Linked
		failed += len(s.Failed)
	}
	return
}

// FailureCount returns record and attachment failures across stages
func (r *MigrationReport) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, s := range r.Stages {
		total += len(s.Failed)
		if s.Attachments == nil {
			continue
		}
		// An attachment failure that also failed its record counts once
		failed := make(map[string]bool, len(s.Failed))
		for _, f := range s.Failed {
			failed[f.ExternalID] = true
		}
		for _, f := range s.Attachments.Failed {
			if !failed[f.ExternalID] {
				total++
			}
		}
	}
	return total
}

// ToJSON renders the report
func (r *MigrationReport) ToJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r, "", "  ")
}

// WriteTo writes the JSON report to w
func (r *MigrationReport) WriteTo(w io.Writer) (int64, error) {
	data, err := r.ToJSON()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report: %w", err)
	}
	n, err := w.Write(append(data, '\n'))
	return int64(n), err
}

// WriteFile writes the JSON report to path
func (r *MigrationReport) WriteFile(path string) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LogSummary logs one line per stage and a run total
func (r *MigrationReport) LogSummary(logger *zap.Logger) {
	r.mu.Lock()
	stages := append([]*StageReport(nil), r.Stages...)
	r.mu.Unlock()

	for _, s := range stages {
		fields := []zap.Field{
			zap.String("entity", string(s.EntityType)),
			zap.Int("fetched", s.Fetched),
			zap.Int("created", s.Created),
			zap.Int("skippedExisting", s.SkippedExisting),
			zap.Int("skippedNoMatch", s.SkippedNoMatch),
			zap.Int("linked", s.Linked),
			zap.Int("failed", len(s.Failed)),
		}
		if s.Name != "" {
			fields = append(fields, zap.String("name", s.Name))
		}
		if s.Shortfall > 0 {
			fields = append(fields, zap.Int("shortfall", s.Shortfall))
		}
		if s.Attachments != nil {
			fields = append(fields,
				zap.Int("attachmentsTransferred", s.Attachments.Transferred),
				zap.Int("attachmentsReused", s.Attachments.Reused),
				zap.Int("attachmentsFailed", len(s.Attachments.Failed)))
		}
		if s.SkipReason != "" {
			fields = append(fields, zap.String("skipReason", s.SkipReason))
		}
		logger.Info("Stage summary", fields...)
	}

	created, skippedExisting, skippedNoMatch, linked, failed := r.Totals()
	logger.Info("Migration summary",
		zap.String("runId", r.RunID),
		zap.Bool("dryRun", r.DryRun),
		zap.Duration("duration", r.Duration()),
		zap.Int("created", created),
		zap.Int("skippedExisting", skippedExisting),
		zap.Int("skippedNoMatch", skippedNoMatch),
		zap.Int("linked", linked),
		zap.Int("failed", failed))
}
