package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// Status is the per-record result tag
type Status string

const (
	StatusCreated         Status = "Created"
	StatusSkippedExisting Status = "SkippedExisting"
	StatusSkippedNoMatch  Status = "SkippedNoMatch"
	StatusLinked          Status = "Linked" // Legacy row claimed by name match
	StatusFailed          Status = "Failed"
)

// Outcome is the result of migrating one record
type Outcome struct {
	Status Status
	ID     string // Destination primary id, when one is known
	Kind   FailureKind
	Reason string
}

// Created reports a newly inserted row
func Created(id string) Outcome {
	return Outcome{Status: StatusCreated, ID: id}
}

// SkippedExisting reports a row that was already migrated
func SkippedExisting(id string) Outcome {
	return Outcome{Status: StatusSkippedExisting, ID: id}
}

// SkippedNoMatch reports a legacy record with no destination counterpart
func SkippedNoMatch() Outcome {
	return Outcome{Status: StatusSkippedNoMatch}
}

// Linked reports a legacy row claimed for the record
func Linked(id string) Outcome {
	return Outcome{Status: StatusLinked, ID: id}
}

// Failed reports a record that could not be migrated
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Kind: KindOf(err), Reason: err.Error()}
}

// IsFailed reports whether the outcome is a failure
func (o Outcome) IsFailed() bool {
	return o.Status == StatusFailed
}

// String returns a compact representation for logs
func (o Outcome) String() string {
	if o.IsFailed() {
		return fmt.Sprintf("%s(%s: %s)", o.Status, o.Kind, o.Reason)
	}
	return string(o.Status)
}

// StageJob represents one migration stage of a run
type StageJob struct {
	ID        string              // Unique job identifier
	Entity    model.EntityType    // Entity type the stage writes
	Mapping   *model.StageMapping // Nil for link stages
	Link      *model.LinkMapping  // Nil for entity stages
	CreatedAt time.Time           // Job creation timestamp
}

// NewStageJob creates a job for an entity stage
func NewStageJob(mapping *model.StageMapping) StageJob {
	return StageJob{
		ID:        uuid.New().String(),
		Entity:    mapping.Entity,
		Mapping:   mapping,
		CreatedAt: time.Now(),
	}
}

// NewLinkJob creates a job for a cross-entity link stage
func NewLinkJob(link *model.LinkMapping) StageJob {
	return StageJob{
		ID:        uuid.New().String(),
		Entity:    model.EntityLink,
		Link:      link,
		CreatedAt: time.Now(),
	}
}

// Name returns a label for logs and reports
func (j StageJob) Name() string {
	if j.Link != nil {
		return fmt.Sprintf("%s:%s", j.Entity, j.Link.Name)
	}
	return string(j.Entity)
}
