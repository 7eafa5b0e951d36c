package transfer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/attachment"
	"github.com/David-Botos/story-ingress/pkg/cleaner"
	"github.com/David-Botos/story-ingress/pkg/converter"
	"github.com/David-Botos/story-ingress/pkg/destination"
	"github.com/David-Botos/story-ingress/pkg/identity"
	"github.com/David-Botos/story-ingress/pkg/model"
	"github.com/David-Botos/story-ingress/pkg/source"
)

// RecordMerger produces the complete record set of a source table
type RecordMerger interface {
	Merge(ctx context.Context, req source.MergeRequest) (*source.MergeResult, error)
}

// AttachmentTransferer moves one attachment into object storage
type AttachmentTransferer interface {
	Transfer(ctx context.Context, desc model.AttachmentDescriptor, entityID string) (*attachment.Result, error)
}

// DestinationStore is everything the orchestrator reads and writes
type DestinationStore interface {
	EntityStore
	CountStore
}

// Options configures an orchestrator
type Options struct {
	Plan         model.Plan
	DryRun       bool
	Matcher      *identity.Matcher // Nil uses the default matcher
	ErrorHandler *ErrorHandler     // Nil creates one with no threshold
}

// Orchestrator runs the migration stage by stage in dependency order
type Orchestrator struct {
	merger        RecordMerger
	attachments   AttachmentTransferer
	writer        *EntityWriter
	verifier      *Verifier
	typeConverter *converter.TypeConverter
	dataCleaner   *cleaner.DataCleaner
	matcher       *identity.Matcher
	errorHandler  *ErrorHandler
	plan          model.Plan
	logger        *zap.Logger

	// fetched keeps each stage's records for the link stages
	fetched map[model.EntityType][]model.SourceRecord
}

// NewOrchestrator creates an orchestrator. attachments may be nil in dry-run mode.
func NewOrchestrator(
	merger RecordMerger,
	store DestinationStore,
	attachments AttachmentTransferer,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	matcher := opts.Matcher
	if matcher == nil {
		matcher = identity.NewMatcher(identity.DefaultMinSubstringLen)
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = NewErrorHandler(logger, -1)
	}

	return &Orchestrator{
		merger:        merger,
		attachments:   attachments,
		writer:        NewEntityWriter(store, opts.DryRun, logger),
		verifier:      NewVerifier(store, logger),
		typeConverter: converter.NewTypeConverter(logger),
		dataCleaner:   cleaner.NewDataCleaner(logger),
		matcher:       matcher,
		errorHandler:  errorHandler,
		plan:          opts.Plan,
		logger:        logger.Named("orchestrator"),
		fetched:       make(map[model.EntityType][]model.SourceRecord),
	}
}

// ErrorHandler returns the run's failure counter
func (o *Orchestrator) ErrorHandler() *ErrorHandler {
	return o.errorHandler
}

// Jobs returns the stages of a run in execution order
func (o *Orchestrator) Jobs() []StageJob {
	jobs := make([]StageJob, 0, len(o.plan.Stages)+len(o.plan.Links))
	for _, entity := range model.DependencyOrder {
		if entity == model.EntityLink {
			for i := range o.plan.Links {
				jobs = append(jobs, NewLinkJob(&o.plan.Links[i]))
			}
			continue
		}
		if mapping, ok := o.plan.Stage(entity); ok {
			jobs = append(jobs, NewStageJob(mapping))
		}
	}
	return jobs
}

// Run executes every stage. A stage starts only after the previous one has
// finished for its full record set. The report is returned even when the run
// is aborted or cancelled.
func (o *Orchestrator) Run(ctx context.Context) (*MigrationReport, error) {
	report := NewMigrationReport(uuid.New().String(), o.writer.DryRun())
	jobs := o.Jobs()

	o.logger.Info("Starting migration",
		zap.String("runId", report.RunID),
		zap.Bool("dryRun", report.DryRun),
		zap.Int("stages", len(jobs)))

	for i, job := range jobs {
		if ctx.Err() != nil {
			o.skipJobs(report, jobs[i:], "cancelled")
			return o.finish(report), ctx.Err()
		}

		var err error
		if job.Link != nil {
			err = o.runLinkStage(ctx, report, job)
		} else {
			err = o.runStage(ctx, report, job)
		}
		if err == nil {
			continue
		}

		reason := "aborted"
		if ctx.Err() != nil {
			reason = "cancelled"
		} else {
			o.logger.Error("Stage aborted the run",
				zap.String("stage", job.Name()),
				zap.String("jobId", job.ID),
				zap.Error(err))
		}
		o.skipJobs(report, jobs[i+1:], reason)
		return o.finish(report), err
	}

	return o.finish(report), nil
}

func (o *Orchestrator) finish(report *MigrationReport) *MigrationReport {
	report.Complete()
	report.LogSummary(o.logger)
	o.errorHandler.LogSummary()
	return report
}

func (o *Orchestrator) skipJobs(report *MigrationReport, jobs []StageJob, reason string) {
	for _, job := range jobs {
		report.StartStage(job.Entity, job.Name()).Skip(reason)
	}
}

// runStage migrates one entity stage. Only a failed fetch or candidate load
// returns an error; record failures are tallied.
func (o *Orchestrator) runStage(ctx context.Context, report *MigrationReport, job StageJob) error {
	mapping := job.Mapping
	stage := report.StartStage(job.Entity, job.Name())
	defer stage.Complete()

	// Step 1: Fetch the full record set
	result, err := o.merger.Merge(ctx, source.MergeRequest{
		Table:          mapping.SourceTable,
		PrimaryView:    mapping.PrimaryView,
		ExpectedCount:  mapping.ExpectedCount,
		PartitionField: mapping.PartitionField,
		Partitions:     mapping.Partitions,
		KnownIDs:       mapping.KnownIDs,
	})
	if err != nil {
		stage.SkipReason = "fetch failed"
		return fmt.Errorf("failed to fetch %s: %w", mapping.SourceTable, err)
	}

	stage.Fetched = len(result.Records)
	stage.Expected = result.Expected
	stage.Shortfall = result.Shortfall
	o.fetched[mapping.Entity] = result.Records

	if result.Shortfall > 0 {
		o.logger.Warn("Source returned fewer records than expected",
			zap.String("entity", string(mapping.Entity)),
			zap.Int("distinct", result.Distinct),
			zap.Int("expected", result.Expected),
			zap.Int("shortfall", result.Shortfall))
	}

	// Step 2: Candidate pool for legacy linking
	var pool *identity.Pool
	if mapping.LegacyLink {
		candidates, err := o.writer.LegacyCandidates(ctx, mapping)
		if err != nil {
			stage.SkipReason = "candidate load failed"
			return fmt.Errorf("failed to load legacy %s: %w", mapping.Entity, err)
		}
		pool = identity.NewPool(o.matcher, candidates)
		o.logger.Info("Loaded legacy candidates",
			zap.String("entity", string(mapping.Entity)),
			zap.Int("candidates", pool.Len()))
	}

	// Step 3: Records, one at a time
	for i, record := range result.Records {
		if ctx.Err() != nil {
			o.cancelRecords(ctx, stage, mapping.Entity, result.Records[i:])
			return ctx.Err()
		}

		switch {
		case mapping.LegacyLink:
			o.linkLegacy(ctx, stage, mapping, record, pool)
		case mapping.AttachmentField != "" && mapping.AttachmentColumn == "":
			o.migrateAttachments(ctx, stage, mapping, record)
		default:
			o.migrateRecord(ctx, stage, mapping, record)
		}
	}

	// Step 4: Verify what the stage claims is persisted
	if !o.writer.DryRun() {
		verification, err := o.verifier.VerifyStage(ctx, mapping, stage.Persisted())
		if err != nil {
			o.logger.Warn("Stage verification failed",
				zap.String("entity", string(mapping.Entity)),
				zap.Error(err))
		} else {
			stage.Verification = verification
		}
	}

	o.logger.Info("Stage complete",
		zap.String("entity", string(mapping.Entity)),
		zap.Int("fetched", stage.Fetched),
		zap.Int("outcomes", stage.Outcomes()))
	return nil
}

// prepare converts, cleans and collects relations for a record
func (o *Orchestrator) prepare(
	stage *StageReport,
	mapping *model.StageMapping,
	record model.SourceRecord,
) (destination.Row, []RelationValue, error) {
	attrs, err := o.typeConverter.ConvertRecord(record, mapping)
	if err != nil {
		return nil, nil, err
	}

	cleaned, ops := o.dataCleaner.CleanAttributes(mapping.Entity, record.ExternalID, attrs)
	stage.CleaningOps += len(ops)

	for _, col := range mapping.Columns {
		if col.Required && cleaned[col.Column] == nil {
			return nil, nil, fmt.Errorf("%w: required field %q is blank", converter.ErrConversion, col.Field)
		}
	}

	relations := make([]RelationValue, 0, len(mapping.Relations))
	for _, rel := range mapping.Relations {
		relations = append(relations, RelationValue{
			Mapping:   rel,
			SourceIDs: record.Strings(rel.Field),
		})
	}
	return destination.Row(cleaned), relations, nil
}

// migrateRecord writes one record. An attachment column is filled when the
// transfer succeeds; a failed transfer never blocks the row.
func (o *Orchestrator) migrateRecord(
	ctx context.Context,
	stage *StageReport,
	mapping *model.StageMapping,
	record model.SourceRecord,
) {
	externalID := record.ExternalID

	attrs, relations, err := o.prepare(stage, mapping, record)
	if err != nil {
		o.record(stage, mapping.Entity, externalID, externalID, Failed(err))
		return
	}

	if mapping.AttachmentColumn != "" && !o.writer.DryRun() {
		// Existing rows are skipped without touching their attachment
		_, found, err := o.writer.Existing(ctx, mapping.Entity, externalID)
		if err == nil && !found {
			id := uuid.New().String()
			attrs["id"] = id
			if url := o.transferFirst(ctx, stage, mapping, record, id); url != "" {
				attrs[mapping.AttachmentColumn] = url
			}
		}
	}

	o.record(stage, mapping.Entity, externalID, externalID,
		o.writer.Upsert(ctx, mapping.Entity, externalID, attrs, relations))
}

// transferFirst moves the first attachment of the record's attachment field
// and returns its public URL, or "" on failure
func (o *Orchestrator) transferFirst(
	ctx context.Context,
	stage *StageReport,
	mapping *model.StageMapping,
	record model.SourceRecord,
	entityID string,
) string {
	descriptors, err := record.Attachments(mapping.AttachmentField)
	if err != nil {
		err = fmt.Errorf("%w: %v", attachment.ErrDownloadFailed, err)
	}
	if err == nil && len(descriptors) == 0 {
		return ""
	}

	var result *attachment.Result
	if err == nil {
		result, err = o.transferAttachment(ctx, descriptors[0], entityID)
	}
	stage.RecordAttachment(record.ExternalID, result != nil && result.Reused, err)
	if err != nil {
		o.errorHandler.RecordError(NewErrorRecord(string(mapping.Entity), record.ExternalID, err))
		return ""
	}
	return result.PublicURL
}

func (o *Orchestrator) transferAttachment(
	ctx context.Context,
	desc model.AttachmentDescriptor,
	entityID string,
) (*attachment.Result, error) {
	if o.attachments == nil {
		return nil, fmt.Errorf("%w: no attachment storage configured", attachment.ErrUploadFailed)
	}
	return o.attachments.Transfer(ctx, desc, entityID)
}

// migrateAttachments writes one row per attachment of the record. Each row is
// keyed by the record id and the attachment id (or position).
func (o *Orchestrator) migrateAttachments(
	ctx context.Context,
	stage *StageReport,
	mapping *model.StageMapping,
	record model.SourceRecord,
) {
	recordID := record.ExternalID

	descriptors, err := record.Attachments(mapping.AttachmentField)
	if err == nil && len(descriptors) == 0 {
		err = fmt.Errorf("record has no %s attachments", mapping.AttachmentField)
	}
	if err != nil {
		o.record(stage, mapping.Entity, recordID, recordID,
			Failed(fmt.Errorf("%w: %v", destination.ErrValidation, err)))
		return
	}

	attrs, relations, err := o.prepare(stage, mapping, record)
	if err != nil {
		o.record(stage, mapping.Entity, recordID, recordID, Failed(err))
		return
	}

	for i, desc := range descriptors {
		key := desc.ID
		if key == "" {
			key = strconv.Itoa(i)
		}
		externalID := recordID + "/" + key

		existingID, found, err := o.writer.Existing(ctx, mapping.Entity, externalID)
		if err != nil {
			o.record(stage, mapping.Entity, recordID, externalID,
				Failed(fmt.Errorf("existence check failed: %w", err)))
			continue
		}
		if found {
			o.record(stage, mapping.Entity, recordID, externalID, SkippedExisting(existingID))
			continue
		}

		id := uuid.New().String()
		row := make(destination.Row, len(attrs)+9)
		for k, v := range attrs {
			row[k] = v
		}
		row["id"] = id
		row["filename"] = desc.Filename
		row["content_type"] = desc.ContentType
		row["byte_size"] = desc.ByteSize
		row["width"] = intOrNil(desc.Width)
		row["height"] = intOrNil(desc.Height)

		if !o.writer.DryRun() {
			result, err := o.transferAttachment(ctx, desc, id)
			stage.RecordAttachment(externalID, result != nil && result.Reused, err)
			if err != nil {
				o.record(stage, mapping.Entity, recordID, externalID, Failed(err))
				continue
			}
			row["content_type"] = result.ContentType
			row["byte_size"] = result.ByteSize
			row["fingerprint"] = result.Fingerprint
			row["public_url"] = result.PublicURL
		}

		o.record(stage, mapping.Entity, recordID, externalID,
			o.writer.Upsert(ctx, mapping.Entity, externalID, row, relations))
	}
}

func (o *Orchestrator) linkLegacy(
	ctx context.Context,
	stage *StageReport,
	mapping *model.StageMapping,
	record model.SourceRecord,
	pool *identity.Pool,
) {
	name := record.String(mapping.DisplayNameField)
	outcome := o.writer.ClaimLegacy(ctx, mapping.Entity, record.ExternalID, name, pool)
	if outcome.Status == StatusSkippedNoMatch {
		o.logger.Debug("No legacy match",
			zap.String("entity", string(mapping.Entity)),
			zap.String("externalId", record.ExternalID),
			zap.String("name", name))
	}
	o.record(stage, mapping.Entity, record.ExternalID, record.ExternalID, outcome)
}

// runLinkStage writes the join rows of one cross-entity link from the owner
// stage's records
func (o *Orchestrator) runLinkStage(ctx context.Context, report *MigrationReport, job StageJob) error {
	link := job.Link
	stage := report.StartStage(job.Entity, job.Name())

	records, ok := o.fetched[link.Owner]
	if !ok {
		stage.Skip(fmt.Sprintf("%s stage did not run", link.Owner))
		return nil
	}
	defer stage.Complete()

	type pair struct{ owner, target string }
	var pairs []pair
	for _, record := range records {
		for _, target := range record.Strings(link.Field) {
			pairs = append(pairs, pair{owner: record.ExternalID, target: target})
		}
	}
	stage.Fetched = len(pairs)

	for i, p := range pairs {
		key := p.owner + "->" + p.target
		if ctx.Err() != nil {
			cause := cancelled(ctx)
			for _, rest := range pairs[i:] {
				restKey := rest.owner + "->" + rest.target
				o.record(stage, model.EntityLink, restKey, restKey, Failed(cause))
			}
			return ctx.Err()
		}
		o.record(stage, model.EntityLink, key, key, o.writer.Link(ctx, *link, p.owner, p.target))
	}

	o.logger.Info("Link stage complete",
		zap.String("link", link.Name),
		zap.Int("pairs", len(pairs)),
		zap.Int("created", stage.Created),
		zap.Int("failed", len(stage.Failed)))
	return nil
}

// cancelRecords tallies every unprocessed record as cancelled
func (o *Orchestrator) cancelRecords(ctx context.Context, stage *StageReport, entity model.EntityType, records []model.SourceRecord) {
	cause := cancelled(ctx)
	for _, record := range records {
		o.record(stage, entity, record.ExternalID, record.ExternalID, Failed(cause))
	}
	o.logger.Warn("Stage cancelled",
		zap.String("entity", string(entity)),
		zap.Int("remaining", len(records)))
}

// record tallies an outcome and counts failures
func (o *Orchestrator) record(stage *StageReport, entity model.EntityType, sourceID, externalID string, outcome Outcome) {
	stage.Record(sourceID, externalID, outcome)
	if outcome.IsFailed() {
		o.errorHandler.RecordError(ErrorRecord{
			Kind:       outcome.Kind,
			Entity:     string(entity),
			ExternalID: externalID,
			Message:    outcome.Reason,
			Timestamp:  time.Now(),
		})
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", context.Canceled, ctx.Err())
}

func intOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
