package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/attachment"
	"github.com/David-Botos/story-ingress/pkg/converter"
	"github.com/David-Botos/story-ingress/pkg/destination"
	"github.com/David-Botos/story-ingress/pkg/source"
)

// ErrDependencyMissing marks a record whose relation target has not been
// migrated
var ErrDependencyMissing = errors.New("dependency missing")

// FailureKind classifies why a record failed
type FailureKind string

const (
	KindTransientNetwork           FailureKind = "TransientNetworkError"
	KindFatalSource                FailureKind = "FatalSourceError"
	KindAttachmentTooLarge         FailureKind = "AttachmentTooLarge"
	KindAttachmentDownloadFailed   FailureKind = "AttachmentDownloadFailed"
	KindAttachmentUploadFailed     FailureKind = "AttachmentUploadFailed"
	KindDestinationValidation      FailureKind = "DestinationValidationError"
	KindDestinationUniqueViolation FailureKind = "DestinationUniqueViolation"
	KindDependencyMissing          FailureKind = "DependencyMissing"
	KindCancelled                  FailureKind = "Cancelled"
	KindUnknown                    FailureKind = "Unknown"
)

// KindOf maps an error onto the failure taxonomy
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrDependencyMissing), errors.Is(err, destination.ErrForeignKeyViolation):
		return KindDependencyMissing
	case errors.Is(err, attachment.ErrTooLarge):
		return KindAttachmentTooLarge
	case errors.Is(err, attachment.ErrDownloadFailed):
		return KindAttachmentDownloadFailed
	case errors.Is(err, attachment.ErrUploadFailed):
		return KindAttachmentUploadFailed
	case errors.Is(err, destination.ErrUniqueViolation):
		return KindDestinationUniqueViolation
	case errors.Is(err, destination.ErrValidation), errors.Is(err, converter.ErrConversion):
		return KindDestinationValidation
	case errors.Is(err, source.ErrFatal):
		return KindFatalSource
	case errors.Is(err, source.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransientNetwork
	default:
		return KindUnknown
	}
}

// ErrorRecord represents a single failed record
type ErrorRecord struct {
	Kind       FailureKind
	Entity     string
	ExternalID string
	Message    string
	Timestamp  time.Time
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(entity, externalID string, err error) ErrorRecord {
	record := ErrorRecord{
		Kind:       KindOf(err),
		Entity:     entity,
		ExternalID: externalID,
		Timestamp:  time.Now(),
	}
	if err != nil {
		record.Message = err.Error()
	}
	return record
}

// String returns a formatted error message
func (r ErrorRecord) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", r.Kind, r.Entity, r.ExternalID, r.Message)
}

// ErrorHandler counts record failures across a run and decides when the run
// is unhealthy enough to report as failed
type ErrorHandler struct {
	logger       *zap.Logger
	threshold    int
	errorCounts  map[FailureKind]int
	sampleErrors map[FailureKind][]ErrorRecord
	entityErrors map[string]int
	failed       map[string]struct{}
	mu           sync.Mutex
	maxSamples   int
}

// NewErrorHandler creates a new error handler. A negative threshold disables
// the threshold check.
func NewErrorHandler(logger *zap.Logger, threshold int) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:       logger,
		threshold:    threshold,
		errorCounts:  make(map[FailureKind]int),
		sampleErrors: make(map[FailureKind][]ErrorRecord),
		entityErrors: make(map[string]int),
		failed:       make(map[string]struct{}),
		maxSamples:   5, // Store up to 5 sample errors per kind
	}
}

// RecordError saves an error occurrence
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.errorCounts[record.Kind]++

	key := record.Entity + "/" + record.ExternalID
	if _, seen := eh.failed[key]; !seen {
		eh.failed[key] = struct{}{}
		eh.entityErrors[record.Entity]++
	}

	if len(eh.sampleErrors[record.Kind]) < eh.maxSamples {
		eh.sampleErrors[record.Kind] = append(eh.sampleErrors[record.Kind], record)
	}

	eh.logger.Warn("Record failed",
		zap.String("entity", record.Entity),
		zap.String("externalId", record.ExternalID),
		zap.String("kind", string(record.Kind)),
		zap.String("error", record.Message))
}

// FailureCount returns the number of distinct failed records. A record
// reported more than once, such as an attachment failure followed by a write
// failure, counts once.
func (eh *ErrorHandler) FailureCount() int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	return len(eh.failed)
}

// GetErrorSummary returns error counts by kind; every reported error is counted
func (eh *ErrorHandler) GetErrorSummary() map[FailureKind]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[FailureKind]int, len(eh.errorCounts))
	for kind, n := range eh.errorCounts {
		summary[kind] = n
	}
	return summary
}

// GetErrorSamples returns sample errors for each kind
func (eh *ErrorHandler) GetErrorSamples() map[FailureKind][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[FailureKind][]ErrorRecord, len(eh.sampleErrors))
	for kind, records := range eh.sampleErrors {
		samples[kind] = append([]ErrorRecord(nil), records...)
	}
	return samples
}

// GetEntityErrorCounts returns distinct failed records by entity type
func (eh *ErrorHandler) GetEntityErrorCounts() map[string]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	counts := make(map[string]int, len(eh.entityErrors))
	for entity, n := range eh.entityErrors {
		counts[entity] = n
	}
	return counts
}

// IsErrorThresholdExceeded reports whether failures exceed the configured threshold
func (eh *ErrorHandler) IsErrorThresholdExceeded() bool {
	if eh.threshold < 0 {
		return false
	}
	return eh.FailureCount() > eh.threshold
}

// LogSummary logs failure counts by kind in a stable order
func (eh *ErrorHandler) LogSummary() {
	summary := eh.GetErrorSummary()

	kinds := make([]string, 0, len(summary))
	for kind := range summary {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		eh.logger.Info("Failure summary",
			zap.String("kind", kind),
			zap.Int("count", summary[FailureKind(kind)]))
	}
}
