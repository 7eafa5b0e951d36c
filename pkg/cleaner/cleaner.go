// pkg/cleaner/cleaner.go
package cleaner

import (
	"sort"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// DataCleaner sanitises converted attributes before they are written
type DataCleaner struct {
	logger *zap.Logger
}

// NewDataCleaner creates a new DataCleaner instance
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataCleaner{logger: logger}
}

// CleanAttributes returns a cleaned copy of attrs and the operations performed.
// The input map is not modified.
func (c *DataCleaner) CleanAttributes(
	entity model.EntityType,
	externalID string,
	attrs map[string]interface{},
) (map[string]interface{}, []model.CleaningOperation) {
	cleaned := make(map[string]interface{}, len(attrs))
	var operations []model.CleaningOperation

	// Walk columns in a stable order so operation lists are reproducible
	columns := make([]string, 0, len(attrs))
	for col := range attrs {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		value := attrs[col]
		s, ok := value.(string)
		if !ok {
			cleaned[col] = value
			continue
		}

		newValue, ops := cleanString(s)
		for _, op := range ops {
			operations = append(operations, model.CleaningOperation{
				Entity:            entity,
				ExternalID:        externalID,
				ColumnName:        col,
				OriginalValue:     s,
				NewValue:          newValue,
				CleaningOperation: op,
			})
		}
		cleaned[col] = newValue
	}

	if len(operations) > 0 {
		c.logger.Debug("Cleaned attributes",
			zap.String("entity", string(entity)),
			zap.String("externalId", externalID),
			zap.Int("operations", len(operations)))
	}

	return cleaned, operations
}
