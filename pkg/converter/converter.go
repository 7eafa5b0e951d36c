// pkg/converter/converter.go
package converter

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// ErrConversion marks a record whose fields cannot be mapped onto its columns
var ErrConversion = errors.New("field conversion failed")

// TypeConverter converts source field values into destination column values
type TypeConverter struct {
	logger *zap.Logger
	// Configuration options
	config TypeConverterConfig
}

// TypeConverterConfig provides configuration options for type conversion
type TypeConverterConfig struct {
	// Timezone applied to dates without an offset
	DefaultTimezone *time.Location
	// Whether to treat empty strings as NULL
	EmptyStringAsNull bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() TypeConverterConfig {
	return TypeConverterConfig{
		DefaultTimezone:   time.UTC,
		EmptyStringAsNull: true,
	}
}

// NewTypeConverter creates a new TypeConverter with default configuration
func NewTypeConverter(logger *zap.Logger) *TypeConverter {
	return NewTypeConverterWithConfig(logger, DefaultConfig())
}

// NewTypeConverterWithConfig creates a TypeConverter with custom configuration
func NewTypeConverterWithConfig(logger *zap.Logger, config TypeConverterConfig) *TypeConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTimezone == nil {
		config.DefaultTimezone = time.UTC
	}
	return &TypeConverter{
		logger: logger,
		config: config,
	}
}

// ConvertRecord maps the record's fields onto destination columns. A required
// column that converts to NULL is an error.
func (c *TypeConverter) ConvertRecord(record model.SourceRecord, mapping *model.StageMapping) (map[string]interface{}, error) {
	attrs := make(map[string]interface{}, len(mapping.Columns))

	for _, col := range mapping.Columns {
		raw, _ := record.Value(col.Field)

		value, err := c.ConvertValue(raw, col.Kind, col.Column)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrConversion, col.Field, err)
		}

		if value == nil && col.Required {
			return nil, fmt.Errorf("%w: required field %q is empty", ErrConversion, col.Field)
		}
		attrs[col.Column] = value
	}

	return attrs, nil
}
