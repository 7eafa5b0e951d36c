// pkg/model/cleaning.go
package model

// CleaningOperation represents a single attribute cleaning operation
type CleaningOperation struct {
	Entity            EntityType  // Destination entity type
	ExternalID        string      // Source record the value came from
	ColumnName        string      // Column that was cleaned
	OriginalValue     interface{} // Original value (may be nil)
	NewValue          interface{} // Value after cleaning (nil means NULL)
	CleaningOperation string      // Type of cleaning performed (e.g., "trim_whitespace")
}
