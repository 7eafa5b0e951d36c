// pkg/model/record.go
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceRecord is an immutable snapshot of one record read from the source API
type SourceRecord struct {
	ExternalID string                 `json:"id"`
	TableName  string                 `json:"-"`
	Fields     map[string]interface{} `json:"fields"`
}

// ViewDescriptor describes one named view of a source table
type ViewDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AttachmentDescriptor describes a binary attachment embedded in a record field
type AttachmentDescriptor struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ByteSize    int64  `json:"size"`
	ContentType string `json:"type"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
}

// Value returns the raw field value and whether it was present
func (r SourceRecord) Value(field string) (interface{}, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns a field rendered as a string. Lookup fields arrive as
// single-element lists and are unwrapped.
func (r SourceRecord) String(field string) string {
	v, ok := r.Value(field)
	if !ok {
		return ""
	}
	return stringify(v)
}

// Strings returns a list field (linked record IDs, multi-selects) as strings
func (r SourceRecord) Strings(field string) []string {
	v, ok := r.Value(field)
	if !ok {
		return nil
	}

	switch typed := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		if s := stringify(typed); s != "" {
			return []string{s}
		}
		return nil
	}
}

// Attachments decodes an attachment field into descriptors. Entries without a
// URL are dropped.
func (r SourceRecord) Attachments(field string) ([]AttachmentDescriptor, error) {
	v, ok := r.Value(field)
	if !ok {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment field %s: %w", field, err)
	}

	var descriptors []AttachmentDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse attachment field %s: %w", field, err)
	}

	out := descriptors[:0]
	for _, d := range descriptors {
		if d.URL != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// Time parses a date or datetime field
func (r SourceRecord) Time(field string) (time.Time, bool) {
	s := r.String(field)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringify(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	case []interface{}:
		if len(typed) == 0 {
			return ""
		}
		return stringify(typed[0])
	case map[string]interface{}:
		// Collaborator and user fields carry a display name
		if name, ok := typed["name"].(string); ok {
			return name
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}
