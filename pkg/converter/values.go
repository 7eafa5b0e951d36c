// pkg/converter/values.go
package converter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// ConvertValue converts a decoded JSON field value to the column kind
func (c *TypeConverter) ConvertValue(value interface{}, kind model.ColumnKind, colName string) (interface{}, error) {
	// Handle NULL values
	if isNull(value) {
		return nil, nil
	}

	switch kind {
	case model.KindText, "":
		return c.convertToText(value)

	case model.KindInteger, model.KindFloat:
		return c.convertToNumeric(value, kind)

	case model.KindBoolean:
		return c.convertToBoolean(value)

	case model.KindTimestamp:
		return c.convertToTimestamp(value)

	case model.KindJSON:
		return c.convertToJSON(value)

	default:
		// Default to string conversion for unknown kinds
		c.logger.Warn("Unknown column kind, storing as text",
			zap.String("column", colName),
			zap.String("kind", string(kind)))
		strVal, err := c.convertToText(value)
		if err != nil {
			return nil, fmt.Errorf("fallback string conversion failed for %s: %w", colName, err)
		}
		return strVal, nil
	}
}

// isNull determines if a value should be treated as NULL
func isNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case []interface{}:
		return len(v) == 0
	}
	return false
}

// convertToText converts a value to text. Single-element lists (lookup
// fields) are unwrapped; longer lists are joined with ", ".
func (c *TypeConverter) convertToText(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" && c.config.EmptyStringAsNull {
			return nil, nil
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			text, err := c.convertToText(item)
			if err != nil {
				return nil, err
			}
			if s, ok := text.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return strings.Join(parts, ", "), nil
	case map[string]interface{}:
		if name, ok := v["name"].(string); ok {
			return name, nil
		}
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal object: %w", err)
		}
		return string(jsonBytes), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// convertToNumeric converts a value to int64 or float64
func (c *TypeConverter) convertToNumeric(value interface{}, kind model.ColumnKind) (interface{}, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot convert '%s' to numeric", v)
		}
		f = parsed
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert string '%s' to numeric", v)
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	case []interface{}:
		return c.convertToNumeric(v[0], kind)
	default:
		return nil, fmt.Errorf("cannot convert %T to numeric", value)
	}

	if kind == model.KindInteger {
		return int64(f), nil
	}
	return f, nil
}

// convertToBoolean converts a value to boolean
func (c *TypeConverter) convertToBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		// 0.0 is false, anything else is true
		return v != 0.0, nil
	case string:
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "true", "t", "yes", "y", "1", "on", "checked":
			return true, nil
		case "false", "f", "no", "n", "0", "off", "":
			return false, nil
		default:
			return nil, fmt.Errorf("cannot convert string '%s' to boolean", v)
		}
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

// timestampLayouts are tried in order for string timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006",
	"1/2/2006 3:04pm",
	time.RFC1123,
	time.RFC1123Z,
}

// convertToTimestamp converts a value to a UTC time
func (c *TypeConverter) convertToTimestamp(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}

		for _, layout := range timestampLayouts {
			parsedTime, err := time.ParseInLocation(layout, trimmed, c.config.DefaultTimezone)
			if err == nil {
				return parsedTime.UTC(), nil
			}
		}

		return nil, fmt.Errorf("cannot parse '%s' as timestamp", v)

	case float64:
		// Unix timestamp with possible fractional seconds
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to timestamp", value)
	}
}

// convertToJSON renders complex values as JSON text
func (c *TypeConverter) convertToJSON(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		// Check if already valid JSON
		var js interface{}
		if err := json.Unmarshal([]byte(s), &js); err == nil {
			return s, nil
		}
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(jsonBytes), nil
}
