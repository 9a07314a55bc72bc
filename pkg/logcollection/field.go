package logcollection

import (
	"fmt"
	"time"
)

// LogField represents a structured log field, independent of any backend
type LogField struct {
	Key   string
	Value interface{}
	Type  FieldType
}

// FieldType identifies how the field should be encoded
type FieldType int

const (
	StringField FieldType = iota
	IntField
	Int64Field
	BoolField
	DurationField
	TimeField
	ErrorField
	ObjectField
)

func (ft FieldType) String() string {
	switch ft {
	case StringField:
		return "string"
	case IntField:
		return "int"
	case Int64Field:
		return "int64"
	case BoolField:
		return "bool"
	case DurationField:
		return "duration"
	case TimeField:
		return "time"
	case ErrorField:
		return "error"
	case ObjectField:
		return "object"
	default:
		return "unknown"
	}
}

func String(key, value string) LogField {
	return LogField{Key: key, Value: value, Type: StringField}
}

func Int(key string, value int) LogField {
	return LogField{Key: key, Value: value, Type: IntField}
}

func Int64(key string, value int64) LogField {
	return LogField{Key: key, Value: value, Type: Int64Field}
}

func Bool(key string, value bool) LogField {
	return LogField{Key: key, Value: value, Type: BoolField}
}

func Duration(key string, value time.Duration) LogField {
	return LogField{Key: key, Value: value, Type: DurationField}
}

func Time(key string, value time.Time) LogField {
	return LogField{Key: key, Value: value, Type: TimeField}
}

// Error creates an error field keyed "error"
func Error(err error) LogField {
	return LogField{Key: "error", Value: err, Type: ErrorField}
}

func Object(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value, Type: ObjectField}
}

// App creates an app_id field
func App(appID string) LogField {
	return String("app_id", appID)
}

// Stream creates a stream field
func Stream(stream StreamType) LogField {
	return String("stream", string(stream))
}

// LineNum creates a line_num field
func LineNum(n int64) LogField {
	return Int64("line_num", n)
}

// Component creates a component field
func Component(component string) LogField {
	return String("component", component)
}

// PID creates a process ID field
func PID(pid int) LogField {
	return Int("pid", pid)
}

// ToMap converts a slice of LogFields to a map
func ToMap(fields []LogField) map[string]interface{} {
	result := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		result[field.Key] = field.Value
	}
	return result
}

func (f LogField) String() string {
	return fmt.Sprintf("%s=%v", f.Key, f.Value)
}

func formatFields(fields []LogField) string {
	if len(fields) == 0 {
		return ""
	}
	result := " ["
	for i, field := range fields {
		if i > 0 {
			result += " "
		}
		result += field.String()
	}
	return result + "]"
}
