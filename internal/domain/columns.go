package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Open-ended maps and lists are stored as JSON text so the same schema
// works on SQLite and PostgreSQL.

// StringMap is a string map stored as a JSON object.
type StringMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalText(map[string]string(m))
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *StringMap) Scan(value interface{}) error {
	*m = StringMap{}
	return unmarshalColumn(value, m, "StringMap")
}

// StringList is a string slice stored as a JSON array.
type StringList []string

// Value implements the driver.Valuer interface for database serialization.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalText([]string(l))
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *StringList) Scan(value interface{}) error {
	*l = StringList{}
	return unmarshalColumn(value, l, "StringList")
}

// HistoryMap keeps every value of every key, earliest first.
type HistoryMap map[string][]string

// Value implements the driver.Valuer interface for database serialization.
func (h HistoryMap) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	return marshalText(map[string][]string(h))
}

// Scan implements the sql.Scanner interface for database deserialization.
func (h *HistoryMap) Scan(value interface{}) error {
	*h = HistoryMap{}
	return unmarshalColumn(value, h, "HistoryMap")
}

// NumberedValue is one whitelist.N or blacklist.N entry.
type NumberedValue struct {
	N     int    `json:"n"`
	Value string `json:"value"`
}

// NumberedList is a list of numbered entries ordered by N.
type NumberedList []NumberedValue

// Value implements the driver.Valuer interface for database serialization.
func (l NumberedList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalText([]NumberedValue(l))
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *NumberedList) Scan(value interface{}) error {
	*l = NumberedList{}
	return unmarshalColumn(value, l, "NumberedList")
}

func marshalText(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalColumn decodes a TEXT/JSON column. NULL leaves dst untouched.
func unmarshalColumn(value interface{}, dst interface{}, typeName string) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan %s from %T", typeName, value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
