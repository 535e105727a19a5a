// Handles column definitions and schema validation.

package tabledb

import (
	"fmt"
	"strings"
)

// ColumnType is the declared type of a column.
type ColumnType uint8

const (
	// ColumnTypeInteger stores 64-bit signed integers.
	ColumnTypeInteger ColumnType = ColumnType(KindInteger)
	// ColumnTypeFloat stores 64-bit IEEE floats.
	ColumnTypeFloat ColumnType = ColumnType(KindFloat)
	// ColumnTypeText stores UTF-8 strings.
	ColumnTypeText ColumnType = ColumnType(KindText)
	// ColumnTypeBoolean stores booleans.
	ColumnTypeBoolean ColumnType = ColumnType(KindBoolean)
	// ColumnTypeBlob stores raw bytes.
	ColumnTypeBlob ColumnType = ColumnType(KindBlob)
)

var columnTypeNames = map[ColumnType]string{
	ColumnTypeInteger: "integer",
	ColumnTypeFloat:   "float",
	ColumnTypeText:    "text",
	ColumnTypeBoolean: "boolean",
	ColumnTypeBlob:    "blob",
}

var columnTypeAliases = map[string]ColumnType{
	"integer": ColumnTypeInteger,
	"int":     ColumnTypeInteger,
	"float":   ColumnTypeFloat,
	"real":    ColumnTypeFloat,
	"text":    ColumnTypeText,
	"string":  ColumnTypeText,
	"boolean": ColumnTypeBoolean,
	"bool":    ColumnTypeBoolean,
	"blob":    ColumnTypeBlob,
	"bytes":   ColumnTypeBlob,
}

func (t ColumnType) String() string {
	if s, ok := columnTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ColumnType(%d)", uint8(t))
}

// Valid reports whether t is one of the defined column types.
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

// Accepts reports whether v may be stored in a column of type t.
//
// Null is accepted by every type.
func (t ColumnType) Accepts(v Value) bool {
	return v.kind == KindNull || Kind(t) == v.kind
}

// ParseColumnType parses a column type name, case-insensitive.
func ParseColumnType(s string) (ColumnType, error) {
	if t, ok := columnTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: unknown column type %q", ErrInvalidSchema, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ColumnType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown column type %d", ErrInvalidSchema, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(b []byte) error {
	v, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Column is a named, typed schema entry.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// NewColumn returns a Column.
func NewColumn(name string, t ColumnType) Column {
	return Column{Name: name, Type: t}
}

func (c Column) String() string {
	return c.Name + ":" + c.Type.String()
}

// validateColumns checks that columns form a usable schema: at least one
// column, non-empty unique names and known types.
func validateColumns(columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidSchema)
	}
	seen := make(map[string]struct{}, len(columns))
	for i, col := range columns {
		if col.Name == "" {
			return fmt.Errorf("%w: column %d: name is required", ErrInvalidSchema, i)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("%w: column %d (%s): unknown type %d", ErrInvalidSchema, i, col.Name, uint8(col.Type))
		}
		if _, ok := seen[col.Name]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}
