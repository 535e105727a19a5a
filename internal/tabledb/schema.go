// Derives table schemas and row values from Go struct types.

package tabledb

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// SchemaFromType returns the columns describing struct type T, in field
// order.
//
// Column names are the JSON property names produced by
// github.com/invopop/jsonschema, so `json:"name"` tags rename columns and
// `json:"-"` hides fields. Integer kinds map to Integer, floats to Float,
// string to Text, bool to Boolean and []byte to Blob. Pointer fields map like
// their element type and store Null when nil. Other field types are rejected.
func SchemaFromType[T any]() ([]Column, error) {
	structType, err := structTypeOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	// Generate JSON Schema from type with inline properties (no $ref).
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(structType)

	if schema.Properties == nil {
		return nil, fmt.Errorf("%w: %s has no exported fields", ErrInvalidSchema, structType)
	}
	fields := fieldsByJSONName(structType)
	var columns []Column
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		field, ok := fields[pair.Key]
		if !ok {
			return nil, fmt.Errorf("%w: property %q has no matching field", ErrInvalidSchema, pair.Key)
		}
		colType, err := goTypeToColumnType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		columns = append(columns, Column{Name: pair.Key, Type: colType})
	}
	if err := validateColumns(columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// StructValues returns the values of struct v positionally aligned with
// columns, matching fields by JSON name. v may be a struct or a pointer to
// one.
func StructValues(v any, columns []Column) ([]Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil struct pointer", ErrInvalidSchema)
		}
		rv = rv.Elem()
	}
	structType, err := structTypeOf(rv.Type())
	if err != nil {
		return nil, err
	}
	fields := fieldsByJSONName(structType)
	values := make([]Value, len(columns))
	for i, col := range columns {
		field, ok := fields[col.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no field for column %s", ErrInvalidSchema, col.Name)
		}
		val, err := goValue(rv.FieldByIndex(field.Index), col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values[i] = val
	}
	return values, nil
}

// CreateTableFor creates a table whose columns are derived from T.
func CreateTableFor[T any](db *Database, name, primaryKey string) error {
	columns, err := SchemaFromType[T]()
	if err != nil {
		return err
	}
	return db.CreateTable(name, columns, primaryKey)
}

func structTypeOf(t reflect.Type) (reflect.Type, error) {
	switch t.Kind() {
	case reflect.Pointer:
		if t.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: type must be a struct or pointer to struct, got %s", ErrInvalidSchema, t.Kind())
		}
		return t.Elem(), nil
	case reflect.Struct:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: type must be a struct or pointer to struct, got %s", ErrInvalidSchema, t.Kind())
	}
}

// fieldsByJSONName maps JSON property names to exported fields, following
// embedded structs the way encoding/json does.
func fieldsByJSONName(t reflect.Type) map[string]reflect.StructField {
	out := make(map[string]reflect.StructField)
	for _, field := range reflect.VisibleFields(t) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name := jsonFieldName(&field)
		if name == "-" {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = field
		}
	}
	return out
}

// jsonFieldName returns the JSON field name for a struct field, or "-" when
// the field is skipped.
func jsonFieldName(field *reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "-"
	}
	if tag == "" {
		return field.Name
	}
	// Handle "name,omitempty" format
	for i, c := range tag {
		if c == ',' {
			if i == 0 {
				return field.Name // ",omitempty" - no name specified, use Go field name
			}
			return tag[:i]
		}
	}
	return tag
}

// goTypeToColumnType maps Go types to column types.
func goTypeToColumnType(t reflect.Type) (ColumnType, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return ColumnTypeBlob, nil
	}
	switch t.Kind() { //nolint:exhaustive // everything else is unsupported
	case reflect.String:
		return ColumnTypeText, nil
	case reflect.Bool:
		return ColumnTypeBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return ColumnTypeInteger, nil
	case reflect.Float32, reflect.Float64:
		return ColumnTypeFloat, nil
	}
	return 0, fmt.Errorf("%w: unsupported field type %s", ErrInvalidSchema, t)
}

func goValue(v reflect.Value, t ColumnType) (Value, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Null(), nil
		}
		v = v.Elem()
	}
	var out Value
	switch v.Kind() { //nolint:exhaustive // everything else is unsupported
	case reflect.String:
		out = Text(v.String())
	case reflect.Bool:
		out = Boolean(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out = Integer(v.Int())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		out = Integer(int64(v.Uint())) //nolint:gosec // G115: at most 32 bits
	case reflect.Float32, reflect.Float64:
		out = Float(v.Float())
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return Value{}, fmt.Errorf("%w: unsupported field type %s", ErrInvalidSchema, v.Type())
		}
		out = Blob(v.Bytes())
	default:
		return Value{}, fmt.Errorf("%w: unsupported field type %s", ErrInvalidSchema, v.Type())
	}
	if !t.Accepts(out) {
		return Value{}, fmt.Errorf("%w: field holds %s, column is %s", ErrTypeMismatch, out.Kind(), t)
	}
	return out, nil
}
