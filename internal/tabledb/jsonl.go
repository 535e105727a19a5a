// Exports and imports single tables as JSON Lines.

package tabledb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// jsonlVersion is the version written in the JSONL schema header.
const jsonlVersion = "1.0"

// maxJSONLLine bounds one JSONL line, which holds a whole row.
const maxJSONLLine = 64 << 20

var errSchemaVersionRequired = errors.New("schema version is required")

// schemaHeader is the first line of a JSONL table file.
type schemaHeader struct {
	Version    string   `json:"version"`
	Name       string   `json:"name"`
	PrimaryKey string   `json:"primary_key,omitempty"`
	Columns    []Column `json:"columns"`
}

// Validate checks that the schema header is well-formed.
func (h *schemaHeader) Validate() error {
	if h.Version == "" {
		return errSchemaVersionRequired
	}
	if h.Version != jsonlVersion {
		return fmt.Errorf("unsupported schema version %q", h.Version)
	}
	if h.Name == "" {
		return errors.New("table name is required")
	}
	return validateColumns(h.Columns)
}

// jsonlRow is every line after the header.
type jsonlRow struct {
	Key    Key               `json:"key"`
	Values []json.RawMessage `json:"values"`
}

// WriteJSONL writes the table to w: a schema header line followed by one line
// per row in ascending key order.
//
// JSON strings cannot hold invalid UTF-8, so names, keys and text values that
// are not valid UTF-8 fail with ErrEncode before anything is written.
func (t *Table) WriteJSONL(w io.Writer) error {
	if err := t.checkUTF8(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	h := schemaHeader{Version: jsonlVersion, Name: t.name, PrimaryKey: t.primaryKey, Columns: t.columns}
	if err := enc.Encode(&h); err != nil {
		return fmt.Errorf("failed to write schema header: %w", err)
	}
	var err error
	t.rows.Traverse(func(k Key, r Row) {
		if err != nil {
			return
		}
		line := jsonlRow{Key: k, Values: make([]json.RawMessage, len(r.Values))}
		for i, v := range r.Values {
			if line.Values[i], err = marshalValue(v); err != nil {
				err = fmt.Errorf("row %s: %w", k, err)
				return
			}
		}
		if e := enc.Encode(&line); e != nil {
			err = fmt.Errorf("failed to write row %s: %w", k, e)
		}
	})
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (t *Table) checkUTF8() error {
	if !utf8.ValidString(t.name) || !utf8.ValidString(t.primaryKey) {
		return fmt.Errorf("%w: table name %q is not valid UTF-8", ErrEncode, t.name)
	}
	for _, c := range t.columns {
		if !utf8.ValidString(c.Name) {
			return fmt.Errorf("%w: column name %q is not valid UTF-8", ErrEncode, c.Name)
		}
	}
	var err error
	t.rows.Traverse(func(k Key, r Row) {
		if err != nil {
			return
		}
		if !utf8.ValidString(string(k)) {
			err = fmt.Errorf("%w: key %q is not valid UTF-8", ErrEncode, k)
			return
		}
		for i, v := range r.Values {
			if v.kind == KindText && !utf8.ValidString(v.s) {
				err = fmt.Errorf("%w: row %q column %s is not valid UTF-8", ErrEncode, k, t.columns[i].Name)
				return
			}
		}
	})
	return err
}

// ReadJSONL reads a table written by WriteJSONL.
//
// Rows are validated against the header schema; duplicate keys are rejected.
func ReadJSONL(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)
	var t *Table
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if t == nil {
			var h schemaHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return nil, fmt.Errorf("failed to unmarshal schema header: %w", err)
			}
			if err := h.Validate(); err != nil {
				return nil, fmt.Errorf("invalid schema header: %w", err)
			}
			t = NewTable(h.Name, h.Columns, h.PrimaryKey)
			continue
		}
		var row jsonlRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal row: %w", lineNo, err)
		}
		if len(row.Values) != len(t.columns) {
			return nil, fmt.Errorf("line %d: %w: expected %d values, got %d", lineNo, ErrArityMismatch, len(t.columns), len(row.Values))
		}
		values := make([]Value, len(row.Values))
		for i, raw := range row.Values {
			v, err := unmarshalValue(t.columns[i].Type, raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", lineNo, t.columns[i].Name, err)
			}
			values[i] = v
		}
		if err := t.Insert(row.Key, values); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	if t == nil {
		return nil, errors.New("missing schema header")
	}
	return t, nil
}

// marshalValue encodes v as JSON. Blobs become base64 strings; non-finite
// floats become the strings "NaN", "+Inf" and "-Inf".
func marshalValue(v Value) (json.RawMessage, error) {
	switch v.kind {
	case KindNull:
		return json.RawMessage("null"), nil
	case KindInteger:
		return json.Marshal(v.i)
	case KindFloat:
		switch {
		case math.IsNaN(v.f):
			return json.RawMessage(`"NaN"`), nil
		case math.IsInf(v.f, 1):
			return json.RawMessage(`"+Inf"`), nil
		case math.IsInf(v.f, -1):
			return json.RawMessage(`"-Inf"`), nil
		}
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindBoolean:
		return json.Marshal(v.i != 0)
	case KindBlob:
		return json.Marshal(v.b)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// unmarshalValue decodes raw as a value of column type t.
func unmarshalValue(t ColumnType, raw json.RawMessage) (Value, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Null(), nil
	}
	var err error
	switch t {
	case ColumnTypeInteger:
		var i int64
		if err = json.Unmarshal(raw, &i); err == nil {
			return Integer(i), nil
		}
	case ColumnTypeFloat:
		var f float64
		if err = json.Unmarshal(raw, &f); err == nil {
			return Float(f), nil
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			switch s {
			case "NaN":
				return Float(math.NaN()), nil
			case "+Inf":
				return Float(math.Inf(1)), nil
			case "-Inf":
				return Float(math.Inf(-1)), nil
			}
		}
	case ColumnTypeText:
		var s string
		if err = json.Unmarshal(raw, &s); err == nil {
			return Text(s), nil
		}
	case ColumnTypeBoolean:
		var b bool
		if err = json.Unmarshal(raw, &b); err == nil {
			return Boolean(b), nil
		}
	case ColumnTypeBlob:
		var b []byte
		if err = json.Unmarshal(raw, &b); err == nil {
			return Blob(b), nil
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown column type %d", ErrInvalidSchema, uint8(t))
	}
	return Value{}, fmt.Errorf("%w: %s is not %s: %w", ErrTypeMismatch, raw, t, err)
}
