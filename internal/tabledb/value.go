// Defines the tagged Value union stored in rows.

package tabledb

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// The values match the ColumnType constants so that a non-null Kind converts
// directly to the column type it satisfies.
const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
	KindBlob
)

func (k Kind) String() string {
	if k == KindNull {
		return "null"
	}
	return ColumnType(k).String()
}

// Value is one cell of a row: Null, Integer, Float, Text, Boolean or Blob.
//
// The zero Value is Null. Values are compared by variant and content; there is
// no implicit conversion between variants.
type Value struct {
	kind Kind
	i    int64 // Integer, Boolean (0 or 1)
	f    float64
	s    string
	b    []byte
}

// Null returns the Null value.
func Null() Value { return Value{} }

// Integer returns an Integer value.
func Integer(v int64) Value { return Value{kind: KindInteger, i: v} }

// Float returns a Float value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Text returns a Text value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Boolean returns a Boolean value.
func Boolean(v bool) Value {
	if v {
		return Value{kind: KindBoolean, i: 1}
	}
	return Value{kind: KindBoolean}
}

// Blob returns a Blob value holding a copy of v.
//
// A nil slice yields an empty blob, not Null.
func Blob(v []byte) Value {
	return Value{kind: KindBlob, b: append([]byte{}, v...)}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsInteger returns the integer held by v.
func (v Value) AsInteger() (int64, bool) { return v.i, v.kind == KindInteger }

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsText returns the string held by v.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsBoolean returns the boolean held by v.
func (v Value) AsBoolean() (bool, bool) { return v.i != 0, v.kind == KindBoolean }

// AsBlob returns a copy of the bytes held by v.
func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return bytes.Clone(v.b), true
}

// Equal reports whether v and o hold the same variant and content.
//
// Floats compare by bit pattern so that NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger, KindBoolean:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	}
	return false
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.kind == KindBlob {
		v.b = append([]byte{}, v.b...)
	}
	return v
}

// String returns a human readable form of v.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	case KindBoolean:
		return strconv.FormatBool(v.i != 0)
	case KindBlob:
		return fmt.Sprintf("<BLOB: %d bytes>", len(v.b))
	default:
		return "NULL"
	}
}

// ParseValue parses s as a value of column type t.
//
// "NULL" (any case) is Null for every type. Blobs are standard base64.
func ParseValue(t ColumnType, s string) (Value, error) {
	if strings.EqualFold(s, "null") {
		return Null(), nil
	}
	switch t {
	case ColumnTypeInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, s)
		}
		return Integer(i), nil
	case ColumnTypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrTypeMismatch, s)
		}
		return Float(f), nil
	case ColumnTypeText:
		return Text(s), nil
	case ColumnTypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, s)
		}
		return Boolean(b), nil
	case ColumnTypeBlob:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: blob is not base64: %w", ErrTypeMismatch, err)
		}
		return Blob(b), nil
	}
	return Value{}, fmt.Errorf("%w: unknown column type %d", ErrInvalidSchema, t)
}
