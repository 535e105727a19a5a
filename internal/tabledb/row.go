package tabledb

import (
	"strings"

	"github.com/maruel/ksid"
)

// Key identifies a row within a table. Keys order byte-wise.
type Key string

// NewKey returns a new unique key.
//
// Keys generated by one process sort in creation order.
func NewKey() Key {
	return Key(ksid.NewID().String())
}

func (k Key) String() string { return string(k) }

// Row is a positional sequence of values aligned with a table's columns.
type Row struct {
	Values []Value
}

// NewRow returns a Row holding copies of values.
func NewRow(values ...Value) Row {
	r := Row{Values: make([]Value, len(values))}
	for i, v := range values {
		r.Values[i] = v.Clone()
	}
	return r
}

// Len returns the number of values.
func (r Row) Len() int { return len(r.Values) }

// Clone returns a deep copy of r.
func (r Row) Clone() Row {
	return NewRow(r.Values...)
}

// Equal reports whether r and o hold equal values in the same positions.
func (r Row) Equal(o Row) bool {
	if len(r.Values) != len(o.Values) {
		return false
	}
	for i := range r.Values {
		if !r.Values[i].Equal(o.Values[i]) {
			return false
		}
	}
	return true
}

func (r Row) String() string {
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Entry is a key and its row, as returned by snapshot queries.
type Entry struct {
	Key Key
	Row Row
}
