package tabledb

import (
	"fmt"
	"slices"

	"github.com/maruel/kvtab/internal/ordered"
)

// Table enforces a fixed column schema and key uniqueness over rows kept in
// ascending key order.
//
// Reads return copies; callers cannot alter stored rows except through
// Insert, Update and Delete.
type Table struct {
	name       string
	columns    []Column
	primaryKey string
	rows       *ordered.Map[Key, Row]
}

// NewTable returns an empty table.
//
// primaryKey names a column for the caller's benefit only; it is not checked
// against the keys rows are stored under. Use "" for none. Columns are not
// validated here; [Database.CreateTable] does that.
func NewTable(name string, columns []Column, primaryKey string) *Table {
	return &Table{
		name:       name,
		columns:    slices.Clone(columns),
		primaryKey: primaryKey,
		rows:       ordered.New[Key, Row](),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns a copy of the column list.
func (t *Table) Columns() []Column { return slices.Clone(t.columns) }

// PrimaryKey returns the declared primary key column name, or "".
func (t *Table) PrimaryKey() string { return t.primaryKey }

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	return slices.IndexFunc(t.columns, func(c Column) bool { return c.Name == name })
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows.Len() }

// IsEmpty reports whether the table holds no rows.
func (t *Table) IsEmpty() bool { return t.rows.IsEmpty() }

// Insert stores a new row at key.
//
// It fails with ErrKeyExists when key is already present, leaving the stored
// row untouched, then checks the values against the schema.
func (t *Table) Insert(key Key, values []Value) error {
	if _, ok := t.rows.Search(key); ok {
		return fmt.Errorf("%w: %s/%s", ErrKeyExists, t.name, key)
	}
	if err := t.validate(values); err != nil {
		return err
	}
	t.rows.Insert(key, NewRow(values...))
	return nil
}

// Update replaces the whole row stored at key.
func (t *Table) Update(key Key, values []Value) error {
	row, ok := t.rows.GetMut(key)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, t.name, key)
	}
	if err := t.validate(values); err != nil {
		return err
	}
	*row = NewRow(values...)
	return nil
}

// Delete removes the row stored at key.
func (t *Table) Delete(key Key) error {
	if _, ok := t.rows.Remove(key); !ok {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, t.name, key)
	}
	return nil
}

// Get returns a copy of the row stored at key.
func (t *Table) Get(key Key) (Row, error) {
	row, ok := t.rows.Search(key)
	if !ok {
		return Row{}, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, t.name, key)
	}
	return row.Clone(), nil
}

// GetAsMap returns the row stored at key keyed by column name.
func (t *Table) GetAsMap(key Key) (map[string]Value, error) {
	row, ok := t.rows.Search(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, t.name, key)
	}
	m := make(map[string]Value, len(t.columns))
	for i, col := range t.columns {
		if i < len(row.Values) {
			m[col.Name] = row.Values[i].Clone()
		}
	}
	return m, nil
}

// GetAll returns a snapshot of every row in ascending key order.
func (t *Table) GetAll() []Entry {
	return t.Find(func(Row) bool { return true })
}

// Find returns a snapshot of the rows matching pred in ascending key order.
//
// pred receives a copy and may not retain a reference to the stored row.
func (t *Table) Find(pred func(Row) bool) []Entry {
	var out []Entry
	t.rows.Traverse(func(k Key, r Row) {
		c := r.Clone()
		if pred(c) {
			out = append(out, Entry{Key: k, Row: c})
		}
	})
	return out
}

// validate checks arity, then each value's type in column order.
func (t *Table) validate(values []Value) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: table %s expects %d values, got %d", ErrArityMismatch, t.name, len(t.columns), len(values))
	}
	for i, v := range values {
		col := t.columns[i]
		if !col.Type.Accepts(v) {
			return fmt.Errorf("%w: column %d (%s) is %s, got %s", ErrTypeMismatch, i, col.Name, col.Type, v.Kind())
		}
	}
	return nil
}

// put stores row at key without validation. Used by decoders that already
// checked the row and by rollback.
func (t *Table) put(key Key, row Row) {
	t.rows.Insert(key, row)
}
