package tabledb

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maruel/kvtab/internal/ordered"
)

// Options configures a Database. The zero value and nil are valid.
type Options struct {
	// Codec encodes the database file. Defaults to BinaryCodec{}.
	Codec Codec
	// Logger receives debug and warning messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// Database is a named collection of tables persisted as one file.
type Database struct {
	path      string
	tables    *ordered.Map[string, *Table]
	codec     Codec
	log       *slog.Logger
	observers []Observer
}

// New returns an empty database bound to path. It performs no I/O.
func New(path string, opts *Options) *Database {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Codec == nil {
		o.Codec = BinaryCodec{}
	}
	return &Database{
		path:   path,
		tables: ordered.New[string, *Table](),
		codec:  o.Codec,
		log:    cmp.Or(o.Logger, slog.Default()),
	}
}

// Open loads the database stored at path.
//
// A missing file yields an error matching fs.ErrNotExist; undecodable content
// yields an error matching ErrDecode.
func Open(path string, opts *Options) (*Database, error) {
	db := New(path, opts)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	tables, err := db.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, t := range tables {
		if _, ok := db.tables.Search(t.name); ok {
			return nil, fmt.Errorf("%s: %w: duplicate table %q", path, ErrDecode, t.name)
		}
		db.tables.Insert(t.name, t)
	}
	db.log.Debug("Opened database", "path", path, "tables", db.tables.Len(), "bytes", len(data))
	return db, nil
}

// Path returns the file the database is bound to.
func (db *Database) Path() string { return db.path }

// AddObserver registers o to be notified after every persisted change.
func (db *Database) AddObserver(o Observer) {
	db.observers = append(db.observers, o)
}

// Save encodes every table and replaces the database file.
//
// The parent directory is created if needed.
func (db *Database) Save() error {
	return db.persist(Change{Op: OpSave})
}

// CreateTable adds an empty table and persists the database.
func (db *Database) CreateTable(name string, columns []Column, primaryKey string) error {
	if _, ok := db.tables.Search(name); ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if name == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidSchema)
	}
	if err := validateColumns(columns); err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	return db.addTable(NewTable(name, columns, primaryKey), OpCreateTable)
}

// DropTable removes a table and persists the database.
func (db *Database) DropTable(name string) error {
	t, ok := db.tables.Remove(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err := db.persist(Change{Op: OpDropTable, Table: name}); err != nil {
		db.tables.Insert(name, t)
		return err
	}
	return nil
}

// GetTable returns the named table.
//
// Changes made directly on the returned table are kept in memory only until
// the next Save.
func (db *Database) GetTable(name string) (*Table, error) {
	t, ok := db.tables.Search(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// ListTables returns the table names in ascending order.
func (db *Database) ListTables() []string {
	return db.tables.Keys()
}

// Insert adds a row to a table and persists the database.
func (db *Database) Insert(table string, key Key, values []Value) error {
	t, err := db.GetTable(table)
	if err != nil {
		return err
	}
	if err := t.Insert(key, values); err != nil {
		return err
	}
	if err := db.persist(Change{Op: OpInsert, Table: table, Key: key}); err != nil {
		t.rows.Remove(key)
		return err
	}
	return nil
}

// Update replaces a row and persists the database.
func (db *Database) Update(table string, key Key, values []Value) error {
	t, err := db.GetTable(table)
	if err != nil {
		return err
	}
	prev, err := t.Get(key)
	if err != nil {
		return err
	}
	if err := t.Update(key, values); err != nil {
		return err
	}
	if err := db.persist(Change{Op: OpUpdate, Table: table, Key: key}); err != nil {
		t.put(key, prev)
		return err
	}
	return nil
}

// Delete removes a row and persists the database.
func (db *Database) Delete(table string, key Key) error {
	t, err := db.GetTable(table)
	if err != nil {
		return err
	}
	prev, err := t.Get(key)
	if err != nil {
		return err
	}
	if err := t.Delete(key); err != nil {
		return err
	}
	if err := db.persist(Change{Op: OpDelete, Table: table, Key: key}); err != nil {
		t.put(key, prev)
		return err
	}
	return nil
}

// Get returns a copy of a row.
func (db *Database) Get(table string, key Key) (Row, error) {
	t, err := db.GetTable(table)
	if err != nil {
		return Row{}, err
	}
	return t.Get(key)
}

// ExportTable writes the named table as JSONL to w.
func (db *Database) ExportTable(name string, w io.Writer) error {
	t, err := db.GetTable(name)
	if err != nil {
		return err
	}
	return t.WriteJSONL(w)
}

// ImportTable reads a table written by ExportTable, adds it and persists the
// database. The table name comes from the JSONL header.
func (db *Database) ImportTable(r io.Reader) (*Table, error) {
	t, err := ReadJSONL(r)
	if err != nil {
		return nil, err
	}
	if _, ok := db.tables.Search(t.name); ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, t.name)
	}
	if err := db.addTable(t, OpImportTable); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *Database) addTable(t *Table, op Op) error {
	db.tables.Insert(t.name, t)
	if err := db.persist(Change{Op: op, Table: t.name}); err != nil {
		db.tables.Remove(t.name)
		return err
	}
	return nil
}

// persist writes the whole database then notifies observers.
func (db *Database) persist(c Change) error {
	tables := make([]*Table, 0, db.tables.Len())
	db.tables.Traverse(func(_ string, t *Table) {
		tables = append(tables, t)
	})
	data, err := db.codec.Encode(tables)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(db.path, data); err != nil {
		return err
	}
	db.log.Debug("Saved database", "path", db.path, "change", c.String(), "bytes", len(data))
	for _, o := range db.observers {
		if err := o.OnChange(db.path, c); err != nil {
			db.log.Warn("Observer failed", "path", db.path, "change", c.String(), "err", err)
		}
	}
	return nil
}
