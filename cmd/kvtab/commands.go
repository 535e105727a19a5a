package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/kvtab/internal/config"
	"github.com/maruel/kvtab/internal/history"
	"github.com/maruel/kvtab/internal/tabledb"
)

// app holds what every command needs.
type app struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"init", "create the database and the configured tables", cmdInit},
	{"tables", "list tables with row counts", cmdTables},
	{"create-table", "-name n [-pk c] col:type... : create a table", cmdCreateTable},
	{"drop-table", "name : drop a table", cmdDropTable},
	{"insert", "-table t [-key k] value... : insert a row", cmdInsert},
	{"update", "-table t -key k value... : replace a row", cmdUpdate},
	{"delete", "-table t -key k : delete a row", cmdDelete},
	{"get", "-table t -key k : print a row", cmdGet},
	{"dump", "[-table t] : print every row", cmdDump},
	{"export", "-table t [-o file] : write a table as JSONL", cmdExport},
	{"import", "[-i file] : read a JSONL table", cmdImport},
	{"history", "[-n N] : list recorded revisions", cmdHistory},
	{"restore", "-rev R : restore the database from a revision", cmdRestore},
	{"watch", "log table sizes whenever the database file changes", cmdWatch},
	{"version", "print version and exit", cmdVersion},
}

func findCommand(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

func (a *app) flags(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(a.stderr)
	return f
}

// parse parses args and returns the positional arguments. -h yields
// flag.ErrHelp, which the caller treats as success.
func parse(f *flag.FlagSet, args []string) ([]string, error) {
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	return f.Args(), nil
}

func (a *app) options() *tabledb.Options {
	return a.cfg.Options(a.log)
}

// openDB opens the configured database, attaching the history recorder when
// enabled. With create, a missing file yields an empty database.
func (a *app) openDB(create bool) (*tabledb.Database, bool, error) {
	path := a.cfg.Database
	db, err := tabledb.Open(path, a.options())
	created := false
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, err
		}
		if !create {
			return nil, false, fmt.Errorf("%w; run \"kvtab init\" first", err)
		}
		db = tabledb.New(path, a.options())
		created = true
	}
	if a.cfg.History.Enabled {
		rec, err := a.recorder()
		if err != nil {
			return nil, false, err
		}
		db.AddObserver(rec)
	}
	return db, created, nil
}

func (a *app) recorder() (*history.Recorder, error) {
	if !a.cfg.History.Enabled {
		return nil, fmt.Errorf("history is disabled; set history.enabled in %s", a.configPath)
	}
	return history.Open(filepath.Dir(a.cfg.Database), a.cfg.History.Author, a.cfg.History.Email)
}

func cmdInit(_ context.Context, a *app, args []string) error {
	f := a.flags("init")
	if _, err := parse(f, args); err != nil {
		return err
	}
	if _, err := os.Stat(a.configPath); errors.Is(err, fs.ErrNotExist) {
		if err := a.cfg.Save(a.configPath); err != nil {
			return err
		}
		a.log.Info("Wrote configuration", "path", a.configPath)
	}
	db, isNew, err := a.openDB(true)
	if err != nil {
		return err
	}
	created, err := a.cfg.Apply(db)
	if err != nil {
		return err
	}
	if isNew && len(created) == 0 {
		if err := db.Save(); err != nil {
			return err
		}
	}
	a.log.Info("Initialized database", "path", db.Path(), "new", isNew, "tables_created", created)
	return nil
}

func cmdTables(_ context.Context, a *app, args []string) error {
	f := a.flags("tables")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	for _, name := range db.ListTables() {
		t, err := db.GetTable(name)
		if err != nil {
			return err
		}
		cols := make([]string, 0, len(t.Columns()))
		for _, c := range t.Columns() {
			cols = append(cols, c.String())
		}
		fmt.Fprintf(a.stdout, "%s\t%d\t%s\n", name, t.Len(), strings.Join(cols, ","))
	}
	return nil
}

func cmdCreateTable(_ context.Context, a *app, args []string) error {
	f := a.flags("create-table")
	name := f.String("name", "", "Table name")
	pk := f.String("pk", "", "Primary key column name")
	specs, err := parse(f, args)
	if err != nil {
		return err
	}
	columns := make([]tabledb.Column, 0, len(specs))
	for _, s := range specs {
		colName, colType, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("column %q must be name:type", s)
		}
		t, err := tabledb.ParseColumnType(colType)
		if err != nil {
			return fmt.Errorf("column %s: %w", colName, err)
		}
		columns = append(columns, tabledb.NewColumn(colName, t))
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	if err := db.CreateTable(*name, columns, *pk); err != nil {
		return err
	}
	a.log.Info("Created table", "table", *name, "columns", len(columns))
	return nil
}

func cmdDropTable(_ context.Context, a *app, args []string) error {
	f := a.flags("drop-table")
	rest, err := parse(f, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("drop-table takes exactly one table name")
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	if err := db.DropTable(rest[0]); err != nil {
		return err
	}
	a.log.Info("Dropped table", "table", rest[0])
	return nil
}

// parseRow converts positional CLI arguments using the table's column types.
// "null" in any case is Null and blobs are base64.
func parseRow(t *tabledb.Table, args []string) ([]tabledb.Value, error) {
	cols := t.Columns()
	if len(args) != len(cols) {
		return nil, fmt.Errorf("%w: table %s expects %d values, got %d", tabledb.ErrArityMismatch, t.Name(), len(cols), len(args))
	}
	values := make([]tabledb.Value, len(args))
	for i, s := range args {
		v, err := tabledb.ParseValue(cols[i].Type, s)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cols[i].Name, err)
		}
		values[i] = v
	}
	return values, nil
}

func cmdInsert(_ context.Context, a *app, args []string) error {
	f := a.flags("insert")
	table := f.String("table", "", "Table name")
	key := f.String("key", "", "Row key (default: a new unique key)")
	rest, err := parse(f, args)
	if err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	t, err := db.GetTable(*table)
	if err != nil {
		return err
	}
	values, err := parseRow(t, rest)
	if err != nil {
		return err
	}
	k := tabledb.Key(*key)
	if k == "" {
		k = tabledb.NewKey()
	}
	if err := db.Insert(*table, k, values); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, k)
	return nil
}

func cmdUpdate(_ context.Context, a *app, args []string) error {
	f := a.flags("update")
	table := f.String("table", "", "Table name")
	key := f.String("key", "", "Row key")
	rest, err := parse(f, args)
	if err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	t, err := db.GetTable(*table)
	if err != nil {
		return err
	}
	values, err := parseRow(t, rest)
	if err != nil {
		return err
	}
	return db.Update(*table, tabledb.Key(*key), values)
}

func cmdDelete(_ context.Context, a *app, args []string) error {
	f := a.flags("delete")
	table := f.String("table", "", "Table name")
	key := f.String("key", "", "Row key")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	return db.Delete(*table, tabledb.Key(*key))
}

func cmdGet(_ context.Context, a *app, args []string) error {
	f := a.flags("get")
	table := f.String("table", "", "Table name")
	key := f.String("key", "", "Row key")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	t, err := db.GetTable(*table)
	if err != nil {
		return err
	}
	row, err := t.Get(tabledb.Key(*key))
	if err != nil {
		return err
	}
	for i, c := range t.Columns() {
		fmt.Fprintf(a.stdout, "%s=%s\n", c.Name, row.Values[i])
	}
	return nil
}

func cmdDump(_ context.Context, a *app, args []string) error {
	f := a.flags("dump")
	table := f.String("table", "", "Only dump this table")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	names := db.ListTables()
	if *table != "" {
		names = []string{*table}
	}
	for _, name := range names {
		t, err := db.GetTable(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s (%d rows)\n", name, t.Len())
		for _, e := range t.GetAll() {
			fmt.Fprintf(a.stdout, "  %s\t%s\n", e.Key, e.Row)
		}
	}
	return nil
}

func cmdExport(_ context.Context, a *app, args []string) error {
	f := a.flags("export")
	table := f.String("table", "", "Table name")
	out := f.String("o", "-", "Output file, - for stdout")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	if *out == "-" {
		return db.ExportTable(*table, a.stdout)
	}
	var buf bytes.Buffer
	if err := db.ExportTable(*table, &buf); err != nil {
		return err
	}
	if err := tabledb.WriteFileAtomic(*out, buf.Bytes()); err != nil {
		return err
	}
	a.log.Info("Exported table", "table", *table, "path", *out, "bytes", buf.Len())
	return nil
}

func cmdImport(_ context.Context, a *app, args []string) (err error) {
	f := a.flags("import")
	in := f.String("i", "-", "Input file, - for stdin")
	if _, err := parse(f, args); err != nil {
		return err
	}
	db, _, err := a.openDB(false)
	if err != nil {
		return err
	}
	r := a.stdin
	if *in != "-" {
		file, err := os.Open(*in)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", *in, err)
		}
		defer func() { err = errors.Join(err, file.Close()) }()
		r = file
	}
	t, err := db.ImportTable(r)
	if err != nil {
		return err
	}
	a.log.Info("Imported table", "table", t.Name(), "rows", t.Len())
	return nil
}

func cmdHistory(_ context.Context, a *app, args []string) error {
	f := a.flags("history")
	n := f.Int("n", 20, "Maximum number of revisions, 0 for all")
	if _, err := parse(f, args); err != nil {
		return err
	}
	rec, err := a.recorder()
	if err != nil {
		return err
	}
	commits, err := rec.Log(a.cfg.Database, *n)
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Fprintf(a.stdout, "%s %s %s\n", c.Short(), c.When.Format("2006-01-02 15:04:05"), c.Message)
	}
	return nil
}

func cmdRestore(_ context.Context, a *app, args []string) error {
	f := a.flags("restore")
	rev := f.String("rev", "", "Revision to restore")
	if _, err := parse(f, args); err != nil {
		return err
	}
	if *rev == "" {
		return errors.New("-rev is required")
	}
	rec, err := a.recorder()
	if err != nil {
		return err
	}
	hash, err := rec.Restore(*rev, a.cfg.Database, a.options().Codec)
	if err != nil {
		return err
	}
	a.log.Info("Restored database", "rev", *rev, "commit", hash)
	return nil
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	f := a.flags("watch")
	if _, err := parse(f, args); err != nil {
		return err
	}
	return watchDB(ctx, a.cfg.Database, a.options(), a.log, nil)
}

func cmdVersion(_ context.Context, a *app, _ []string) error {
	printVersion(a.stdout)
	return nil
}
