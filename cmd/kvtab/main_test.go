package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/kvtab/internal/tabledb"
)

type cli struct {
	t      *testing.T
	dir    string
	config string
}

func newCLI(t *testing.T, configContent string) *cli {
	t.Helper()
	dir := t.TempDir()
	c := &cli{t: t, dir: dir, config: filepath.Join(dir, "kvtab.yaml")}
	if configContent != "" {
		if err := os.WriteFile(c.config, []byte(configContent), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func (c *cli) db() string { return filepath.Join(c.dir, "test.kvt") }

// exec runs kvtab and returns its stdout.
func (c *cli) exec(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-config", c.config, "-db", c.db(), "-log-level", "warn"}, args...)
	err := run(c.t.Context(), full, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) mustExec(args ...string) string {
	c.t.Helper()
	out, err := c.exec("", args...)
	if err != nil {
		c.t.Fatalf("kvtab %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI(t *testing.T) {
	t.Run("Rows", func(t *testing.T) {
		c := newCLI(t, "")
		c.mustExec("init")
		if _, err := os.Stat(c.config); err != nil {
			t.Errorf("init did not write the configuration: %v", err)
		}
		c.mustExec("create-table", "-name", "users", "-pk", "id", "id:int", "name:text", "active:bool")
		c.mustExec("insert", "-table", "users", "-key", "2", "2", "Bob", "false")
		c.mustExec("insert", "-table", "users", "-key", "1", "1", "Alice", "true")
		key := strings.TrimSpace(c.mustExec("insert", "-table", "users", "3", "Carol", "null"))
		if key == "" {
			t.Fatal("insert without -key printed no key")
		}

		if got, want := c.mustExec("get", "-table", "users", "-key", "1"), "id=1\nname=\"Alice\"\nactive=true\n"; got != want {
			t.Errorf("get = %q, want %q", got, want)
		}
		if got := c.mustExec("tables"); got != "users\t3\tid:integer,name:text,active:boolean\n" {
			t.Errorf("tables = %q", got)
		}

		c.mustExec("update", "-table", "users", "-key", "2", "2", "Robert", "true")
		c.mustExec("delete", "-table", "users", "-key", "1")
		dump := c.mustExec("dump")
		if !strings.HasPrefix(dump, "users (2 rows)\n") || !strings.Contains(dump, "  2\t[2, \"Robert\", true]\n") {
			t.Errorf("dump = %q", dump)
		}
		if !strings.Contains(dump, key+"\t[3, \"Carol\", NULL]") {
			t.Errorf("dump lacks generated key row: %q", dump)
		}

		db, err := tabledb.Open(c.db(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := db.GetTable("users"); got.Len() != 2 || got.PrimaryKey() != "id" {
			t.Errorf("users has %d rows pk %q", got.Len(), got.PrimaryKey())
		}
	})

	t.Run("Errors", func(t *testing.T) {
		c := newCLI(t, "")
		if _, err := c.exec("", "tables"); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("tables before init error = %v, want fs.ErrNotExist", err)
		}
		c.mustExec("init")
		c.mustExec("create-table", "-name", "t", "n:integer")
		c.mustExec("insert", "-table", "t", "-key", "a", "1")
		tests := []struct {
			name string
			args []string
			want error
		}{
			{"duplicate table", []string{"create-table", "-name", "t", "n:integer"}, tabledb.ErrTableExists},
			{"bad column type", []string{"create-table", "-name", "u", "n:decimal"}, tabledb.ErrInvalidSchema},
			{"no columns", []string{"create-table", "-name", "u"}, tabledb.ErrInvalidSchema},
			{"duplicate key", []string{"insert", "-table", "t", "-key", "a", "2"}, tabledb.ErrKeyExists},
			{"arity", []string{"insert", "-table", "t", "1", "2"}, tabledb.ErrArityMismatch},
			{"type", []string{"insert", "-table", "t", "one"}, tabledb.ErrTypeMismatch},
			{"missing key", []string{"update", "-table", "t", "-key", "b", "1"}, tabledb.ErrKeyNotFound},
			{"missing table", []string{"get", "-table", "nope", "-key", "a"}, tabledb.ErrTableNotFound},
			{"drop missing", []string{"drop-table", "nope"}, tabledb.ErrTableNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := c.exec("", tt.args...); !errors.Is(err, tt.want) {
					t.Errorf("error = %v, want %v", err, tt.want)
				}
			})
		}
		for _, args := range [][]string{
			{"unknown-command"},
			{},
			{"drop-table"},
			{"create-table", "-name", "u", "missing-type"},
			{"history"},
			{"insert", "-bogus-flag"},
		} {
			if _, err := c.exec("", args...); err == nil {
				t.Errorf("kvtab %v succeeded", args)
			}
		}
		if _, err := c.exec("", "get", "-h"); err != nil {
			t.Errorf("-h error = %v", err)
		}
	})

	t.Run("Config", func(t *testing.T) {
		c := newCLI(t, `log_level: debug
compress: true
tables:
  - name: events
    columns:
      - {name: at, type: integer}
      - {name: payload, type: blob}
`)
		c.mustExec("init")
		// A second init is a no-op.
		c.mustExec("init")
		c.mustExec("insert", "-table", "events", "-key", "e1", "1700000000", "aGVsbG8=")
		if got := c.mustExec("get", "-table", "events", "-key", "e1"); got != "at=1700000000\npayload=<BLOB: 5 bytes>\n" {
			t.Errorf("get = %q", got)
		}
		data, err := os.ReadFile(c.db())
		if err != nil {
			t.Fatal(err)
		}
		if data[5]&1 == 0 {
			t.Error("database is not compressed")
		}
		if _, err := c.exec("", "-compress=false", "drop-table", "events"); err != nil {
			t.Fatal(err)
		}
		if data, _ = os.ReadFile(c.db()); data[5]&1 != 0 {
			t.Error("-compress=false did not override the configuration")
		}
	})

	t.Run("Export and Import", func(t *testing.T) {
		c := newCLI(t, "")
		c.mustExec("init")
		c.mustExec("create-table", "-name", "t", "n:integer", "s:text")
		c.mustExec("insert", "-table", "t", "-key", "a", "1", "x")
		jsonl := c.mustExec("export", "-table", "t")
		if !strings.HasPrefix(jsonl, `{"version":"1.0","name":"t"`) {
			t.Errorf("export = %q", jsonl)
		}
		out := filepath.Join(c.dir, "t.jsonl")
		c.mustExec("export", "-table", "t", "-o", out)
		c.mustExec("drop-table", "t")
		c.mustExec("import", "-i", out)
		if got := c.mustExec("get", "-table", "t", "-key", "a"); got != "n=1\ns=\"x\"\n" {
			t.Errorf("get after import = %q", got)
		}
		if _, err := c.exec(jsonl, "import"); !errors.Is(err, tabledb.ErrTableExists) {
			t.Errorf("import from stdin of existing table error = %v", err)
		}
		c.mustExec("drop-table", "t")
		if _, err := c.exec(jsonl, "import"); err != nil {
			t.Errorf("import from stdin error = %v", err)
		}
	})

	t.Run("History", func(t *testing.T) {
		c := newCLI(t, "history: {enabled: true, author: tester, email: tester@example.com}\n")
		c.mustExec("init")
		c.mustExec("create-table", "-name", "t", "n:integer")
		c.mustExec("insert", "-table", "t", "-key", "a", "1")
		c.mustExec("insert", "-table", "t", "-key", "b", "2")

		lines := strings.Split(strings.TrimSpace(c.mustExec("history")), "\n")
		if len(lines) != 4 {
			t.Fatalf("history = %q", lines)
		}
		for i, suffix := range []string{"insert t/b", "insert t/a", "create-table t", "save"} {
			if !strings.HasSuffix(lines[i], suffix) {
				t.Errorf("history[%d] = %q, want suffix %q", i, lines[i], suffix)
			}
		}
		if got := c.mustExec("history", "-n", "1"); strings.Count(got, "\n") != 1 {
			t.Errorf("history -n 1 = %q", got)
		}

		c.mustExec("restore", "-rev", "HEAD~1")
		if _, err := c.exec("", "get", "-table", "t", "-key", "b"); !errors.Is(err, tabledb.ErrKeyNotFound) {
			t.Errorf("restored database still has b: %v", err)
		}
		if _, err := c.exec("", "restore"); err == nil {
			t.Error("restore without -rev succeeded")
		}
	})

	t.Run("Version", func(t *testing.T) {
		c := newCLI(t, "")
		if got := c.mustExec("version"); !strings.HasPrefix(got, "kvtab ") {
			t.Errorf("version = %q", got)
		}
	})
}

func TestWatchDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.kvt")
	db := tabledb.New(path, nil)
	if err := db.Save(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	reloads := make(chan []string, 10)
	done := make(chan error, 1)
	log := slog.New(slog.DiscardHandler)
	go func() {
		done <- watchDB(ctx, path, nil, log, func(d *tabledb.Database) { reloads <- d.ListTables() })
	}()

	wait := func(want int) {
		t.Helper()
		timeout := time.After(10 * time.Second)
		for {
			select {
			case got := <-reloads:
				if len(got) == want {
					return
				}
			case <-timeout:
				t.Fatalf("no reload with %d tables", want)
			}
		}
	}
	wait(0)
	if err := db.CreateTable("t", []tabledb.Column{tabledb.NewColumn("a", tabledb.ColumnTypeText)}, ""); err != nil {
		t.Fatal(err)
	}
	wait(1)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("watchDB() = %v, want context.Canceled", err)
	}
}
