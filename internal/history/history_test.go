package history

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/maruel/kvtab/internal/tabledb"
)

func setup(t *testing.T) (*Recorder, *tabledb.Database) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	db := tabledb.New(filepath.Join(dir, "test.kvt"), nil)
	db.AddObserver(r)
	return r, db
}

func messages(commits []Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Message
	}
	return out
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("Init", func(t *testing.T) {
		t.Parallel()
		r, db := setup(t)
		if _, err := os.Stat(filepath.Join(r.Dir(), ".git")); err != nil {
			t.Errorf(".git directory not created: %v", err)
		}
		commits, err := r.Log(db.Path(), 0)
		if err != nil || len(commits) != 0 {
			t.Errorf("Log() on empty repo = %v, %v", commits, err)
		}
		cfg, err := r.repo.Config()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.User.Name != "Test User" || cfg.User.Email != "test@example.com" {
			t.Errorf("user = %q <%q>", cfg.User.Name, cfg.User.Email)
		}

		// Reopening keeps the existing repository.
		again, err := Open(r.Dir(), "Other", "other@example.com")
		if err != nil {
			t.Fatal(err)
		}
		cfg, _ = again.repo.Config()
		if cfg.User.Name != "Test User" {
			t.Errorf("reopen rewrote user to %q", cfg.User.Name)
		}
	})

	t.Run("One commit per change", func(t *testing.T) {
		t.Parallel()
		r, db := setup(t)
		cols := []tabledb.Column{tabledb.NewColumn("name", tabledb.ColumnTypeText)}
		if err := db.CreateTable("users", cols, ""); err != nil {
			t.Fatal(err)
		}
		if err := db.Insert("users", "1", []tabledb.Value{tabledb.Text("Alice")}); err != nil {
			t.Fatal(err)
		}
		if err := db.Update("users", "1", []tabledb.Value{tabledb.Text("Alicia")}); err != nil {
			t.Fatal(err)
		}
		// Saving unchanged content does not add a revision.
		if err := db.Save(); err != nil {
			t.Fatal(err)
		}
		// Untracked files do not count as changes.
		if err := os.WriteFile(filepath.Join(r.Dir(), "notes.txt"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := db.Save(); err != nil {
			t.Fatal(err)
		}

		commits, err := r.Log(db.Path(), 0)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"update users/1", "insert users/1", "create-table users"}
		if got := messages(commits); !slices.Equal(got, want) {
			t.Errorf("Log() = %v, want %v", got, want)
		}
		if commits[0].Author != "Test User" || commits[0].Email != "test@example.com" {
			t.Errorf("author = %q <%q>", commits[0].Author, commits[0].Email)
		}
		if len(commits[0].Short()) != 7 {
			t.Errorf("Short() = %q", commits[0].Short())
		}

		limited, err := r.Log(db.Path(), 2)
		if err != nil || len(limited) != 2 {
			t.Errorf("Log(2) = %v, %v", limited, err)
		}
	})

	t.Run("FileAt and Restore", func(t *testing.T) {
		t.Parallel()
		r, db := setup(t)
		cols := []tabledb.Column{tabledb.NewColumn("n", tabledb.ColumnTypeInteger)}
		if err := db.CreateTable("counts", cols, ""); err != nil {
			t.Fatal(err)
		}
		if err := db.Insert("counts", "a", []tabledb.Value{tabledb.Integer(1)}); err != nil {
			t.Fatal(err)
		}
		if err := db.Insert("counts", "b", []tabledb.Value{tabledb.Integer(2)}); err != nil {
			t.Fatal(err)
		}
		commits, err := r.Log(db.Path(), 0)
		if err != nil || len(commits) != 3 {
			t.Fatalf("Log() = %v, %v", commits, err)
		}

		head, err := r.FileAt("HEAD", db.Path())
		if err != nil {
			t.Fatal(err)
		}
		onDisk, err := os.ReadFile(db.Path())
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(head, onDisk) {
			t.Error("FileAt(HEAD) differs from the file on disk")
		}

		if _, err := r.FileAt("0123456789abcdef0123456789abcdef01234567", db.Path()); err == nil {
			t.Error("FileAt(unknown) succeeded")
		}

		hash, err := r.Restore(commits[1].Hash, db.Path(), tabledb.BinaryCodec{})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if hash == "" {
			t.Error("Restore() made no commit")
		}
		restored, err := tabledb.Open(db.Path(), nil)
		if err != nil {
			t.Fatal(err)
		}
		tbl, err := restored.GetTable("counts")
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Len() != 1 {
			t.Errorf("restored table has %d rows, want 1", tbl.Len())
		}
		after, _ := r.Log(db.Path(), 1)
		if len(after) != 1 || after[0].Message != "restore "+commits[1].Hash {
			t.Errorf("Log(1) after restore = %v", messages(after))
		}
	})

	t.Run("Restore rejects non-database content", func(t *testing.T) {
		t.Parallel()
		r, _ := setup(t)
		path := filepath.Join(r.Dir(), "plain.txt")
		if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Commit(path, "add text"); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Restore("HEAD", path, tabledb.BinaryCodec{}); err == nil {
			t.Error("Restore() of a text file succeeded")
		}
	})

	t.Run("Restore rejects duplicate tables", func(t *testing.T) {
		t.Parallel()
		r, db := setup(t)
		tbl := tabledb.NewTable("t", []tabledb.Column{tabledb.NewColumn("n", tabledb.ColumnTypeInteger)}, "")
		data, err := tabledb.BinaryCodec{}.Encode([]*tabledb.Table{tbl, tbl})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(db.Path(), data, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Commit(db.Path(), "duplicate"); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Restore("HEAD", db.Path(), tabledb.BinaryCodec{}); !errors.Is(err, tabledb.ErrDecode) {
			t.Errorf("Restore() error = %v, want ErrDecode", err)
		}
	})

	t.Run("Path outside repository", func(t *testing.T) {
		t.Parallel()
		r, _ := setup(t)
		outside := filepath.Join(t.TempDir(), "x.kvt")
		if _, err := r.Commit(outside, "x"); err == nil {
			t.Error("Commit() outside repository succeeded")
		}
		if _, err := r.Log(r.Dir(), 0); err == nil {
			t.Error("Log() of the repository root succeeded")
		}
	})
}
