// Package history records every database change as a git commit.
//
// The repository is managed with go-git, so no git binary is needed. The
// database file must live inside the repository directory.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/maruel/kvtab/internal/tabledb"
)

// Commit is one recorded revision.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Email   string
	When    time.Time
}

// Short returns the abbreviated hash.
func (c *Commit) Short() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// Recorder commits the database file after each change. It implements
// tabledb.Observer.
type Recorder struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository
	mu    sync.Mutex
}

// Open opens the git repository at dir, initializing it when missing.
//
// name and email sign the commits.
func Open(dir, name, email string) (*Recorder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(abs)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open git repo: %w", err)
		}
		if repo, err = gogit.PlainInit(abs, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Recorder{dir: abs, name: name, email: email, repo: repo}, nil
}

// Dir returns the repository root.
func (r *Recorder) Dir() string { return r.dir }

// OnChange implements tabledb.Observer.
func (r *Recorder) OnChange(path string, c tabledb.Change) error {
	_, err := r.Commit(path, c.String())
	return err
}

// Commit stages path and commits it with msg. It returns the new commit hash,
// or "" when the file did not change.
func (r *Recorder) Commit(path, msg string) (string, error) {
	rel, err := r.rel(path)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(rel); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	// Other files in the directory are ignored; only the staged state of the
	// database matters.
	if s, ok := status[rel]; !ok || s.Staging == gogit.Unmodified {
		return "", nil
	}

	now := time.Now()
	sig := &object.Signature{Name: r.name, Email: r.email, When: now}
	h, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// Log returns up to n commits touching path, newest first. n <= 0 means no
// limit.
func (r *Recorder) Log(path string, n int) ([]Commit, error) {
	rel, err := r.rel(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil // no commits yet
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&gogit.LogOptions{FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var out []Commit
	for n <= 0 || len(out) < n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
		})
	}
	return out, nil
}

// FileAt returns the content of path at revision rev. rev is anything git
// resolves: a full or abbreviated hash, HEAD, HEAD~2, a branch name.
func (r *Recorder) FileAt(rev, path string) ([]byte, error) {
	rel, err := r.rel(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileAt(rev, rel)
}

func (r *Recorder) fileAt(rev, rel string) ([]byte, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", rev, err)
	}
	c, err := r.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s at %s: %w", rel, h.String()[:7], err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// Restore replaces path with its content at rev and commits the result.
//
// The old content must decode as a database, which guards against restoring
// an unrelated revision.
func (r *Recorder) Restore(rev, path string, codec tabledb.Codec) (string, error) {
	rel, err := r.rel(path)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	data, err := r.fileAt(rev, rel)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	if _, err := codec.Decode(data); err != nil {
		return "", fmt.Errorf("revision %s: %w", rev, err)
	}
	if err := tabledb.WriteFileAtomic(filepath.Join(r.dir, filepath.FromSlash(rel)), data); err != nil {
		return "", err
	}
	return r.Commit(path, "restore "+rev)
}

// rel returns path relative to the repository root in slash form.
func (r *Recorder) rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside repository %s", path, r.dir)
	}
	return filepath.ToSlash(rel), nil
}
