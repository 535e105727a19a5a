package tabledb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data.
//
// The data goes to a temporary file in the same directory which is synced and
// renamed over path, so a crash leaves either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", tmp, err), f.Close(), os.Remove(tmp))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync %s: %w", tmp, err), f.Close(), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close %s: %w", tmp, err), os.Remove(tmp))
	}
	if err := os.Chmod(tmp, 0o644); err != nil { //nolint:gosec // G302: database files are not secret
		return errors.Join(fmt.Errorf("failed to chmod %s: %w", tmp, err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to replace %s: %w", path, err), os.Remove(tmp))
	}
	return nil
}
