package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/kvtab/internal/tabledb"
)

// watchDB reopens the database each time its file is replaced or written and
// logs the size of every table. It returns when ctx is done.
//
// The parent directory is watched rather than the file because saves rename a
// new file over the old one. onReload, when not nil, receives each database
// successfully reopened.
func watchDB(ctx context.Context, path string, opts *tabledb.Options, log *slog.Logger, onReload func(*tabledb.Database)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	reload := func() {
		db, err := tabledb.Open(abs, opts)
		if err != nil {
			log.WarnContext(ctx, "Failed to reopen database", "path", abs, "err", err)
			return
		}
		for _, name := range db.ListTables() {
			if t, err := db.GetTable(name); err == nil {
				log.InfoContext(ctx, "Table", "name", name, "rows", t.Len())
			}
		}
		if onReload != nil {
			onReload(db)
		}
	}
	log.InfoContext(ctx, "Watching database", "path", abs)
	reload()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				log.DebugContext(ctx, "Database changed", "op", event.Op.String())
				reload()
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				log.WarnContext(ctx, "Database removed", "path", abs)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "Error watching database", "err", err)
		}
	}
}
