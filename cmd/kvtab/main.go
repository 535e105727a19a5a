// Package main is the kvtab command line tool.
//
// kvtab manages a single-file typed table database: it creates and drops
// tables, edits rows, exports and imports JSONL, and optionally records every
// change in a git repository next to the database. Configuration is read from
// a YAML file (kvtab.yaml by default) and overridden by CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/maruel/kvtab/internal/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kvtab: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("kvtab", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "Configuration file")
	dbPath := fs.String("db", "", "Database file (overrides the configuration)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error) (overrides the configuration)")
	compress := fs.Bool("compress", false, "Compress the database file with zstd (overrides the configuration)")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags explicitly set win over the configuration file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.Database = *dbPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "compress":
			cfg.Compress = *compress
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	ll := &slog.LevelVar{}
	ll.Set(level)

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(fs)
		return errors.New("missing command")
	}
	cmd := findCommand(rest[0])
	if cmd == nil {
		return fmt.Errorf("unknown command %q", rest[0])
	}
	a := &app{
		cfg:        cfg,
		configPath: *configPath,
		log:        newLogger(stderr, ll),
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
	}
	if err := cmd.run(ctx, a, rest[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

// newLogger returns a tint logger writing to w. Colors are used only when w is
// a terminal.
func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
	}))
}

func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "usage: kvtab [flags] <command> [args]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(w, "\nflags:\n")
	fs.PrintDefaults()
}

func printVersion(w io.Writer) {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Fprintf(w, "kvtab %s\n", version)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
	fmt.Fprintf(w, "  Revision:   %s\n", revision)
	if dirty {
		fmt.Fprintf(w, "  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
