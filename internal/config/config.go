// Loads the kvtab YAML configuration file.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/maruel/kvtab/internal/tabledb"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when none is specified.
const DefaultPath = "kvtab.yaml"

// Config is the content of the configuration file.
type Config struct {
	// Database is the path of the database file.
	Database string `yaml:"database"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// Compress enables zstd compression of the database file.
	Compress bool    `yaml:"compress"`
	History  History `yaml:"history"`
	// Tables are created by Apply when missing.
	Tables []Table `yaml:"tables,omitempty"`
}

// History configures the git revision log kept next to the database.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Author  string `yaml:"author"`
	Email   string `yaml:"email"`
}

// Table declares a table schema.
type Table struct {
	Name       string   `yaml:"name"`
	PrimaryKey string   `yaml:"primary_key,omitempty"`
	Columns    []Column `yaml:"columns"`
}

// Column declares one column. Type accepts the names understood by
// tabledb.ParseColumnType.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: "kvtab.db",
		LogLevel: "info",
		History: History{
			Author: "kvtab",
			Email:  "kvtab@localhost",
		},
	}
}

// Load reads the configuration at path on top of the defaults.
//
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the user
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: config is not secret
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.History.Enabled && (c.History.Author == "" || c.History.Email == "") {
		return errors.New("history requires author and email")
	}
	var names []string
	for i := range c.Tables {
		t := &c.Tables[i]
		if slices.Contains(names, t.Name) {
			return fmt.Errorf("tables: duplicate table %q", t.Name)
		}
		names = append(names, t.Name)
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tables[%d]: %w", i, err)
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Options returns the database options matching the configuration.
func (c *Config) Options(logger *slog.Logger) *tabledb.Options {
	return &tabledb.Options{
		Codec:  tabledb.BinaryCodec{Compress: c.Compress},
		Logger: logger,
	}
}

// Apply creates the configured tables missing from db and returns their
// names. Existing tables are left alone, so applying twice is a no-op.
func (c *Config) Apply(db *tabledb.Database) ([]string, error) {
	var created []string
	for i := range c.Tables {
		t := &c.Tables[i]
		if _, err := db.GetTable(t.Name); err == nil {
			continue
		}
		columns, err := t.Schema()
		if err != nil {
			return created, fmt.Errorf("table %s: %w", t.Name, err)
		}
		if err := db.CreateTable(t.Name, columns, t.PrimaryKey); err != nil {
			return created, err
		}
		created = append(created, t.Name)
	}
	return created, nil
}

// Validate checks the table declaration.
func (t *Table) Validate() error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	columns, err := t.Schema()
	if err != nil {
		return err
	}
	if t.PrimaryKey != "" && !slices.ContainsFunc(columns, func(c tabledb.Column) bool { return c.Name == t.PrimaryKey }) {
		return fmt.Errorf("primary_key %q is not a column", t.PrimaryKey)
	}
	return nil
}

// Schema converts the declared columns.
func (t *Table) Schema() ([]tabledb.Column, error) {
	if len(t.Columns) == 0 {
		return nil, errors.New("at least one column is required")
	}
	out := make([]tabledb.Column, len(t.Columns))
	for i, c := range t.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("columns[%d]: name is required", i)
		}
		typ, err := tabledb.ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		if slices.ContainsFunc(out[:i], func(o tabledb.Column) bool { return o.Name == c.Name }) {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		out[i] = tabledb.NewColumn(c.Name, typ)
	}
	return out, nil
}
