// Package store persists ingredients, product matches and price
// comparisons in SQLite or PostgreSQL through database/sql.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// ErrNotFound is returned when a looked up row does not exist
var ErrNotFound = errors.New("not found")

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store is the relational store shared by the matcher, the comparator
// and the refresh jobs
type Store struct {
	db     *sql.DB
	driver string
	logger types.Logger
	now    func() time.Time
}

// Open connects using the database config section and applies the schema
func Open(cfg *config.Config) (*Store, error) {
	return OpenWith(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
}

// OpenWith connects to dsn with driver and applies the schema
func OpenWith(driver, dsn string, maxOpenConns int) (*Store, error) {
	logger := logging.GetGlobalLogger().WithField("component", "store")

	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
		}
		maxOpenConns = 1
	case DriverPostgres:
		if maxOpenConns <= 0 {
			maxOpenConns = 10
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, driver: driver, logger: logger, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database ready", map[string]interface{}{
		"driver":         driver,
		"max_open_conns": maxOpenConns,
	})
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	name := "schema/sqlite.sql"
	if s.driver == DriverPostgres {
		name = "schema/postgres.sql"
	}
	schema, err := schemaFS.ReadFile(name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database driver name
func (s *Store) Driver() string {
	return s.driver
}

// rebind turns ? placeholders into $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// Stats returns row counts per table
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, table := range []string{"ingredients", "product_matches", "price_comparisons"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
