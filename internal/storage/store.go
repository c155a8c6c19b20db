// Package storage persists shutdown sessions, override records and the audit trail.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marcboeker/go-duckdb"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/session"
)

// Supported drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store is everything the engine persists.
type Store interface {
	session.Repository
	session.AuditSink
	session.Committer
	AuditTrail(ctx context.Context, sessionID string) ([]AuditRecord, error)
	Close() error
}

// Config selects and tunes the backing database.
type Config struct {
	Driver          string
	DataDir         string // duckdb: directory of the database file
	DSN             string // postgres: connection URL
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MemoryLimit     string // duckdb pragma, e.g. "512MB"
	Threads         int    // duckdb pragma
}

// AuditRecord is a stored audit event with its integrity check result.
type AuditRecord struct {
	ID        string            `json:"id"`
	Event     models.AuditEvent `json:"event"`
	Integrity string            `json:"integritySha256"`
	Verified  bool              `json:"verified"`
}

// Open connects to the configured driver and applies the schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverDuckDB, "":
		db, err := openDuckDB(cfg)
		if err != nil {
			return nil, err
		}
		return newMigrated(ctx, db, duckDialect)
	case DriverPostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return newMigrated(ctx, db, postgresDialect)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newMigrated(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := NewSQLStore(db, d.name)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openDuckDB(cfg Config) (*sql.DB, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("duckdb storage requires a data directory")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "shutdown.duckdb")

	memLimit := cfg.MemoryLimit
	if memLimit == "" {
		memLimit = "512MB"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = 2
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", memLimit),
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openPostgres(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres storage requires a DSN")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(cfg.MaxIdleConns, maxOpen))
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}
