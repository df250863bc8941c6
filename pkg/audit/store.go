package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed decision log.
type Store struct {
	db   *sql.DB
	path string
}

// Config holds audit store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates an audit store instance. Call Init before use.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Append records one decision. A zero ID is assigned; a zero CreatedAt is
// stamped with the current time.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (id, created_at, source, subject_kind, subject_namespace, subject_name,
			allowed, violations, warnings, deny_reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.Source,
		rec.SubjectKind,
		rec.SubjectNamespace,
		rec.SubjectName,
		rec.Allowed,
		rec.Violations,
		rec.Warnings,
		rec.DenyReason,
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// ListRecent returns up to limit decisions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, created_at, source, subject_kind, subject_namespace, subject_name,
			allowed, violations, warnings, deny_reason, duration_ms
		FROM decisions
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(
			&rec.ID,
			&createdAt,
			&rec.Source,
			&rec.SubjectKind,
			&rec.SubjectNamespace,
			&rec.SubjectName,
			&rec.Allowed,
			&rec.Violations,
			&rec.Warnings,
			&rec.DenyReason,
			&rec.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decision timestamp: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountDenied returns the number of denied decisions since the given time.
func (s *Store) CountDenied(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM decisions WHERE allowed = 0 AND created_at >= ?`

	var count int
	err := s.db.QueryRowContext(ctx, query, since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count denied decisions: %w", err)
	}
	return count, nil
}
