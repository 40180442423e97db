package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Pragmas ride on the DSN so every pooled connection gets them.
	dsn := s.path + "?_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, target, domain, status, dry_run, changed, unverified, error_class, error, plan, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Target,
		run.Domain,
		run.Status,
		run.DryRun,
		run.Changed,
		run.Unverified,
		run.ErrorClass,
		run.Error,
		run.Plan,
		run.StartedAt,
		run.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, target, domain, status, dry_run, changed, unverified, error_class, error, plan, started_at, completed_at`

func scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	err := scanner.Scan(
		&run.ID,
		&run.Target,
		&run.Domain,
		&run.Status,
		&run.DryRun,
		&run.Changed,
		&run.Unverified,
		&run.ErrorClass,
		&run.Error,
		&run.Plan,
		&run.StartedAt,
		&run.CompletedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FinishRun writes the outcome fields of a completed or failed run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET status = ?, changed = ?, unverified = ?, error_class = ?, error = ?, plan = ?, completed_at = ?
		WHERE id = ?
	`

	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Changed,
		run.Unverified,
		run.ErrorClass,
		run.Error,
		run.Plan,
		run.CompletedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// ListRuns lists runs matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]*Run, error) {
	filter = filter.normalized()
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE (? = '' OR target = ?)
		  AND (? = '' OR domain = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Target, filter.Target,
		filter.Domain, filter.Domain,
		string(filter.Status), string(filter.Status),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID. Transcript rows go with it.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// PruneRuns deletes finished runs started before the cutoff and returns
// how many were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM runs
		WHERE started_at < ? AND status IN ('completed', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// AppendTranscript inserts the exchanges of one run in one transaction.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entries []*TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO transcripts (run_id, seq, command, output, exit_status, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, entry := range entries {
		result, err := tx.ExecContext(ctx, query,
			entry.RunID,
			entry.Seq,
			entry.Command,
			entry.Output,
			entry.ExitStatus,
			entry.DurationMS,
			entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append transcript entry: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get transcript entry ID: %w", err)
		}
		entry.ID = id
	}

	return tx.Commit()
}

// GetTranscript returns the exchanges of one run in send order.
func (s *SQLiteStore) GetTranscript(ctx context.Context, runID string) ([]*TranscriptEntry, error) {
	query := `
		SELECT id, run_id, seq, command, output, exit_status, duration_ms, timestamp
		FROM transcripts
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	defer rows.Close()

	entries := []*TranscriptEntry{}
	for rows.Next() {
		entry := &TranscriptEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Seq,
			&entry.Command,
			&entry.Output,
			&entry.ExitStatus,
			&entry.DurationMS,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript: %w", err)
	}

	return entries, nil
}

// UpsertSnapshot inserts or replaces the snapshot for one target/domain.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	query := `
		INSERT INTO snapshots (id, target, domain, fields, hash, last_run_id, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, domain) DO UPDATE SET
			fields = excluded.fields,
			hash = excluded.hash,
			last_run_id = excluded.last_run_id,
			taken_at = excluded.taken_at
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.ID,
		snap.Target,
		snap.Domain,
		snap.Fields,
		snap.Hash,
		snap.LastRunID,
		snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for one target/domain.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, target, domain string) (*Snapshot, error) {
	query := `
		SELECT id, target, domain, fields, hash, last_run_id, taken_at
		FROM snapshots
		WHERE target = ? AND domain = ?
	`

	snap := &Snapshot{}
	err := s.db.QueryRowContext(ctx, query, target, domain).Scan(
		&snap.ID,
		&snap.Target,
		&snap.Domain,
		&snap.Fields,
		&snap.Hash,
		&snap.LastRunID,
		&snap.TakenAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot not found: %s/%s", target, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots lists the snapshots of one target, or all targets when
// target is empty.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, target string) ([]*Snapshot, error) {
	query := `
		SELECT id, target, domain, fields, hash, last_run_id, taken_at
		FROM snapshots
		WHERE (? = '' OR target = ?)
		ORDER BY target, domain
	`

	rows, err := s.db.QueryContext(ctx, query, target, target)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		snap := &Snapshot{}
		err := rows.Scan(
			&snap.ID,
			&snap.Target,
			&snap.Domain,
			&snap.Fields,
			&snap.Hash,
			&snap.LastRunID,
			&snap.TakenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.Target,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.Target,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
