// Package journal keeps a SQLite history of finished transfers. A Store
// subscribes to transfer jobs through Listener and records each job's
// terminal event once.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/cloudtree/cloudtree/internal/transfer"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// recordTimeout bounds the insert made from a listener, which has no
// caller context.
const recordTimeout = 5 * time.Second

const (
	sqlInsertTransfer = `INSERT INTO transfers
		(id, job_id, direction, source, destination, state, bytes, total, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`

	sqlRecentTransfers = `SELECT id, job_id, direction, source, destination, state,
		bytes, total, error, finished_at
		FROM transfers ORDER BY finished_at DESC, rowid DESC LIMIT ?`

	sqlPruneTransfers = `DELETE FROM transfers WHERE finished_at < ?`
)

// Entry is one finished transfer.
type Entry struct {
	ID          string
	JobID       string
	Direction   string
	Source      string
	Destination string
	State       string
	Bytes       int64
	Total       int64
	Error       string
	FinishedAt  time.Time
}

// Store is the journal database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the journal at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a terminal transfer event. Non-terminal events are
// rejected; a second event for the same job is ignored.
func (s *Store) Record(ctx context.Context, e transfer.Event) error {
	if !e.State.Terminal() {
		return fmt.Errorf("journal: refusing non-terminal state %s", e.State)
	}

	var src, dst, msg string
	if e.Source != nil {
		src = e.Source.Path()
	}

	if e.Destination != nil {
		dst = e.Destination.Path()
	}

	if e.Err != nil {
		msg = e.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, sqlInsertTransfer,
		uuid.NewString(), e.JobID, e.Direction.String(), src, dst, e.State.String(),
		e.Bytes, e.Total, msg, s.nowFunc().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: recording job %s: %w", e.JobID, err)
	}

	return nil
}

// Listener returns a transfer listener that records terminal events.
// Register it for every state; intermediate samples are skipped.
func (s *Store) Listener() transfer.Listener {
	return func(e transfer.Event) {
		if !e.State.Terminal() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := s.Record(ctx, e); err != nil {
			s.logger.Warn("journal write failed",
				slog.String("job_id", e.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, errors.New("journal: n must be positive")
	}

	rows, err := s.db.QueryContext(ctx, sqlRecentTransfers, n)
	if err != nil {
		return nil, fmt.Errorf("journal: querying transfers: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e        Entry
			finished int64
		)

		if err := rows.Scan(&e.ID, &e.JobID, &e.Direction, &e.Source, &e.Destination,
			&e.State, &e.Bytes, &e.Total, &e.Error, &finished); err != nil {
			return nil, fmt.Errorf("journal: scanning transfer: %w", err)
		}

		e.FinishedAt = time.Unix(0, finished)
		out = append(out, e)
	}

	return out, rows.Err()
}

// Prune deletes entries finished before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlPruneTransfers, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: pruning transfers: %w", err)
	}

	return res.RowsAffected()
}
