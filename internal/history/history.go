// Package history keeps a SQLite log of renders.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/event"
	"github.com/Iron-Ham/macroexpand/internal/logging"
)

// Entry is one recorded render.
type Entry struct {
	ID           int64         `json:"id"`
	SessionID    string        `json:"session_id"`
	SourcePath   string        `json:"source_path"`
	Command      string        `json:"command"`
	ArtifactPath string        `json:"artifact_path"`
	Trigger      event.Trigger `json:"trigger"`
	OK           bool          `json:"ok"`
	ExitCode     int           `json:"exit_code"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Store is the render history database.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger

	mu    sync.Mutex
	bus   *event.Bus
	subID string
}

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`CREATE TABLE IF NOT EXISTS renders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		command TEXT NOT NULL,
		artifact_path TEXT NOT NULL,
		trigger TEXT NOT NULL,
		ok INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_renders_source_path ON renders(source_path);`,
	`CREATE INDEX IF NOT EXISTS idx_renders_started_at ON renders(started_at);`,
}

// Open creates or opens the history database at path.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewResourceError("create history directory", err).WithPath(path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewResourceError("open history", err).WithPath(path)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.NewResourceError("migrate history", err).WithPath(path)
		}
	}

	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{db: db, path: path, logger: logger.WithComponent("history")}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Record appends a render outcome and returns its row ID.
func (s *Store) Record(ctx context.Context, o event.RenderOutcome) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO renders (
			session_id, source_path, command, artifact_path, trigger,
			ok, exit_code, error, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.SessionID, o.SourcePath, o.Command, o.ArtifactPath, string(o.Trigger),
		o.OK, o.ExitCode, o.Error, o.StartedAt.UnixMilli(), o.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, errors.NewResourceError("record render", err).WithPath(s.path)
	}
	return res.LastInsertId()
}

// Recent returns up to limit renders, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, session_id, source_path, command, artifact_path, trigger,
			ok, exit_code, error, started_at, duration_ms
		FROM renders ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
}

// ForSource returns up to limit renders of sourcePath, newest first.
func (s *Store) ForSource(ctx context.Context, sourcePath string, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, session_id, source_path, command, artifact_path, trigger,
			ok, exit_code, error, started_at, duration_ms
		FROM renders WHERE source_path = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`, filepath.Clean(sourcePath), limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewResourceError("query history", err).WithPath(s.path)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			trigger    string
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SourcePath, &e.Command, &e.ArtifactPath,
			&trigger, &e.OK, &e.ExitCode, &e.Error, &startedAt, &durationMs); err != nil {
			return nil, errors.NewResourceError("scan history", err).WithPath(s.path)
		}
		e.Trigger = event.Trigger(trigger)
		e.StartedAt = time.UnixMilli(startedAt)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewResourceError("read history", err).WithPath(s.path)
	}
	return entries, nil
}

// Prune deletes all but the newest keep renders and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM renders WHERE id NOT IN (
			SELECT id FROM renders ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, errors.NewResourceError("prune history", err).WithPath(s.path)
	}
	return res.RowsAffected()
}

// Subscribe records every artifact.rendered event published on bus until
// Close.
func (s *Store) Subscribe(bus *event.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
	s.subID = bus.Subscribe(event.TypeArtifactRendered, func(e event.Event) {
		rendered, ok := e.(event.ArtifactRenderedEvent)
		if !ok {
			return
		}
		if _, err := s.Record(context.Background(), rendered.RenderOutcome); err != nil {
			s.logger.Warn("failed to record render", "source_path", rendered.SourcePath, "error", err.Error())
		}
	})
}

// Close stops recording and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.bus != nil {
		s.bus.Unsubscribe(s.subID)
		s.bus = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}
