package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liqian5129/reading-comp/pkg/session"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath. Pass ":memory:"
// for an ephemeral store in tests.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL lets query_history reads proceed while the orchestrator
		// loop appends.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		book_name TEXT NOT NULL DEFAULT '',
		start_at INTEGER NOT NULL,
		end_at INTEGER,
		status TEXT NOT NULL,
		page_turns INTEGER NOT NULL DEFAULT 0,
		snapshots INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		captured_at INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		similarity REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, captured_at);

	CREATE TABLE IF NOT EXISTS utterances (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL,
		transcript TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, opened_at);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		tool_args TEXT NOT NULL DEFAULT '',
		tool_result TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		page_context TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	query := `
	INSERT INTO sessions (id, book_name, start_at, end_at, status, page_turns, snapshots)
	VALUES (?, ?, ?, NULL, ?, 0, 0)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.BookName, sess.StartAt.UnixMilli(), string(sess.Status))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string, endAt time.Time, pageTurns, snapshots int) error {
	query := `
	UPDATE sessions SET end_at = ?, status = ?, page_turns = ?, snapshots = ?
	WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		endAt.UnixMilli(), string(session.StatusEnded), pageTurns, snapshots, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session: no session %s", id)
	}
	return nil
}

func (s *SQLiteStore) SessionsBetween(ctx context.Context, from, to time.Time) ([]session.Session, error) {
	query := `
	SELECT id, book_name, start_at, end_at, status, page_turns, snapshots
	FROM sessions WHERE start_at >= ? AND start_at < ?
	ORDER BY start_at`
	rows, err := s.db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var sess session.Session
		var startAt int64
		var endAt sql.NullInt64
		var status string
		if err := rows.Scan(&sess.ID, &sess.BookName, &startAt, &endAt, &status,
			&sess.PageTurns, &sess.Snapshots); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.StartAt = time.UnixMilli(startAt)
		if endAt.Valid {
			sess.EndAt = time.UnixMilli(endAt.Int64)
		}
		sess.Status = session.Status(status)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap session.PageSnapshot) error {
	query := `
	INSERT INTO snapshots (id, session_id, captured_at, text, similarity)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.SessionID, snap.CapturedAt.UnixMilli(), snap.Text, snap.Similarity)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionSnapshots(ctx context.Context, sessionID string) ([]session.PageSnapshot, error) {
	query := `
	SELECT id, session_id, captured_at, text, similarity
	FROM snapshots WHERE session_id = ? ORDER BY captured_at`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []session.PageSnapshot
	for rows.Next() {
		var snap session.PageSnapshot
		var capturedAt int64
		if err := rows.Scan(&snap.ID, &snap.SessionID, &capturedAt, &snap.Text, &snap.Similarity); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.CapturedAt = time.UnixMilli(capturedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendUtterance(ctx context.Context, u session.Utterance) error {
	query := `
	INSERT INTO utterances (id, session_id, opened_at, closed_at, transcript)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.SessionID, u.OpenedAt.UnixMilli(), u.ClosedAt.UnixMilli(), u.Transcript)
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn session.AgentTurn) error {
	query := `
	INSERT INTO turns (id, session_id, role, content, tool_name, tool_args, tool_result, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content,
		turn.ToolName, turn.ToolArgs, turn.ToolResult, turn.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionTurns(ctx context.Context, sessionID string) ([]session.AgentTurn, error) {
	query := `
	SELECT id, session_id, role, content, tool_name, tool_args, tool_result, created_at
	FROM turns WHERE session_id = ? ORDER BY created_at, rowid`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []session.AgentTurn
	for rows.Next() {
		var turn session.AgentTurn
		var role string
		var createdAt int64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content,
			&turn.ToolName, &turn.ToolArgs, &turn.ToolResult, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = session.Role(role)
		turn.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, turn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendNote(ctx context.Context, note session.Note) error {
	query := `
	INSERT INTO notes (id, session_id, text, tags, page_context, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		note.ID, note.SessionID, note.Text, strings.Join(note.Tags, ","),
		note.PageContext, note.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionNotes(ctx context.Context, sessionID string) ([]session.Note, error) {
	return s.queryNotes(ctx,
		`SELECT id, session_id, text, tags, page_context, created_at
		 FROM notes WHERE session_id = ? ORDER BY created_at`, sessionID)
}

func (s *SQLiteStore) NotesBetween(ctx context.Context, from, to time.Time) ([]session.Note, error) {
	return s.queryNotes(ctx,
		`SELECT id, session_id, text, tags, page_context, created_at
		 FROM notes WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		from.UnixMilli(), to.UnixMilli())
}

func (s *SQLiteStore) queryNotes(ctx context.Context, query string, args ...any) ([]session.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []session.Note
	for rows.Next() {
		var note session.Note
		var tags string
		var createdAt int64
		if err := rows.Scan(&note.ID, &note.SessionID, &note.Text, &tags,
			&note.PageContext, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		if tags != "" {
			note.Tags = strings.Split(tags, ",")
		}
		note.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, note)
	}
	return out, rows.Err()
}

// DailySummary aggregates the calendar day containing `day` in local time.
func (s *SQLiteStore) DailySummary(ctx context.Context, day time.Time) (session.DailySummary, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)

	sum := session.DailySummary{Date: from.Format("2006-01-02")}

	sessions, err := s.SessionsBetween(ctx, from, to)
	if err != nil {
		return sum, err
	}
	books := map[string]bool{}
	now := time.Now()
	for _, sess := range sessions {
		sum.Sessions++
		sum.Duration += sess.Duration(now)
		sum.PageTurns += sess.PageTurns
		if sess.BookName != "" && !books[sess.BookName] {
			books[sess.BookName] = true
			sum.BookNames = append(sum.BookNames, sess.BookName)
		}
	}

	notes, err := s.NotesBetween(ctx, from, to)
	if err != nil {
		return sum, err
	}
	sum.Notes = len(notes)
	return sum, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
