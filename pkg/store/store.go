package store

import (
	"context"
	"time"

	"github.com/liqian5129/reading-comp/pkg/session"
)

// Store is the durable record of sessions, snapshots, conversation
// turns, and notes. The orchestrator loop is the only writer; reads
// (query_history, summaries) may run concurrently with it.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	EndSession(ctx context.Context, id string, endAt time.Time, pageTurns, snapshots int) error
	SessionsBetween(ctx context.Context, from, to time.Time) ([]session.Session, error)

	AppendSnapshot(ctx context.Context, snap session.PageSnapshot) error
	SessionSnapshots(ctx context.Context, sessionID string) ([]session.PageSnapshot, error)

	AppendUtterance(ctx context.Context, u session.Utterance) error

	AppendTurn(ctx context.Context, turn session.AgentTurn) error
	SessionTurns(ctx context.Context, sessionID string) ([]session.AgentTurn, error)

	AppendNote(ctx context.Context, note session.Note) error
	SessionNotes(ctx context.Context, sessionID string) ([]session.Note, error)
	NotesBetween(ctx context.Context, from, to time.Time) ([]session.Note, error)

	DailySummary(ctx context.Context, day time.Time) (session.DailySummary, error)

	Close() error
}
