package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Session is one reading sitting. Exactly one session is active per
// device; the orchestrator owns its in-memory state.
type Session struct {
	ID        string
	BookName  string
	StartAt   time.Time
	EndAt     time.Time
	Status    Status
	PageTurns int
	Snapshots int
}

func New(bookName string, startAt time.Time) *Session {
	return &Session{
		ID:       uuid.NewString(),
		BookName: bookName,
		StartAt:  startAt,
		Status:   StatusActive,
	}
}

func (s *Session) Duration(now time.Time) time.Duration {
	end := s.EndAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartAt)
}

// PageSnapshot is one persisted OCR capture. Captures whose similarity
// to the previous snapshot meets the coalescing threshold are not
// persisted; they only refresh the orchestrator's current-page cell.
type PageSnapshot struct {
	ID         string
	SessionID  string
	CapturedAt time.Time
	Text       string
	Similarity float64
}

func NewPageSnapshot(sessionID, text string, similarity float64, at time.Time) PageSnapshot {
	return PageSnapshot{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		CapturedAt: at,
		Text:       text,
		Similarity: similarity,
	}
}

// Utterance is a finalized push-to-talk transcript. Utterances with an
// empty final transcript are discarded, never persisted.
type Utterance struct {
	ID         string
	SessionID  string
	OpenedAt   time.Time
	ClosedAt   time.Time
	Transcript string
}

func NewUtterance(sessionID string, openedAt time.Time) Utterance {
	return Utterance{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		OpenedAt:  openedAt,
	}
}

// AgentTurn is one append-only conversation record. Tool turns pair the
// request (name + JSON args) with its result in a single record; the
// ordering of turns within a session is the source of truth for replay.
type AgentTurn struct {
	ID         string
	SessionID  string
	Role       Role
	Content    string
	ToolName   string
	ToolArgs   string
	ToolResult string
	CreatedAt  time.Time
}

func NewAgentTurn(sessionID string, role Role, content string, at time.Time) AgentTurn {
	return AgentTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func NewToolTurn(sessionID, name, args, result string, at time.Time) AgentTurn {
	return AgentTurn{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       RoleTool,
		ToolName:   name,
		ToolArgs:   args,
		ToolResult: result,
		CreatedAt:  at,
	}
}

// Note is created only through the record_note tool and immutable
// afterwards. PageContext carries the OCR text visible at record time.
type Note struct {
	ID          string
	SessionID   string
	Text        string
	Tags        []string
	PageContext string
	CreatedAt   time.Time
}

func NewNote(sessionID, text, pageContext string, tags []string, at time.Time) Note {
	return Note{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Text:        text,
		Tags:        tags,
		PageContext: pageContext,
		CreatedAt:   at,
	}
}

// DailySummary aggregates one calendar day for the remote bridge push.
type DailySummary struct {
	Date      string
	Sessions  int
	Duration  time.Duration
	PageTurns int
	Notes     int
	BookNames []string
}

func (d DailySummary) DurationString() string {
	minutes := int(d.Duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%d 分钟", minutes)
	}
	return fmt.Sprintf("%d 小时 %d 分钟", minutes/60, minutes%60)
}
