package store

import (
	"context"
	"testing"
	"time"

	"github.com/liqian5129/reading-comp/pkg/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 14, 20, 0, 0, 0, time.Local)
	sess := session.New("活着", start)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.EndSession(ctx, sess.ID, start.Add(42*time.Minute), 12, 30); err != nil {
		t.Fatalf("end session: %v", err)
	}

	got, err := s.SessionsBetween(ctx, start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sessions = %d, want 1", len(got))
	}
	if got[0].Status != session.StatusEnded {
		t.Fatalf("status = %s, want ended", got[0].Status)
	}
	if got[0].PageTurns != 12 || got[0].Snapshots != 30 {
		t.Fatalf("counters = %d/%d, want 12/30", got[0].PageTurns, got[0].Snapshots)
	}
}

func TestEndSessionUnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.EndSession(context.Background(), "missing", time.Now(), 0, 0); err == nil {
		t.Fatal("expected error for unknown session id")
	}
}

func TestNoteRoundTripUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	sess := session.New("", now)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	text := "摘抄：落霞与孤鹜齐飞"
	note := session.NewNote(sess.ID, text, "秋水共长天一色", []string{"摘抄", "王勃"}, now)
	if err := s.AppendNote(ctx, note); err != nil {
		t.Fatalf("append note: %v", err)
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	got, err := s.NotesBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("query notes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("notes = %d, want 1", len(got))
	}
	if got[0].Text != text {
		t.Fatalf("note text changed: %q", got[0].Text)
	}
	if len(got[0].Tags) != 2 || got[0].Tags[1] != "王勃" {
		t.Fatalf("tags changed: %v", got[0].Tags)
	}
}

func TestTurnOrderingIsStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	sess := session.New("", now)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Same millisecond on purpose: insertion order must still win.
	turns := []session.AgentTurn{
		session.NewAgentTurn(sess.ID, session.RoleUser, "看看这页", now),
		session.NewToolTurn(sess.ID, "capture_page_now", "{}", `{"ok":true}`, now),
		session.NewAgentTurn(sess.ID, session.RoleAssistant, "这一页讲的是……", now),
	}
	for _, turn := range turns {
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}

	got, err := s.SessionTurns(ctx, sess.ID)
	if err != nil {
		t.Fatalf("query turns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("turns = %d, want 3", len(got))
	}
	for i := range turns {
		if got[i].ID != turns[i].ID {
			t.Fatalf("turn %d out of order", i)
		}
	}
	if got[1].ToolName != "capture_page_now" {
		t.Fatalf("tool turn lost descriptor: %q", got[1].ToolName)
	}
}

func TestReplayFromPersistedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 20, 0, 0, 0, time.Local)
	sess := session.New("活着", base)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.AppendSnapshot(ctx, session.NewPageSnapshot(sess.ID, "第一页", 0.1, base.Add(time.Second))); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}
	if err := s.AppendTurn(ctx, session.NewAgentTurn(sess.ID, session.RoleUser, "开始读书", base.Add(2*time.Second))); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := s.AppendTurn(ctx, session.NewAgentTurn(sess.ID, session.RoleAssistant, "好，开始扫描", base.Add(3*time.Second))); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	turns, err := s.SessionTurns(ctx, sess.ID)
	if err != nil {
		t.Fatalf("query turns: %v", err)
	}
	snaps, err := s.SessionSnapshots(ctx, sess.ID)
	if err != nil {
		t.Fatalf("query snapshots: %v", err)
	}

	entries := session.Replay(turns, snaps)
	if len(entries) != 3 {
		t.Fatalf("replay entries = %d, want 3", len(entries))
	}
	if entries[0].PageText != "第一页" {
		t.Fatalf("expected page first, got %+v", entries[0])
	}
	if entries[1].Role != session.RoleUser || entries[2].Role != session.RoleAssistant {
		t.Fatalf("conversation order broken: %+v", entries[1:])
	}
}

func TestDailySummaryAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.Local)
	a := session.New("活着", day.Add(9*time.Hour))
	b := session.New("百年孤独", day.Add(21*time.Hour))
	for _, sess := range []*session.Session{a, b} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	if err := s.EndSession(ctx, a.ID, day.Add(9*time.Hour+30*time.Minute), 10, 15); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if err := s.EndSession(ctx, b.ID, day.Add(22*time.Hour), 20, 25); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if err := s.AppendNote(ctx, session.NewNote(a.ID, "好句", "", nil, day.Add(9*time.Hour+5*time.Minute))); err != nil {
		t.Fatalf("append note: %v", err)
	}

	sum, err := s.DailySummary(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	if sum.Sessions != 2 || sum.PageTurns != 30 || sum.Notes != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Duration != 90*time.Minute {
		t.Fatalf("duration = %s, want 1h30m", sum.Duration)
	}
	if len(sum.BookNames) != 2 {
		t.Fatalf("books = %v", sum.BookNames)
	}
}
