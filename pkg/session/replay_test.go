package session

import (
	"testing"
	"time"
)

func TestReplayOrdersByCreationTime(t *testing.T) {
	base := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	s := New("平凡的世界", base)

	turns := []AgentTurn{
		NewAgentTurn(s.ID, RoleUser, "这一章讲了什么？", base.Add(2*time.Minute)),
		NewAgentTurn(s.ID, RoleAssistant, "讲的是少平去县城上学。", base.Add(3*time.Minute)),
		NewToolTurn(s.ID, "record_note", `{"content":"少平进城"}`, `{"success":true}`, base.Add(5*time.Minute)),
	}
	snapshots := []PageSnapshot{
		NewPageSnapshot(s.ID, "第一章的文字", 0, base.Add(time.Minute)),
		NewPageSnapshot(s.ID, "第二章的文字", 0.1, base.Add(4*time.Minute)),
	}

	entries := Replay(turns, snapshots)
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	if entries[0].PageText != "第一章的文字" {
		t.Fatalf("first entry = %+v, want first snapshot", entries[0])
	}
	if entries[1].Role != RoleUser || entries[2].Role != RoleAssistant {
		t.Fatalf("conversation order broken: %+v %+v", entries[1], entries[2])
	}
	if entries[4].ToolName != "record_note" || entries[4].Text != `{"success":true}` {
		t.Fatalf("tool entry = %+v", entries[4])
	}
}

func TestReplayTurnBeforeSnapshotOnTie(t *testing.T) {
	at := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	turns := []AgentTurn{
		NewToolTurn("s1", "capture_page_now", "{}", `{"success":true}`, at),
	}
	snapshots := []PageSnapshot{
		NewPageSnapshot("s1", "工具拍到的一页", 0, at),
	}

	entries := Replay(turns, snapshots)
	if entries[0].ToolName != "capture_page_now" {
		t.Fatalf("entries[0] = %+v, want the tool turn", entries[0])
	}
	if entries[1].PageText != "工具拍到的一页" {
		t.Fatalf("entries[1] = %+v, want the snapshot", entries[1])
	}
}

func TestDurationString(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{25 * time.Minute, "25 分钟"},
		{95 * time.Minute, "1 小时 35 分钟"},
		{2 * time.Hour, "2 小时 0 分钟"},
	}
	for _, c := range cases {
		got := DailySummary{Duration: c.d}.DurationString()
		if got != c.want {
			t.Errorf("DurationString(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestSessionDurationFallsBackToNow(t *testing.T) {
	start := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	s := New("平凡的世界", start)
	now := start.Add(40 * time.Minute)
	if got := s.Duration(now); got != 40*time.Minute {
		t.Fatalf("Duration = %v", got)
	}
	s.EndAt = start.Add(30 * time.Minute)
	if got := s.Duration(now); got != 30*time.Minute {
		t.Fatalf("Duration after end = %v", got)
	}
}
