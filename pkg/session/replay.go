package session

import (
	"sort"
	"time"
)

// ReplayEntry is one row of a reconstructed session timeline.
type ReplayEntry struct {
	At       time.Time
	Role     Role
	Text     string
	ToolName string
	PageText string
}

// Replay rebuilds the full conversation and page history of a session
// from its persisted records alone, without touching any leaf service.
// Entries are ordered by creation time, turns before snapshots on ties
// so a capture triggered by a tool call lands after the tool turn.
func Replay(turns []AgentTurn, snapshots []PageSnapshot) []ReplayEntry {
	entries := make([]ReplayEntry, 0, len(turns)+len(snapshots))
	for _, t := range turns {
		e := ReplayEntry{At: t.CreatedAt, Role: t.Role, Text: t.Content, ToolName: t.ToolName}
		if t.Role == RoleTool {
			e.Text = t.ToolResult
		}
		entries = append(entries, e)
	}
	for _, s := range snapshots {
		entries = append(entries, ReplayEntry{At: s.CapturedAt, PageText: s.Text})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].At.Equal(entries[j].At) {
			return entries[i].PageText == "" && entries[j].PageText != ""
		}
		return entries[i].At.Before(entries[j].At)
	})
	return entries
}
