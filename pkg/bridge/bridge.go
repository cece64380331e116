package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/liqian5129/reading-comp/pkg/redact"
	"github.com/liqian5129/reading-comp/pkg/session"
)

// SummaryCard is the finished-session summary handed to the remote
// bridge for push delivery. Text() renders it for plain-text channels
// (SMS); card channels build their own rich payload from the fields.
type SummaryCard struct {
	Date      string
	BookNames []string
	Duration  string
	Pages     int
	Sessions  int
	Notes     []string
	Summary   string
}

func NewSummaryCard(daily session.DailySummary, notes []session.Note, summary string) SummaryCard {
	card := SummaryCard{
		Date:      daily.Date,
		BookNames: daily.BookNames,
		Duration:  daily.DurationString(),
		Pages:     daily.PageTurns,
		Sessions:  daily.Sessions,
		Summary:   redact.Text(summary),
	}
	for _, n := range notes {
		card.Notes = append(card.Notes, redact.Text(n.Text))
	}
	return card
}

func (c SummaryCard) Title() string {
	return fmt.Sprintf("📚 今日阅读总结 · %s", c.Date)
}

func (c SummaryCard) Text() string {
	var b strings.Builder
	b.WriteString(c.Title())
	fmt.Fprintf(&b, "\n⏱ 阅读时长：%s", c.Duration)
	fmt.Fprintf(&b, "\n📖 拍摄页数：%d 页（%d 个会话）", c.Pages, c.Sessions)
	if len(c.BookNames) > 0 {
		books := c.BookNames
		if len(books) > 5 {
			books = books[:5]
		}
		fmt.Fprintf(&b, "\n📚 阅读书目：%s", strings.Join(books, ", "))
	}
	if len(c.Notes) > 0 {
		fmt.Fprintf(&b, "\n📝 笔记精选（共 %d 条）", len(c.Notes))
		for i, note := range c.Notes {
			if i == 3 {
				break
			}
			if len([]rune(note)) > 100 {
				note = string([]rune(note)[:100]) + "..."
			}
			fmt.Fprintf(&b, "\n%d. %s", i+1, note)
		}
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "\n%s", c.Summary)
	}
	return b.String()
}

// Bridge is the remote push channel. PushSummary is fire-and-forget
// with local retry inside the implementation; a returned error is
// logged by the caller, never fatal to session completion. Reply
// answers a remote chat turn on its originating channel.
type Bridge interface {
	Name() string
	PushSummary(ctx context.Context, card SummaryCard) error
	Reply(ctx context.Context, text string) error
}

// Noop is the bridge used when no remote channel is configured.
type Noop struct{}

func (Noop) Name() string                                { return "noop" }
func (Noop) PushSummary(context.Context, SummaryCard) error { return nil }
func (Noop) Reply(context.Context, string) error         { return nil }

// Multi fans out to every configured channel and reports the first
// failure after trying all of them.
type Multi []Bridge

func (m Multi) Name() string { return "multi" }

func (m Multi) PushSummary(ctx context.Context, card SummaryCard) error {
	var firstErr error
	for _, b := range m {
		if err := b.PushSummary(ctx, card); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return firstErr
}

func (m Multi) Reply(ctx context.Context, text string) error {
	var firstErr error
	for _, b := range m {
		if err := b.Reply(ctx, text); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return firstErr
}
