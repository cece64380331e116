package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/resilience"
)

// Webhook pushes interactive summary cards to a chat-bot webhook URL.
// Delivery is retried locally; a 429 maps to RateLimitError so the
// retry policy backs off instead of hammering the endpoint.
type Webhook struct {
	url    string
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

func NewWebhook(url string, retries int, backoff time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.NewRetryPolicy(retries, backoff),
		logger: logging.NewComponentLogger(slog.Default(), "bridge.webhook"),
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) PushSummary(ctx context.Context, card SummaryCard) error {
	payload := map[string]any{
		"msg_type": "interactive",
		"card":     buildCard(card),
	}
	err := w.retry.Do(ctx, func() error {
		return w.post(ctx, payload)
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBridgePush)
	}
	w.logger.Info("summary_pushed", "date", card.Date, "notes", len(card.Notes))
	return nil
}

func (w *Webhook) Reply(ctx context.Context, text string) error {
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]any{"text": text},
	}
	err := w.retry.Do(ctx, func() error {
		return w.post(ctx, payload)
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBridgePush)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.RateLimitError{Provider: "webhook"}
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// buildCard renders the interactive-card JSON: a blue header, stat
// lines in markdown, then up to three note excerpts after a divider.
func buildCard(card SummaryCard) map[string]any {
	elements := []map[string]any{
		mdDiv(fmt.Sprintf("**⏱ 阅读时长：** %s", card.Duration)),
		mdDiv(fmt.Sprintf("**📖 拍摄页数：** %d 页（%d 个会话）", card.Pages, card.Sessions)),
	}
	if len(card.BookNames) > 0 {
		books := card.BookNames
		if len(books) > 5 {
			books = books[:5]
		}
		var joined string
		for i, b := range books {
			if i > 0 {
				joined += ", "
			}
			joined += b
		}
		elements = append(elements, mdDiv(fmt.Sprintf("**📚 阅读书目：** %s", joined)))
	}
	elements = append(elements, map[string]any{"tag": "hr"})
	if len(card.Notes) > 0 {
		elements = append(elements, mdDiv(fmt.Sprintf("**📝 笔记精选（共 %d 条）**", len(card.Notes))))
		for i, note := range card.Notes {
			if i == 3 {
				break
			}
			if len([]rune(note)) > 100 {
				note = string([]rune(note)[:100]) + "..."
			}
			elements = append(elements, mdDiv(fmt.Sprintf("%d. %s", i+1, note)))
		}
	}
	if card.Summary != "" {
		elements = append(elements, mdDiv(card.Summary))
	}
	return map[string]any{
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": card.Title()},
			"template": "blue",
		},
		"elements": elements,
	}
}

func mdDiv(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]any{"tag": "lark_md", "content": content},
	}
}
