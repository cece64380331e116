package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/llm"
	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/scanner"
	"github.com/liqian5129/reading-comp/pkg/session"
	"github.com/liqian5129/reading-comp/pkg/store"
)

const (
	NameCapturePageNow = "capture_page_now"
	NameRecordNote     = "record_note"
	NameQueryHistory   = "query_history"
	NameEndSession     = "end_session"
	NameSetTimer       = "set_timer"
	NameCancelTimer    = "cancel_timer"
)

var ErrUnknownTool = errors.New("unknown tool")

// SessionContext is what the orchestrator lends the registry for the
// duration of one tool call: the active session and the current page
// text. The registry never mutates orchestrator state directly.
type SessionContext interface {
	ActiveSession() *session.Session
	CurrentPageText() string
}

type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry is the closed dispatch table for AI tool calls. Dispatch is
// by exact name; anything else takes the unknown-tool error path, which
// is reported back to the AI service rather than failing the session.
type Registry struct {
	defs     []llm.Tool
	handlers map[string]Handler
	timeout  time.Duration
	logger   *slog.Logger
}

type Deps struct {
	Scanner *scanner.Scanner
	Store   store.Store
	Session SessionContext
	// Reminders is optional; when nil the timer tools are not
	// advertised.
	Reminders *Reminders
	Now       func() time.Time
}

func NewRegistry(deps Deps, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{
		timeout: timeout,
		logger:  logging.NewComponentLogger(slog.Default(), "tools"),
	}
	r.defs = []llm.Tool{
		{
			Name: NameCapturePageNow,
			Description: "立即拍摄当前书页并识别文字。当用户说'看看这页'、'拍一下'时调用。" +
				"返回识别出的页面文本。",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name: NameRecordNote,
			Description: "记录用户的读书笔记。当用户说'记录一下'、'摘抄这段'、'记个笔记'时调用。" +
				"tags 由用户指定或从内容中提取关键词。",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string", "description": "笔记内容"},
					"tags": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "标签列表，可为空",
					},
				},
				"required": []string{"content"},
			},
		},
		{
			Name: NameQueryHistory,
			Description: "查询某一天的阅读记录和笔记。当用户问'今天读了什么'、'昨天记了什么'时调用。" +
				"date 格式 YYYY-MM-DD，留空表示今天。",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": map[string]any{"type": "string", "description": "查询日期，YYYY-MM-DD"},
				},
			},
		},
		{
			Name: NameEndSession,
			Description: "结束本次阅读会话并推送总结。当用户说'读完了'、'结束'时调用。" +
				"summary 可选，留空则由系统汇总生成。",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{"type": "string", "description": "会话总结，可留空"},
				},
			},
		},
	}
	r.handlers = map[string]Handler{
		NameCapturePageNow: r.capturePageNow(deps),
		NameRecordNote:     r.recordNote(deps),
		NameQueryHistory:   r.queryHistory(deps),
		NameEndSession:     r.endSession(deps),
	}
	if deps.Reminders != nil {
		r.defs = append(r.defs,
			llm.Tool{
				Name: NameSetTimer,
				Description: "设置一个阅读提醒。当用户说'提醒我休息'、'再读二十分钟'时调用。" +
					"minutes 为分钟数，label 为到点时播报的内容。",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"minutes": map[string]any{"type": "number", "description": "多少分钟后提醒"},
						"label":   map[string]any{"type": "string", "description": "提醒内容"},
					},
					"required": []string{"minutes"},
				},
			},
			llm.Tool{
				Name: NameCancelTimer,
				Description: "取消阅读提醒。timer_id 留空则取消全部。" +
					"当用户说'不用提醒了'时调用。",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"timer_id": map[string]any{"type": "string", "description": "要取消的提醒 id，可留空"},
					},
				},
			})
		r.handlers[NameSetTimer] = r.setTimer(deps)
		r.handlers[NameCancelTimer] = r.cancelTimer(deps)
	}
	return r
}

func (r *Registry) Tools() []llm.Tool { return r.defs }

// Execute runs one tool under the registry timeout. The returned string
// is always a JSON payload suitable for the AI service; on failure it
// carries the error and err is non-nil for the caller's bookkeeping.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	handler, ok := r.handlers[name]
	if !ok {
		r.logger.Warn("unknown_tool_requested", "tool", name)
		err := errorsx.Wrap(fmt.Errorf("%w: %s", ErrUnknownTool, name), errorsx.ReasonToolUnknown)
		return errorPayload(fmt.Sprintf("未知工具: %s", name)), err
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := handler(tctx, args)
	if err != nil {
		reason := errorsx.ReasonToolExec
		if tctx.Err() != nil {
			reason = errorsx.ReasonToolTimeout
		}
		err = errorsx.Wrap(err, reason)
		r.logger.Error("tool_failed",
			"tool", name,
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
		return errorPayload(err.Error()), err
	}
	return result, nil
}

func (r *Registry) capturePageNow(deps Deps) Handler {
	return func(ctx context.Context, _ map[string]any) (string, error) {
		page, err := deps.Scanner.CaptureNow(ctx)
		if err != nil {
			return "", err
		}
		return okPayload(map[string]any{
			"text":       page.Text,
			"similarity": page.Similarity,
		}), nil
	}
}

func (r *Registry) recordNote(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		content := strings.TrimSpace(stringArg(args, "content"))
		if content == "" {
			return "", errors.New("笔记内容不能为空")
		}
		sess := deps.Session.ActiveSession()
		if sess == nil {
			return "", errors.New("没有进行中的阅读会话")
		}
		note := session.NewNote(sess.ID, content, deps.Session.CurrentPageText(),
			stringSliceArg(args, "tags"), deps.Now())
		if err := deps.Store.AppendNote(ctx, note); err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonStoreWrite)
		}
		return okPayload(map[string]any{
			"message": "笔记已记录",
			"note_id": note.ID,
		}), nil
	}
}

func (r *Registry) queryHistory(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		day := deps.Now()
		if raw := strings.TrimSpace(stringArg(args, "date")); raw != "" {
			parsed, err := time.ParseInLocation("2006-01-02", raw, day.Location())
			if err != nil {
				return "", fmt.Errorf("无法解析日期 %q: %w", raw, err)
			}
			day = parsed
		}
		from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		to := from.Add(24 * time.Hour)

		sessions, err := deps.Store.SessionsBetween(ctx, from, to)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonStoreRead)
		}
		notes, err := deps.Store.NotesBetween(ctx, from, to)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonStoreRead)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s 共 %d 个阅读会话、%d 条笔记。", from.Format("2006-01-02"), len(sessions), len(notes))
		now := deps.Now()
		for _, s := range sessions {
			book := s.BookName
			if book == "" {
				book = "未命名书籍"
			}
			fmt.Fprintf(&b, "《%s》读了 %d 分钟，翻页 %d 次。", book, int(s.Duration(now).Minutes()), s.PageTurns)
		}
		for _, n := range notes {
			fmt.Fprintf(&b, "笔记：%s。", n.Text)
		}
		return okPayload(map[string]any{"summary": b.String()}), nil
	}
}

func (r *Registry) endSession(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		if deps.Session.ActiveSession() == nil {
			return "", errors.New("没有进行中的阅读会话")
		}
		summary := strings.TrimSpace(stringArg(args, "summary"))
		// The Ended transition itself belongs to the orchestrator; the
		// tool only validates and relays the optional summary.
		return okPayload(map[string]any{
			"message": "会话即将结束",
			"summary": summary,
		}), nil
	}
}

func (r *Registry) setTimer(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (string, error) {
		if deps.Session.ActiveSession() == nil {
			return "", errors.New("没有进行中的阅读会话")
		}
		minutes := floatArg(args, "minutes")
		if minutes <= 0 {
			return "", errors.New("提醒时长必须大于零")
		}
		label := strings.TrimSpace(stringArg(args, "label"))
		if label == "" {
			label = "阅读提醒时间到了"
		}
		id := deps.Reminders.Set(time.Duration(minutes*float64(time.Minute)), label)
		return okPayload(map[string]any{
			"message":  fmt.Sprintf("已设置 %.0f 分钟后的提醒", minutes),
			"timer_id": id,
		}), nil
	}
}

func (r *Registry) cancelTimer(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (string, error) {
		if id := strings.TrimSpace(stringArg(args, "timer_id")); id != "" {
			if !deps.Reminders.Cancel(id) {
				return "", fmt.Errorf("没有找到提醒 %s", id)
			}
			return okPayload(map[string]any{"message": "提醒已取消"}), nil
		}
		n := deps.Reminders.CancelAll()
		return okPayload(map[string]any{
			"message": fmt.Sprintf("已取消全部 %d 个提醒", n),
		}), nil
	}
}

func okPayload(fields map[string]any) string {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(raw)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SummaryFromPayload extracts the relayed summary from an end_session
// tool result.
func SummaryFromPayload(payload string) string {
	var parsed struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal([]byte(payload), &parsed)
	return parsed.Summary
}
