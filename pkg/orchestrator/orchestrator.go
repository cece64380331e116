package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liqian5129/reading-comp/pkg/bridge"
	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/llm"
	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/metrics"
	"github.com/liqian5129/reading-comp/pkg/redact"
	"github.com/liqian5129/reading-comp/pkg/session"
	"github.com/liqian5129/reading-comp/pkg/speech"
	"github.com/liqian5129/reading-comp/pkg/store"
	"github.com/liqian5129/reading-comp/pkg/tools"
)

const defaultSystemPrompt = "你是一个读书搭子。用户正在读一本实体书，你通过摄像头看到当前书页的文字。" +
	"回答要口语化、简短，适合语音播放。需要时调用工具。"

const defaultFallbackReply = "抱歉，我刚才走神了，能再说一遍吗？"

type Config struct {
	BookName            string
	SystemPrompt        string
	FallbackReply       string
	SimilarityThreshold float64
	ToolDepth           int
	AITimeout           time.Duration
	AIRetries           int
	RetryBase           time.Duration
	RetryMax            time.Duration
	BarrierTimeout      time.Duration
}

func (c *Config) setDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.FallbackReply == "" {
		c.FallbackReply = defaultFallbackReply
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.95
	}
	if c.ToolDepth <= 0 {
		c.ToolDepth = 4
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 30 * time.Second
	}
	if c.AIRetries <= 0 {
		c.AIRetries = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.BarrierTimeout <= 0 {
		c.BarrierTimeout = 10 * time.Second
	}
}

// Orchestrator is the single consumer of the session event queue and
// the sole mutator of session state. AI turns, tool execution and
// persistence all happen synchronously inside the loop,
// one event at a time, so at most one AI turn is ever in flight and no
// lock is needed beyond the camera mutex inside the scanner.
type Orchestrator struct {
	cfg      Config
	queue    *events.Queue
	ai       llm.Adapter
	registry *tools.Registry
	store    store.Store
	player   *speech.Player
	bridge   bridge.Bridge
	obs      metrics.Observer
	logger   *slog.Logger

	fsm  *stateMachine
	done chan struct{}

	// mu guards the fields below for readers outside the loop (tool
	// handlers run in-loop but tests and health checks do not).
	mu        sync.Mutex
	sess      *session.Session
	pageText  string
	pageAt    time.Time
	anyPage   bool
	history   []llm.Message
	utterance *session.Utterance
	ended     bool
}

func New(cfg Config, queue *events.Queue, ai llm.Adapter, st store.Store, player *speech.Player, br bridge.Bridge, obs metrics.Observer) *Orchestrator {
	cfg.setDefaults()
	if br == nil {
		br = bridge.Noop{}
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	o := &Orchestrator{
		cfg:    cfg,
		queue:  queue,
		ai:     ai,
		store:  st,
		player: player,
		bridge: br,
		obs:    obs,
		logger: logging.NewComponentLogger(slog.Default(), "orchestrator"),
		fsm:    newStateMachine(),
		done:   make(chan struct{}),
	}
	o.fsm.AddListener(stateMetrics{obs: obs})
	return o
}

// AttachTools wires the tool registry. Done after construction because
// the registry's handlers read session context from the orchestrator.
func (o *Orchestrator) AttachTools(reg *tools.Registry) { o.registry = reg }

func (o *Orchestrator) State() State { return o.fsm.State() }

// Done is closed once the session reaches Ended and the barrier has
// run.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) AddStateListener(l StateListener) { o.fsm.AddListener(l) }

// ActiveSession implements tools.SessionContext.
func (o *Orchestrator) ActiveSession() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return nil
	}
	return o.sess
}

// CurrentPageText implements tools.SessionContext.
func (o *Orchestrator) CurrentPageText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pageText
}

// Run creates the session record and consumes the queue until the
// context is cancelled or the queue closes. The session surviving in
// Ended state keeps consuming so that late events are dropped with a
// warning rather than stranded.
func (o *Orchestrator) Run(ctx context.Context) error {
	sess := session.New(o.cfg.BookName, time.Now())
	o.mu.Lock()
	o.sess = sess
	o.mu.Unlock()

	if err := o.store.CreateSession(ctx, sess); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonStoreWrite)
	}
	o.logger.Info("session_started", "session_id", sess.ID, "book", sess.BookName)

	for {
		ev, ok := o.queue.Pop(ctx)
		if !ok {
			return nil
		}
		o.handleEvent(ctx, ev)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev events.Event) {
	o.mu.Lock()
	ended := o.ended
	o.mu.Unlock()
	if ended {
		if ev.Kind() != events.KindPlaybackFinished {
			o.logger.Warn("event_dropped_after_end", "kind", string(ev.Kind()))
			o.obs.RecordEvent(metrics.Event{Name: "event_dropped_after_end", Time: time.Now(),
				Tags: map[string]string{"kind": string(ev.Kind())}})
		}
		return
	}

	switch e := ev.(type) {
	case events.PageCaptured:
		o.onPageCaptured(ctx, e)
	case events.UtteranceStarted:
		o.onUtteranceStarted(e)
	case events.UtterancePartial:
		o.logger.Debug("utterance_partial", "text", redact.Text(e.Text()))
	case events.UtteranceFinal:
		o.onUtteranceFinal(ctx, e)
	case events.PlaybackFinished:
		o.onPlaybackFinished()
	case events.SourceLost:
		o.onSourceLost(e)
	case events.RemoteMessage:
		o.onRemoteMessage(ctx, e)
	case events.ReminderDue:
		o.onReminderDue(ctx, e)
	default:
		o.logger.Warn("unhandled_event", "kind", string(ev.Kind()))
	}
}

// onPageCaptured updates the current-page cell in every non-terminal
// state; it never transitions the state machine. A capture whose
// similarity meets the threshold is coalesced: the cell timestamp moves
// forward but no snapshot is persisted.
func (o *Orchestrator) onPageCaptured(ctx context.Context, ev events.PageCaptured) {
	o.mu.Lock()
	coalesce := o.anyPage && ev.Similarity() >= o.cfg.SimilarityThreshold
	o.pageText = ev.Text()
	o.pageAt = ev.At()
	o.anyPage = true
	sess := o.sess
	o.mu.Unlock()

	if coalesce {
		o.obs.RecordEvent(metrics.Event{Name: "page_coalesced", Time: time.Now()})
		return
	}

	snap := session.NewPageSnapshot(sess.ID, ev.Text(), ev.Similarity(), ev.At())
	if err := o.store.AppendSnapshot(ctx, snap); err != nil {
		o.logger.Warn("snapshot_write_failed",
			"reason_code", string(errorsx.ReasonStoreWrite),
			"error", err)
		return
	}
	o.mu.Lock()
	sess.Snapshots++
	if sess.Snapshots > 1 {
		sess.PageTurns++
	}
	o.mu.Unlock()
	o.obs.RecordEvent(metrics.Event{Name: "page_snapshot", Time: time.Now(),
		Tags: map[string]string{"forced": fmt.Sprint(ev.Forced())}})
}

func (o *Orchestrator) onUtteranceStarted(ev events.UtteranceStarted) {
	switch o.fsm.State() {
	case StateSpeaking:
		// Barge-in: cancel must land before the Listening transition.
		o.player.Cancel()
		o.transition(StateListening, "barge-in")
	case StateIdle:
		o.transition(StateListening, "push-to-talk")
	case StateListening:
		// Key bounced; restart the utterance below.
	}
	o.mu.Lock()
	u := session.NewUtterance(o.sess.ID, ev.At())
	o.utterance = &u
	o.mu.Unlock()
}

func (o *Orchestrator) onUtteranceFinal(ctx context.Context, ev events.UtteranceFinal) {
	text := strings.TrimSpace(ev.Text())

	o.mu.Lock()
	u := o.utterance
	o.utterance = nil
	sess := o.sess
	o.mu.Unlock()

	if text == "" {
		if o.fsm.State() == StateListening {
			o.transition(StateIdle, "empty utterance")
		}
		return
	}

	if u == nil {
		u2 := session.NewUtterance(sess.ID, ev.At())
		u = &u2
	}
	u.ClosedAt = ev.At()
	u.Transcript = text
	if err := o.store.AppendUtterance(ctx, *u); err != nil {
		o.logger.Warn("utterance_write_failed",
			"reason_code", string(errorsx.ReasonStoreWrite),
			"error", err)
	}

	o.transition(StateThinking, "utterance finalized")
	reply, end := o.runTurn(ctx, text)
	if end.requested {
		o.endSession(end.summary)
		return
	}
	if reply == "" {
		o.transition(StateIdle, "turn produced no reply")
		return
	}
	o.transition(StateSpeaking, "assistant reply")
	o.player.Play(ctx, reply)
}

func (o *Orchestrator) onPlaybackFinished() {
	if o.fsm.State() != StateSpeaking {
		// Stale completion racing a cancel; nothing to do.
		return
	}
	o.transition(StateIdle, "playback complete")
}

func (o *Orchestrator) onSourceLost(ev events.SourceLost) {
	o.logger.Warn("source_lost", "source", string(ev.Source()), "error", ev.Reason())
	o.obs.RecordEvent(metrics.Event{Name: "source_lost", Time: time.Now(),
		Tags: map[string]string{"source": string(ev.Source())}})
	state := o.fsm.State()
	if state == StateSpeaking {
		o.player.Cancel()
	}
	if state != StateIdle {
		o.transition(StateIdle, "source lost: "+string(ev.Source()))
	}
	o.mu.Lock()
	o.utterance = nil
	o.mu.Unlock()
}

// onReminderDue speaks an expired reading timer. A reminder only
// interrupts silence: mid-conversation or mid-playback it is logged
// and dropped rather than talking over the reader.
func (o *Orchestrator) onReminderDue(ctx context.Context, ev events.ReminderDue) {
	if o.fsm.State() != StateIdle {
		o.logger.Info("reminder_skipped_busy", "reminder_id", ev.ID(), "label", ev.Label())
		return
	}
	o.obs.RecordEvent(metrics.Event{Name: "reminder_spoken", Time: time.Now(),
		Tags: map[string]string{"reminder_id": ev.ID()}})
	o.transition(StateSpeaking, "reminder due")
	o.player.Play(ctx, ev.Label())
}

// onRemoteMessage answers a bridge chat turn through the same AI loop
// as a voice utterance but replies over the bridge instead of the
// speaker. The state machine only participates when the session is
// otherwise idle; a remote turn never preempts local speech.
func (o *Orchestrator) onRemoteMessage(ctx context.Context, ev events.RemoteMessage) {
	text := strings.TrimSpace(ev.Text())
	if text == "" {
		return
	}
	fromIdle := o.fsm.State() == StateIdle
	if fromIdle {
		o.transition(StateThinking, "remote message")
	}
	reply, end := o.runTurn(ctx, text)
	if end.requested {
		o.endSession(end.summary)
		return
	}
	if fromIdle {
		o.transition(StateIdle, "remote turn complete")
	}
	if reply == "" {
		return
	}
	if err := o.bridge.Reply(ctx, reply); err != nil {
		o.logger.Warn("remote_reply_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
	}
}

type endRequest struct {
	requested bool
	summary   string
}

// runTurn drives one AI turn to completion: user message in, tool
// calls executed one at a time, final assistant text out. Failures
// degrade to the fallback reply; tool errors go back to the AI as
// error payloads and are not fatal.
func (o *Orchestrator) runTurn(ctx context.Context, userText string) (string, endRequest) {
	started := time.Now()
	o.mu.Lock()
	sess := o.sess
	o.history = append(o.history, llm.Message{Role: llm.RoleUser, Content: userText})
	o.mu.Unlock()
	o.persistTurn(ctx, session.NewAgentTurn(sess.ID, session.RoleUser, userText, time.Now()))

	var end endRequest
	reply := ""
	failed := false

	for depth := 0; ; depth++ {
		if depth > o.cfg.ToolDepth {
			o.logger.Error("tool_loop_exceeded", "depth", depth-1)
			o.obs.RecordEvent(metrics.Event{Name: "tool_loop_exceeded", Time: time.Now()})
			failed = true
			break
		}

		resp, err := o.generate(ctx)
		if err != nil {
			o.logger.Error("ai_turn_failed",
				"reason_code", string(errorsx.ReasonAIGenerate),
				"attempts", o.cfg.AIRetries+1,
				"error", err)
			failed = true
			break
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Text
			o.mu.Lock()
			o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
			o.mu.Unlock()
			o.persistTurn(ctx, session.NewAgentTurn(sess.ID, session.RoleAssistant, reply, time.Now()))
			break
		}

		call := resp.ToolCalls[0]
		argsJSON, _ := json.Marshal(call.Arguments)
		result, terr := o.registry.Execute(ctx, call.Name, call.Arguments)

		o.mu.Lock()
		o.history = append(o.history,
			llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("调用工具 %s", call.Name)},
			llm.Message{Role: llm.RoleTool, ToolName: call.Name, Content: result})
		o.mu.Unlock()
		o.persistTurn(ctx, session.NewToolTurn(sess.ID, call.Name, string(argsJSON), result, time.Now()))

		if call.Name == tools.NameEndSession && terr == nil {
			end.requested = true
			end.summary = tools.SummaryFromPayload(result)
			break
		}
	}

	if failed {
		reply = o.cfg.FallbackReply
	}
	o.obs.RecordEvent(metrics.Event{Name: "turn_latency", Time: time.Now(),
		Value: float64(time.Since(started).Milliseconds()),
		Tags:  map[string]string{"failed": fmt.Sprint(failed)}})
	return reply, end
}

func (o *Orchestrator) generate(ctx context.Context) (llm.Response, error) {
	o.mu.Lock()
	msgs := make([]llm.Message, len(o.history))
	copy(msgs, o.history)
	page := o.pageText
	o.mu.Unlock()

	system := o.cfg.SystemPrompt
	if page != "" {
		system += "\n当前书页内容：\n" + page
	}
	req := llm.Request{System: system, Messages: msgs, Tools: o.registry.Tools()}

	return llm.Retry(ctx, llm.RetryConfig{
		MaxAttempts: o.cfg.AIRetries + 1,
		BaseDelay:   o.cfg.RetryBase,
		MaxDelay:    o.cfg.RetryMax,
	}, func(ctx context.Context) (llm.Response, error) {
		actx, cancel := context.WithTimeout(ctx, o.cfg.AITimeout)
		defer cancel()
		return o.ai.Generate(actx, req)
	})
}

// endSession runs the terminal barrier: stop accepting events, cancel
// playback, compose and persist the summary, mark the session Ended,
// then hand the card to the bridge. A store failure here is logged as
// unrecoverable but the session is still marked Ended rather than left
// stuck Active.
func (o *Orchestrator) endSession(summary string) {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	o.ended = true
	sess := o.sess
	o.mu.Unlock()

	o.player.Cancel()

	bctx, cancel := context.WithTimeout(context.Background(), o.cfg.BarrierTimeout)
	defer cancel()

	notes, err := o.store.SessionNotes(bctx, sess.ID)
	if err != nil {
		o.logger.Warn("notes_read_failed", "error", err)
	}
	if summary == "" {
		summary = o.composeSummary(sess, len(notes))
	}

	endAt := time.Now()
	if err := o.store.EndSession(bctx, sess.ID, endAt, sess.PageTurns, sess.Snapshots); err != nil {
		o.logger.Error("session_end_write_failed",
			"reason_code", string(errorsx.ReasonStoreWrite),
			"unrecoverable", true,
			"session_id", sess.ID,
			"error", err)
	}
	o.mu.Lock()
	sess.Status = session.StatusEnded
	sess.EndAt = endAt
	o.mu.Unlock()

	o.transition(StateEnded, "end_session")
	o.logger.Info("session_ended", "session_id", sess.ID,
		"page_turns", sess.PageTurns, "snapshots", sess.Snapshots, "notes", len(notes))

	daily, err := o.store.DailySummary(bctx, endAt)
	if err != nil {
		o.logger.Warn("daily_summary_failed", "error", err)
		daily = session.DailySummary{Date: endAt.Format("2006-01-02")}
	}
	card := bridge.NewSummaryCard(daily, notes, summary)
	if err := o.bridge.PushSummary(bctx, card); err != nil {
		o.logger.Warn("summary_push_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
	}

	close(o.done)
}

func (o *Orchestrator) composeSummary(sess *session.Session, notes int) string {
	book := sess.BookName
	if book == "" {
		book = "这本书"
	}
	minutes := int(sess.Duration(time.Now()).Minutes())
	return fmt.Sprintf("《%s》本次共读 %d 分钟，翻页 %d 次，记录 %d 条笔记。",
		book, minutes, sess.PageTurns, notes)
}

func (o *Orchestrator) persistTurn(ctx context.Context, turn session.AgentTurn) {
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		o.logger.Warn("turn_write_failed",
			"reason_code", string(errorsx.ReasonStoreWrite),
			"error", err)
	}
}

func (o *Orchestrator) transition(to State, reason string) {
	if err := o.fsm.Transition(to, reason); err != nil {
		o.logger.Error("state_transition_rejected", "to", to.String(), "error", err)
	}
}

type stateMetrics struct {
	obs metrics.Observer
}

func (s stateMetrics) OnStateChange(c StateChange) {
	s.obs.RecordEvent(metrics.Event{
		Name: "state_transition",
		Time: c.At,
		Tags: map[string]string{"from": c.From.String(), "to": c.To.String(), "reason": c.Reason},
	})
}
