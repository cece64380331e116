package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liqian5129/reading-comp/pkg/bridge"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/llm"
	"github.com/liqian5129/reading-comp/pkg/providers/mock"
	"github.com/liqian5129/reading-comp/pkg/scanner"
	"github.com/liqian5129/reading-comp/pkg/speech"
	"github.com/liqian5129/reading-comp/pkg/store"
	"github.com/liqian5129/reading-comp/pkg/tools"
)

type fakeBridge struct {
	mu      sync.Mutex
	cards   []bridge.SummaryCard
	replies []string
}

func (f *fakeBridge) Name() string { return "fake" }

func (f *fakeBridge) PushSummary(_ context.Context, card bridge.SummaryCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, card)
	return nil
}

func (f *fakeBridge) Reply(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeBridge) pushed() []bridge.SummaryCard {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bridge.SummaryCard, len(f.cards))
	copy(out, f.cards)
	return out
}

func (f *fakeBridge) replied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.replies))
	copy(out, f.replies)
	return out
}

type harness struct {
	queue *events.Queue
	store store.Store
	synth *mock.Synthesizer
	br    *fakeBridge
	orch  *Orchestrator
}

func newHarness(t *testing.T, ai llm.Adapter, ttsLatency time.Duration) *harness {
	t.Helper()
	queue := events.NewQueue()
	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	synth := mock.NewSynthesizer(ttsLatency)
	player := speech.NewPlayer(synth, queue)
	br := &fakeBridge{}

	orch := New(Config{
		BookName:       "平凡的世界",
		AIRetries:      2,
		AITimeout:      time.Second,
		RetryBase:      time.Millisecond,
		RetryMax:       2 * time.Millisecond,
		BarrierTimeout: 2 * time.Second,
	}, queue, ai, st, player, br, nil)

	sc := scanner.New(mock.NewPageSource(mock.Page{Text: "工具拍到的一页", Similarity: 0.1}),
		queue, scanner.Config{Interval: time.Hour, Timeout: time.Second}, nil)
	orch.AttachTools(tools.NewRegistry(tools.Deps{
		Scanner:   sc,
		Store:     st,
		Session:   orch,
		Reminders: tools.NewReminders(queue),
	}, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
		st.Close()
	})

	h := &harness{queue: queue, store: st, synth: synth, br: br, orch: orch}
	waitFor(t, "session created", func() bool { return orch.ActiveSession() != nil })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) sessionID() string { return h.orch.ActiveSession().ID }

func (h *harness) say(text string) {
	h.queue.Push(events.NewUtteranceStarted(time.Now()))
	h.queue.Push(events.NewUtteranceFinal(time.Now(), text))
}

func (h *harness) snapshotCount(t *testing.T, id string) int {
	t.Helper()
	snaps, err := h.store.SessionSnapshots(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionSnapshots: %v", err)
	}
	return len(snaps)
}

// Spec scenario: "开始读书" while Idle drives Thinking -> Speaking ->
// Idle, with periodic page ticks flowing the whole time.
func TestUtteranceDrivesFullCycle(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{Text: "好，开始扫描"}})
	h := newHarness(t, ai, 20*time.Millisecond)
	id := h.sessionID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := scanner.New(
		mock.NewPageSource(mock.Page{Text: "第一章 黄土高原", Similarity: 0.1}),
		h.queue, scanner.Config{Interval: 15 * time.Millisecond, Timeout: time.Second}, nil)
	ticks.Start(ctx)
	defer ticks.Stop()

	h.say("开始读书")

	waitFor(t, "reply spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == "好，开始扫描"
	})
	waitFor(t, "idle after playback", func() bool { return h.orch.State() == StateIdle })

	// Ticks kept landing while the turn ran.
	waitFor(t, "periodic snapshots", func() bool { return h.snapshotCount(t, id) >= 2 })

	turns, err := h.store.SessionTurns(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "开始读书" || turns[1].Content != "好，开始扫描" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestPageCoalescing(t *testing.T) {
	h := newHarness(t, mock.NewLLMAdapter(), time.Millisecond)
	id := h.sessionID()

	h.queue.Push(events.NewPageCaptured(time.Now(), "第一页", 0.2, false))
	h.queue.Push(events.NewPageCaptured(time.Now(), "第一页", 0.97, false))
	h.queue.Push(events.NewPageCaptured(time.Now(), "第一页", 0.99, false))
	waitFor(t, "first snapshot", func() bool { return h.snapshotCount(t, id) >= 1 })
	time.Sleep(30 * time.Millisecond)
	if got := h.snapshotCount(t, id); got != 1 {
		t.Fatalf("snapshots after coalesced captures = %d, want 1", got)
	}

	h.queue.Push(events.NewPageCaptured(time.Now(), "第二页", 0.3, false))
	waitFor(t, "page turn snapshot", func() bool { return h.snapshotCount(t, id) == 2 })
	if turns := h.orch.ActiveSession().PageTurns; turns != 1 {
		t.Fatalf("page turns = %d, want 1", turns)
	}
}

func TestInterruptCancelsBeforeListening(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{Text: "这是一段很长的朗读内容"}})
	h := newHarness(t, ai, 2*time.Second)

	h.say("给我讲讲这一页")
	waitFor(t, "speaking", func() bool {
		return h.orch.State() == StateSpeaking && len(h.synth.Spoken()) == 1
	})

	h.queue.Push(events.NewUtteranceStarted(time.Now()))
	waitFor(t, "listening after barge-in", func() bool { return h.orch.State() == StateListening })
	waitFor(t, "playback cancelled", func() bool { return h.synth.Cancelled() >= 1 })

	// Cancelled playback must not fire PlaybackFinished behind us.
	time.Sleep(30 * time.Millisecond)
	if h.orch.State() != StateListening {
		t.Fatalf("state = %s, want LISTENING", h.orch.State())
	}

	// Releasing the key with nothing said falls back to Idle.
	h.queue.Push(events.NewUtteranceFinal(time.Now(), "  "))
	waitFor(t, "idle after empty final", func() bool { return h.orch.State() == StateIdle })
}

func TestAIRetryThenSucceed(t *testing.T) {
	ai := mock.NewLLMAdapter(
		mock.Step{Err: errors.New("upstream hiccup")},
		mock.Step{Err: errors.New("upstream hiccup")},
		mock.Step{Response: llm.Response{Text: "现在好了"}},
	)
	h := newHarness(t, ai, time.Millisecond)

	h.say("在吗")
	waitFor(t, "reply after retries", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == "现在好了"
	})
	if got := len(ai.Requests()); got != 3 {
		t.Fatalf("ai attempts = %d, want 3", got)
	}
}

func TestAIRetryExhaustedSpeaksFallback(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Err: errors.New("down hard")})
	h := newHarness(t, ai, time.Millisecond)
	id := h.sessionID()

	h.say("在吗")
	waitFor(t, "fallback spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == defaultFallbackReply
	})
	waitFor(t, "idle after fallback", func() bool { return h.orch.State() == StateIdle })

	// No partial side effects: only the user turn was persisted.
	turns, err := h.store.SessionTurns(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestUnknownToolRecoversConversationally(t *testing.T) {
	ai := mock.NewLLMAdapter(
		mock.Step{Response: llm.Response{ToolCalls: []llm.ToolCall{{Name: "open_pod_bay_doors"}}}},
		mock.Step{Response: llm.Response{Text: "抱歉，我不会这个"}},
	)
	h := newHarness(t, ai, time.Millisecond)
	id := h.sessionID()

	h.say("打开舱门")
	waitFor(t, "apology spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == "抱歉，我不会这个"
	})

	turns, err := h.store.SessionTurns(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	var toolTurn *struct{ name, result string }
	for _, turn := range turns {
		if turn.Role == "tool" {
			toolTurn = &struct{ name, result string }{turn.ToolName, turn.ToolResult}
		}
	}
	if toolTurn == nil {
		t.Fatal("no tool turn persisted")
	}
	if toolTurn.name != "open_pod_bay_doors" || !strings.Contains(toolTurn.result, `"success":false`) {
		t.Fatalf("tool turn = %+v", toolTurn)
	}
}

func TestToolLoopExceededSpeaksFallback(t *testing.T) {
	// The script repeats its last step, so the AI asks for the same
	// tool forever.
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{
		ToolCalls: []llm.ToolCall{{Name: tools.NameCapturePageNow}},
	}})
	h := newHarness(t, ai, time.Millisecond)

	h.say("看看这页")
	waitFor(t, "fallback after loop bound", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == defaultFallbackReply
	})
	// Depth bound of 4 means five generate calls saw a tool request.
	if got := len(ai.Requests()); got != 5 {
		t.Fatalf("ai calls = %d, want 5", got)
	}
}

func TestEndSessionBarrier(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{
		ToolCalls: []llm.ToolCall{{
			Name:      tools.NameEndSession,
			Arguments: map[string]any{"summary": "今晚读完了第二部。"},
		}},
	}})
	h := newHarness(t, ai, time.Millisecond)
	id := h.sessionID()

	h.queue.Push(events.NewPageCaptured(time.Now(), "最后一页", 0.1, false))
	waitFor(t, "snapshot persisted", func() bool { return h.snapshotCount(t, id) == 1 })

	h.say("读完了")
	select {
	case <-h.orch.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never ended")
	}
	if h.orch.State() != StateEnded {
		t.Fatalf("state = %s, want ENDED", h.orch.State())
	}

	cards := h.br.pushed()
	if len(cards) != 1 || cards[0].Summary != "今晚读完了第二部。" {
		t.Fatalf("pushed cards = %+v", cards)
	}

	// Late events are dropped, not appended.
	h.queue.Push(events.NewPageCaptured(time.Now(), "晚到的一页", 0.1, false))
	h.say("还在吗")
	time.Sleep(50 * time.Millisecond)
	if got := h.snapshotCount(t, id); got != 1 {
		t.Fatalf("snapshots after end = %d, want 1", got)
	}
	turns, err := h.store.SessionTurns(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	for _, turn := range turns {
		if turn.Content == "还在吗" {
			t.Fatal("utterance appended after session end")
		}
	}

	sessions, err := h.store.SessionsBetween(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SessionsBetween: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != "ended" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestRemoteMessageAnsweredWithoutSpeech(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{Text: "你今天读了《平凡的世界》第三章。"}})
	h := newHarness(t, ai, time.Millisecond)

	h.queue.Push(events.NewRemoteMessage(time.Now(), "今天读了什么"))
	waitFor(t, "bridge reply", func() bool { return len(h.br.replied()) == 1 })

	if len(h.synth.Spoken()) != 0 {
		t.Fatalf("remote turn was spoken aloud: %v", h.synth.Spoken())
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", h.orch.State())
	}
	if got := h.br.replied()[0]; !strings.Contains(got, "第三章") {
		t.Fatalf("reply = %q", got)
	}
}

func TestRecordNoteRoundTripThroughTurn(t *testing.T) {
	ai := mock.NewLLMAdapter(
		mock.Step{Response: llm.Response{ToolCalls: []llm.ToolCall{{
			Name:      tools.NameRecordNote,
			Arguments: map[string]any{"content": "摘抄：落霞与孤鹜齐飞", "tags": []any{"摘抄"}},
		}}}},
		mock.Step{Response: llm.Response{Text: "记好了"}},
	)
	h := newHarness(t, ai, time.Millisecond)
	id := h.sessionID()

	h.say("记录一下：落霞与孤鹜齐飞")
	waitFor(t, "confirmation spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == "记好了"
	})

	notes, err := h.store.SessionNotes(context.Background(), id)
	if err != nil {
		t.Fatalf("SessionNotes: %v", err)
	}
	if len(notes) != 1 || notes[0].Text != "摘抄：落霞与孤鹜齐飞" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestReminderSpokenWhenIdle(t *testing.T) {
	h := newHarness(t, mock.NewLLMAdapter(), 10*time.Millisecond)

	h.queue.Push(events.NewReminderDue(time.Now(), "r1", "该休息眼睛了"))

	waitFor(t, "reminder spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 1 && spoken[0] == "该休息眼睛了"
	})
	waitFor(t, "idle after reminder", func() bool { return h.orch.State() == StateIdle })
}

func TestReminderSkippedWhileSpeaking(t *testing.T) {
	script := mock.NewLLMAdapter(mock.Step{Response: llm.Response{Text: "这一段讲得很细。"}})
	h := newHarness(t, script, 2*time.Second)

	h.say("讲讲这段")
	waitFor(t, "speaking", func() bool { return h.orch.State() == StateSpeaking })

	h.queue.Push(events.NewReminderDue(time.Now(), "r1", "不该插话"))
	time.Sleep(50 * time.Millisecond)

	for _, text := range h.synth.Spoken() {
		if text == "不该插话" {
			t.Fatal("reminder spoke over active playback")
		}
	}
	if h.orch.State() != StateSpeaking {
		t.Fatalf("state = %v, want Speaking", h.orch.State())
	}
}

func TestSetTimerToolRoundTrip(t *testing.T) {
	script := mock.NewLLMAdapter(
		mock.Step{Response: llm.Response{ToolCalls: []llm.ToolCall{{
			Name:      tools.NameSetTimer,
			Arguments: map[string]any{"minutes": 0.005, "label": "二十分钟到了"},
		}}}},
		mock.Step{Response: llm.Response{Text: "好，到点我叫你。"}},
	)
	h := newHarness(t, script, time.Millisecond)

	h.say("再读二十分钟提醒我")

	waitFor(t, "confirmation then reminder spoken", func() bool {
		spoken := h.synth.Spoken()
		return len(spoken) == 2 && spoken[0] == "好，到点我叫你。" && spoken[1] == "二十分钟到了"
	})
	waitFor(t, "idle after reminder", func() bool { return h.orch.State() == StateIdle })
}

func TestSourceLostReturnsToIdle(t *testing.T) {
	ai := mock.NewLLMAdapter(mock.Step{Response: llm.Response{Text: "慢慢读"}})
	h := newHarness(t, ai, 2*time.Second)

	h.say("给我读读这段")
	waitFor(t, "speaking", func() bool { return h.orch.State() == StateSpeaking })

	h.queue.Push(events.NewSourceLost(time.Now(), events.SourceVoice, "device unplugged"))
	waitFor(t, "idle after source lost", func() bool { return h.orch.State() == StateIdle })
	waitFor(t, "playback cancelled", func() bool { return h.synth.Cancelled() >= 1 })

	// Session is still alive and answerable.
	if h.orch.ActiveSession() == nil {
		t.Fatal("session terminated by source loss")
	}
}
