package voice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/providers/mock"
	"github.com/liqian5129/reading-comp/pkg/voice"
)

func drain(t *testing.T, q *events.Queue) []events.Event {
	t.Helper()
	var out []events.Event
	for {
		ev, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestGestureEmitsStartedAndFinal(t *testing.T) {
	q := events.NewQueue()
	ptt := voice.NewPushToTalk(mock.NewRecognizer("这段讲的是什么？"), q, time.Millisecond)

	ptt.KeyDown(context.Background())
	ptt.Feed([]byte("audio"))
	time.Sleep(5 * time.Millisecond)
	ptt.KeyUp()

	evs := drain(t, q)
	if len(evs) == 0 {
		t.Fatal("no events emitted")
	}
	if _, ok := evs[0].(events.UtteranceStarted); !ok {
		t.Fatalf("first event = %T, want UtteranceStarted", evs[0])
	}
	final, ok := evs[len(evs)-1].(events.UtteranceFinal)
	if !ok {
		t.Fatalf("last event = %T, want UtteranceFinal", evs[len(evs)-1])
	}
	if final.Text() != "这段讲的是什么？" {
		t.Fatalf("final text = %q", final.Text())
	}
}

func TestAccidentalTapYieldsEmptyFinal(t *testing.T) {
	q := events.NewQueue()
	ptt := voice.NewPushToTalk(mock.NewRecognizer("不该出现"), q, 200*time.Millisecond)

	ptt.KeyDown(context.Background())
	ptt.KeyUp()

	evs := drain(t, q)
	final, ok := evs[len(evs)-1].(events.UtteranceFinal)
	if !ok {
		t.Fatalf("last event = %T, want UtteranceFinal", evs[len(evs)-1])
	}
	if final.Text() != "" {
		t.Fatalf("tap shorter than the hold threshold kept text %q", final.Text())
	}
}

func TestFedAudioAssembledWhenNoScriptedFinal(t *testing.T) {
	q := events.NewQueue()
	ptt := voice.NewPushToTalk(mock.NewRecognizer(""), q, time.Millisecond)

	ptt.KeyDown(context.Background())
	ptt.Feed([]byte("少平"))
	ptt.Feed([]byte("去哪了"))
	time.Sleep(5 * time.Millisecond)
	ptt.KeyUp()

	evs := drain(t, q)
	final := evs[len(evs)-1].(events.UtteranceFinal)
	if final.Text() != "少平去哪了" {
		t.Fatalf("final text = %q", final.Text())
	}
}

func TestRepeatedKeyDownIgnoredWhilePressed(t *testing.T) {
	q := events.NewQueue()
	ptt := voice.NewPushToTalk(mock.NewRecognizer("好的"), q, time.Millisecond)

	ptt.KeyDown(context.Background())
	ptt.KeyDown(context.Background())
	time.Sleep(5 * time.Millisecond)
	ptt.KeyUp()

	var started int
	for _, ev := range drain(t, q) {
		if _, ok := ev.(events.UtteranceStarted); ok {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("UtteranceStarted count = %d, want 1", started)
	}
}

type brokenRecognizer struct{}

func (brokenRecognizer) Name() string                     { return "broken" }
func (brokenRecognizer) Start(context.Context) error      { return errors.New("device busy") }
func (brokenRecognizer) Close() error                     { return nil }
func (brokenRecognizer) SendAudio([]byte) error           { return nil }
func (brokenRecognizer) Results() <-chan voice.Transcript { return nil }

func TestStartFailureEmitsSourceLost(t *testing.T) {
	q := events.NewQueue()
	ptt := voice.NewPushToTalk(brokenRecognizer{}, q, time.Millisecond)

	ptt.KeyDown(context.Background())

	evs := drain(t, q)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	lost, ok := evs[0].(events.SourceLost)
	if !ok {
		t.Fatalf("event = %T, want SourceLost", evs[0])
	}
	if lost.Source() != events.SourceVoice {
		t.Fatalf("source = %q", lost.Source())
	}

	// The failed gesture must not leave the key stuck down.
	ptt.KeyUp()
	if evs := drain(t, q); len(evs) != 0 {
		t.Fatalf("key-up after failed start emitted %d events", len(evs))
	}
}
