package orchestrator

import (
	"errors"
	"sync"
	"testing"
)

type recordingListener struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recordingListener) OnStateChange(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recordingListener) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateListening, true},
		{StateIdle, StateThinking, true},
		{StateIdle, StateSpeaking, true},
		{StateListening, StateThinking, true},
		{StateListening, StateIdle, true},
		{StateListening, StateSpeaking, false},
		{StateThinking, StateSpeaking, true},
		{StateThinking, StateIdle, true},
		{StateThinking, StateListening, false},
		{StateSpeaking, StateListening, true},
		{StateSpeaking, StateIdle, true},
		{StateSpeaking, StateThinking, false},
		{StateIdle, StateEnded, true},
		{StateThinking, StateEnded, true},
	}
	for _, tc := range cases {
		if got := transitionValid(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: valid = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestEndedIsTerminal(t *testing.T) {
	m := newStateMachine()
	if err := m.Transition(StateEnded, "test"); err != nil {
		t.Fatalf("Transition to Ended: %v", err)
	}
	for _, to := range []State{StateIdle, StateListening, StateThinking, StateSpeaking} {
		err := m.Transition(to, "test")
		var inv *InvalidTransitionError
		if !errors.As(err, &inv) {
			t.Fatalf("Ended -> %s: err = %v, want InvalidTransitionError", to, err)
		}
	}
	if m.State() != StateEnded {
		t.Fatalf("state = %s after rejected transitions", m.State())
	}
}

func TestListenersObserveTransitions(t *testing.T) {
	m := newStateMachine()
	rec := &recordingListener{}
	m.AddListener(rec)

	if err := m.Transition(StateListening, "push-to-talk"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := m.Transition(StateThinking, "utterance finalized"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	// Same-state transition is a no-op and must not notify.
	if err := m.Transition(StateThinking, "again"); err != nil {
		t.Fatalf("same-state transition: %v", err)
	}

	changes := rec.all()
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].From != StateIdle || changes[0].To != StateListening {
		t.Fatalf("first change = %+v", changes[0])
	}
	if changes[1].Reason != "utterance finalized" {
		t.Fatalf("reason = %q", changes[1].Reason)
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle: "IDLE", StateListening: "LISTENING", StateThinking: "THINKING",
		StateSpeaking: "SPEAKING", StateEnded: "ENDED", State(99): "UNKNOWN",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
