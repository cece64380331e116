package orchestrator

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// StateChange is one observed transition.
type StateChange struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(change StateChange)
}

// validTransitions is the closed transition table. PageCaptured is
// handled in every non-terminal state without a transition, so it does
// not appear here. Ended is reachable from anywhere and terminal.
// Idle→Speaking is the reminder path: an expired reading timer speaks
// without a user turn.
var validTransitions = map[State][]State{
	StateIdle:      {StateListening, StateThinking, StateSpeaking, StateEnded},
	StateListening: {StateThinking, StateIdle, StateEnded},
	StateThinking:  {StateSpeaking, StateIdle, StateEnded},
	StateSpeaking:  {StateListening, StateIdle, StateEnded},
	StateEnded:     {},
}

// stateMachine tracks the session lifecycle. Only the orchestrator
// loop transitions it; the mutex exists so State() is safe to read
// from other goroutines (tests, runner health checks).
type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// InvalidTransitionError reports a transition outside the table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

func (m *stateMachine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.current
	if from != to && !transitionValid(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if from == to {
		return nil
	}
	change := StateChange{From: from, To: to, At: time.Now(), Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(change)
	}
	return nil
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}
