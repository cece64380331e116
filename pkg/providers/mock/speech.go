package mock

import (
	"context"
	"sync"
	"time"
)

// Synthesizer fakes text-to-speech: Speak blocks for Latency (or until
// cancelled) and records every utterance and cancellation.
type Synthesizer struct {
	Latency time.Duration

	mu        sync.Mutex
	spoken    []string
	cancelled int
}

func NewSynthesizer(latency time.Duration) *Synthesizer {
	return &Synthesizer{Latency: latency}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	select {
	case <-time.After(s.Latency):
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func (s *Synthesizer) Cancelled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
