package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/liqian5129/reading-comp/pkg/voice"
)

// Recognizer fakes streaming recognition: every audio chunk fed in is
// echoed back as an interim transcript, and Close flushes the scripted
// final transcript.
type Recognizer struct {
	Final string

	mu      sync.Mutex
	out     chan voice.Transcript
	fed     []string
	started bool
}

func NewRecognizer(final string) *Recognizer {
	return &Recognizer{Final: final}
}

func (r *Recognizer) Name() string { return "mock_asr" }

func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = make(chan voice.Transcript, 16)
	r.fed = nil
	r.started = true
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	// A scripted final wins; otherwise the fed audio is echoed back
	// verbatim, which is what interactive wiring relies on.
	final := r.Final
	if final == "" {
		final = strings.Join(r.fed, "")
	}
	if final != "" {
		r.out <- voice.Transcript{Text: final, Final: true}
	}
	close(r.out)
	return nil
}

func (r *Recognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.fed = append(r.fed, string(pcm))
	select {
	case r.out <- voice.Transcript{Text: string(pcm)}:
	default:
	}
	return nil
}

func (r *Recognizer) Results() <-chan voice.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}
