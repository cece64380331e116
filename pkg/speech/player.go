package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/logging"
)

// Player is the SpeechSink consumed by the orchestrator: Play starts
// playback asynchronously and a PlaybackFinished event lands on the
// queue when it runs to completion. Cancel is synchronous and
// idempotent; a cancelled playback emits no PlaybackFinished.
type Player struct {
	synth  Synthesizer
	queue  *events.Queue
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
	gen     uint64
}

func NewPlayer(synth Synthesizer, queue *events.Queue) *Player {
	return &Player{
		synth:  synth,
		queue:  queue,
		logger: logging.NewComponentLogger(slog.Default(), "player"),
	}
}

// Play starts synthesizing and playing text. A playback already in
// progress is cancelled first; the orchestrator only calls Play from
// its single loop, so this is belt over braces.
func (p *Player) Play(ctx context.Context, text string) {
	p.Cancel()

	pctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	go func() {
		err := p.synth.Speak(pctx, text)

		p.mu.Lock()
		wasCancelled := pctx.Err() != nil
		// A cancelled Speak can return after a newer Play installed its
		// own handle; only the owning playback may clear the state.
		if p.gen == gen {
			p.playing = false
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()

		if err != nil && !wasCancelled {
			p.logger.Error("playback_failed",
				"reason_code", string(errorsx.ReasonTTSPlayback),
				"error", err)
			p.queue.Push(events.NewSourceLost(time.Now(), events.SourceSpeech, err.Error()))
			return
		}
		if !wasCancelled {
			p.queue.Push(events.NewPlaybackFinished(time.Now()))
		}
	}()
}

// Cancel stops playback mid-stream. Safe to call when nothing is
// playing or when playback already finished.
func (p *Player) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.playing = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
