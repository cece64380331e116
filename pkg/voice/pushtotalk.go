package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/logging"
)

// PushToTalk turns key-down/key-up gestures plus a streaming recognizer
// into utterance events. The microphone is only sampled while the key
// is held, which is also what keeps synthesized speech from echoing
// back into recognition. Gestures shorter than MinHold are discarded as
// accidental taps.
type PushToTalk struct {
	rec     Recognizer
	queue   *events.Queue
	minHold time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	pressed  bool
	openedAt time.Time
	parts    []string
	cancel   context.CancelFunc
	drained  chan struct{}
}

func NewPushToTalk(rec Recognizer, queue *events.Queue, minHold time.Duration) *PushToTalk {
	if minHold <= 0 {
		minHold = 300 * time.Millisecond
	}
	return &PushToTalk{
		rec:     rec,
		queue:   queue,
		minHold: minHold,
		logger:  logging.NewComponentLogger(slog.Default(), "push_to_talk"),
	}
}

// KeyDown arms the gesture: starts the recognizer stream and emits
// UtteranceStarted. Repeated key-down while pressed is ignored.
func (p *PushToTalk) KeyDown(ctx context.Context) {
	p.mu.Lock()
	if p.pressed {
		p.mu.Unlock()
		return
	}
	p.pressed = true
	p.openedAt = time.Now()
	p.parts = nil
	p.drained = make(chan struct{})
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	drained := p.drained
	p.mu.Unlock()

	if err := p.rec.Start(rctx); err != nil {
		p.logger.Error("recognizer_start_failed",
			"reason_code", string(errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonASRConnect))),
			"error", err)
		p.queue.Push(events.NewSourceLost(time.Now(), events.SourceVoice, err.Error()))
		p.mu.Lock()
		p.pressed = false
		p.mu.Unlock()
		cancel()
		return
	}
	go p.consume(drained)

	p.queue.Push(events.NewUtteranceStarted(p.openedAt))
}

// Feed forwards microphone audio while the key is held.
func (p *PushToTalk) Feed(pcm []byte) {
	p.mu.Lock()
	pressed := p.pressed
	p.mu.Unlock()
	if !pressed {
		return
	}
	if err := p.rec.SendAudio(pcm); err != nil {
		p.logger.Warn("recognizer_send_failed", "error", err)
	}
}

// KeyUp finalizes the gesture: closes the recognizer stream, waits for
// any late final segments to drain, then emits UtteranceFinal with the
// accumulated transcript. A hold shorter than MinHold still emits the
// final so the orchestrator can close the utterance, but with an empty
// transcript.
func (p *PushToTalk) KeyUp() {
	p.mu.Lock()
	if !p.pressed {
		p.mu.Unlock()
		return
	}
	p.pressed = false
	held := time.Since(p.openedAt)
	cancel := p.cancel
	p.cancel = nil
	drained := p.drained
	p.mu.Unlock()

	// Closing the recognizer flushes pending finals onto Results.
	_ = p.rec.Close()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		p.logger.Warn("recognizer_drain_timeout")
	}
	if cancel != nil {
		cancel()
	}

	p.mu.Lock()
	text := strings.TrimSpace(strings.Join(p.parts, ""))
	p.mu.Unlock()
	if held < p.minHold {
		text = ""
	}
	p.queue.Push(events.NewUtteranceFinal(time.Now(), text))
}

func (p *PushToTalk) consume(drained chan struct{}) {
	defer close(drained)
	for tr := range p.rec.Results() {
		p.mu.Lock()
		pressed := p.pressed
		p.mu.Unlock()

		if tr.Final {
			p.mu.Lock()
			p.parts = append(p.parts, tr.Text)
			p.mu.Unlock()
			continue
		}
		if pressed && tr.Text != "" {
			p.queue.Push(events.NewUtterancePartial(time.Now(), tr.Text))
		}
	}
}
