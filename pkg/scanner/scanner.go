package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/metrics"
)

// PageText is one perspective-corrected OCR result. Similarity scores
// the text against the previous capture (1.0 = identical page).
type PageText struct {
	Text       string
	Similarity float64
	CapturedAt time.Time
}

// PageSource is the external camera+OCR collaborator. Capture is not
// safe for concurrent use; the Scanner serializes all access.
type PageSource interface {
	Capture(ctx context.Context) (PageText, error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Scanner drives PageSource on a fixed tick and pushes PageCaptured
// events onto the session queue. The camera mutex is shared between
// periodic ticks and forced captures: whichever holds it finishes its
// frame before the other runs, and a forced capture never reschedules
// the ticker.
type Scanner struct {
	src    PageSource
	queue  *events.Queue
	cfg    Config
	obs    metrics.Observer
	logger *slog.Logger

	camMu   sync.Mutex
	stopped chan struct{}
	once    sync.Once
}

func New(src PageSource, queue *events.Queue, cfg Config, obs metrics.Observer) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Scanner{
		src:     src,
		queue:   queue,
		cfg:     cfg,
		obs:     obs,
		logger:  logging.NewComponentLogger(slog.Default(), "scanner"),
		stopped: make(chan struct{}),
	}
}

// Start runs the periodic tick loop until the context is cancelled or
// Stop is called.
func (s *Scanner) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *Scanner) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	page, err := s.capture(ctx)
	if err != nil {
		// Failed tick: skip, keep the previous page.
		s.logger.Warn("scan_tick_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
		s.obs.RecordEvent(metrics.Event{Name: "scan_tick_failed", Time: time.Now()})
		return
	}
	if page.Text == "" {
		// Nothing readable in frame (book closed, hand over page).
		s.obs.RecordEvent(metrics.Event{Name: "scan_tick_empty", Time: time.Now()})
		return
	}
	s.queue.Push(events.NewPageCaptured(page.CapturedAt, page.Text, page.Similarity, false))
}

// CaptureNow serves the capture_page_now tool: an out-of-band capture
// under the same camera mutex as the tick loop. The result is returned
// directly to the caller and also pushed as a forced PageCaptured event
// so the orchestrator's current-page cell stays in sync.
func (s *Scanner) CaptureNow(ctx context.Context) (PageText, error) {
	page, err := s.capture(ctx)
	if err != nil {
		return PageText{}, err
	}
	s.queue.Push(events.NewPageCaptured(page.CapturedAt, page.Text, page.Similarity, true))
	return page, nil
}

func (s *Scanner) capture(ctx context.Context) (PageText, error) {
	s.camMu.Lock()
	defer s.camMu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, err := s.src.Capture(cctx)
	if err != nil {
		reason := errorsx.ReasonCameraCapture
		if cctx.Err() != nil {
			reason = errorsx.ReasonCameraTimeout
		}
		return PageText{}, errorsx.Wrap(err, reason)
	}
	if page.CapturedAt.IsZero() {
		page.CapturedAt = time.Now()
	}
	return page, nil
}
