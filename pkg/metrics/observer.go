package metrics

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Event is one recorded measurement or occurrence.
type Event struct {
	Name  string
	Time  time.Time
	Value float64
	Tags  map[string]string
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) RecordEvent(ev Event) {
	for _, o := range m.observers {
		o.RecordEvent(ev)
	}
}

// SlogObserver logs every event through the given logger at debug level.
type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) RecordEvent(ev Event) {
	attrs := []slog.Attr{slog.Float64("value", ev.Value)}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.logger.LogAttrs(context.TODO(), slog.LevelDebug, ev.Name, attrs...)
}

// JSONLObserver appends events as JSON lines, one per event.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev Event) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.logger.LogAttrs(context.TODO(), slog.LevelInfo, "metrics", attrs...)
}
