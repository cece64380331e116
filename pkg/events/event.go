package events

import "time"

type Kind string

const (
	KindPageCaptured     Kind = "page_captured"
	KindUtteranceStarted Kind = "utterance_started"
	KindUtterancePartial Kind = "utterance_partial"
	KindUtteranceFinal   Kind = "utterance_final"
	KindPlaybackFinished Kind = "playback_finished"
	KindSourceLost       Kind = "source_lost"
	KindRemoteMessage    Kind = "remote_message"
	KindReminderDue      Kind = "reminder_due"
)

// SourceName identifies a leaf producer in SourceLost events.
type SourceName string

const (
	SourceCamera SourceName = "camera"
	SourceVoice  SourceName = "voice"
	SourceSpeech SourceName = "speech"
)

type Event interface {
	Kind() Kind
	At() time.Time
}

// PageCaptured carries one OCR result from the page scanner. Similarity
// is the score against the previous capture; Forced marks out-of-band
// captures requested by the capture_page_now tool.
type PageCaptured struct {
	at         time.Time
	text       string
	similarity float64
	forced     bool
}

func NewPageCaptured(at time.Time, text string, similarity float64, forced bool) PageCaptured {
	return PageCaptured{at: at, text: text, similarity: similarity, forced: forced}
}

func (e PageCaptured) Kind() Kind          { return KindPageCaptured }
func (e PageCaptured) At() time.Time       { return e.at }
func (e PageCaptured) Text() string        { return e.text }
func (e PageCaptured) Similarity() float64 { return e.similarity }
func (e PageCaptured) Forced() bool        { return e.forced }

// UtteranceStarted marks the push-to-talk key going down.
type UtteranceStarted struct {
	at time.Time
}

func NewUtteranceStarted(at time.Time) UtteranceStarted { return UtteranceStarted{at: at} }

func (e UtteranceStarted) Kind() Kind    { return KindUtteranceStarted }
func (e UtteranceStarted) At() time.Time { return e.at }

// UtterancePartial carries an interim transcript. Partials are
// transient and never persisted.
type UtterancePartial struct {
	at   time.Time
	text string
}

func NewUtterancePartial(at time.Time, text string) UtterancePartial {
	return UtterancePartial{at: at, text: text}
}

func (e UtterancePartial) Kind() Kind    { return KindUtterancePartial }
func (e UtterancePartial) At() time.Time { return e.at }
func (e UtterancePartial) Text() string  { return e.text }

// UtteranceFinal carries the finalized transcript emitted on key release.
type UtteranceFinal struct {
	at   time.Time
	text string
}

func NewUtteranceFinal(at time.Time, text string) UtteranceFinal {
	return UtteranceFinal{at: at, text: text}
}

func (e UtteranceFinal) Kind() Kind    { return KindUtteranceFinal }
func (e UtteranceFinal) At() time.Time { return e.at }
func (e UtteranceFinal) Text() string  { return e.text }

// PlaybackFinished is emitted by the speech player when synthesis
// playback runs to completion (not when it is cancelled).
type PlaybackFinished struct {
	at time.Time
}

func NewPlaybackFinished(at time.Time) PlaybackFinished { return PlaybackFinished{at: at} }

func (e PlaybackFinished) Kind() Kind    { return KindPlaybackFinished }
func (e PlaybackFinished) At() time.Time { return e.at }

// SourceLost reports a leaf producer crash or disconnect. The session
// survives it; the orchestrator falls back to Idle.
type SourceLost struct {
	at     time.Time
	source SourceName
	reason string
}

func NewSourceLost(at time.Time, source SourceName, reason string) SourceLost {
	return SourceLost{at: at, source: source, reason: reason}
}

func (e SourceLost) Kind() Kind         { return KindSourceLost }
func (e SourceLost) At() time.Time      { return e.at }
func (e SourceLost) Source() SourceName { return e.source }
func (e SourceLost) Reason() string     { return e.reason }

// RemoteMessage is a chat turn relayed in from the remote bridge. It is
// answered like a voice utterance but without speech playback.
type RemoteMessage struct {
	at   time.Time
	text string
}

func NewRemoteMessage(at time.Time, text string) RemoteMessage {
	return RemoteMessage{at: at, text: text}
}

func (e RemoteMessage) Kind() Kind    { return KindRemoteMessage }
func (e RemoteMessage) At() time.Time { return e.at }

// ReminderDue fires when a reading timer set via the set_timer tool
// expires. The orchestrator speaks the label if the session is idle.
type ReminderDue struct {
	at    time.Time
	id    string
	label string
}

func NewReminderDue(at time.Time, id, label string) ReminderDue {
	return ReminderDue{at: at, id: id, label: label}
}

func (e ReminderDue) Kind() Kind    { return KindReminderDue }
func (e ReminderDue) At() time.Time { return e.at }
func (e ReminderDue) ID() string    { return e.id }
func (e ReminderDue) Label() string { return e.label }
func (e RemoteMessage) Text() string  { return e.text }
