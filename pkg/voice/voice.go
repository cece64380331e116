package voice

import "context"

// Transcript is one recognizer result. Final transcripts close the
// utterance; the rest are interim.
type Transcript struct {
	Text  string
	Final bool
}

// Recognizer is the streaming speech-recognition contract. Audio goes
// in while the push-to-talk key is held; transcripts come back on
// Results until the stream is stopped.
type Recognizer interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
	SendAudio(pcm []byte) error
	Results() <-chan Transcript
}
