package speech

import "context"

// Synthesizer is the external text-to-speech collaborator. Speak blocks
// until playback completes or ctx is cancelled; cancelling ctx must
// stop audio promptly.
type Synthesizer interface {
	Name() string
	Speak(ctx context.Context, text string) error
}
