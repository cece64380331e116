package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/resilience"
	"github.com/liqian5129/reading-comp/pkg/speech"
)

type Config struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
}

// Synthesizer speaks one utterance per websocket session against the
// ElevenLabs stream-input API. Speak blocks until the final audio chunk
// has been written to the output device; cancelling the context tears
// the connection down mid-stream.
type Synthesizer struct {
	cfg    Config
	sink   io.Writer
	logger *slog.Logger
}

// New builds a Synthesizer writing decoded audio to sink (the speaker
// device handle). A nil sink discards audio, useful in dry runs.
func New(cfg Config, sink io.Writer) *Synthesizer {
	if sink == nil {
		sink = io.Discard
	}
	return &Synthesizer{
		cfg:    cfg,
		sink:   sink,
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return err
	}
	defer conn.Close()

	// Cancellation unblocks the read loop by killing the connection.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := writeJSON(conn, init); err != nil {
		return err
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := writeJSON(conn, map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		return err
	}
	// Empty text closes the input stream; the server answers with the
	// remaining audio and isFinal.
	if err := writeJSON(conn, map[string]any{"text": ""}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		done, err := s.handleMessage(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (s *Synthesizer) handleMessage(data []byte) (bool, error) {
	var msg struct {
		Audio   string `json:"audio"`
		IsFinal *bool  `json:"isFinal"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("elevenlabs_raw_payload", "data", string(data))
		return false, nil
	}
	if msg.Error != "" {
		return false, errors.New("elevenlabs: " + msg.Error)
	}
	if msg.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return false, err
		}
		if _, err := s.sink.Write(raw); err != nil {
			return false, err
		}
		s.logger.Debug("audio_chunk", "size_bytes", len(raw))
	}
	return msg.IsFinal != nil && *msg.IsFinal, nil
}

func (s *Synthesizer) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func writeJSON(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
