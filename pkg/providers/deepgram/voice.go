package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/voice"
)

type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	Interim    bool   `mapstructure:"interim"`
}

// Recognizer streams push-to-talk audio to Deepgram live transcription.
// Utterance segmentation is owned by the key gesture, not VAD: the
// caller opens a fresh Recognizer per key press and Close flushes the
// remaining finals before the results channel closes.
type Recognizer struct {
	cfg      Config
	dgClient *client.WSCallback
	out      chan voice.Transcript
	ctx      context.Context
	cancel   context.CancelFunc

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	logger     *slog.Logger
}

func New(cfg Config) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "zh-CN"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram"),
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()
	// Fresh channel per gesture: Close ends the previous stream by
	// closing its channel, and the next key press starts over.
	r.out = make(chan voice.Transcript, 64)

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		SmartFormat:    true,
	}

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(r.ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.logger.Error("deepgram_client_create_error", "error", err)
		return err
	}
	r.dgClient = dgClient

	if connected := r.dgClient.Connect(); !connected {
		r.logger.Error("deepgram_connect_failed")
		return fmt.Errorf("deepgram connection failed")
	}
	r.logger.Info("deepgram_connected", "model", r.cfg.Model, "language", r.cfg.Language)

	go func() {
		if err := r.dgClient.Stream(r.pipeReader); err != nil && r.ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error", "error", err)
		}
	}()
	return nil
}

func (r *Recognizer) SendAudio(pcm []byte) error {
	if r.pipeWriter == nil {
		return fmt.Errorf("not started")
	}
	_, err := r.pipeWriter.Write(pcm)
	if err != nil {
		r.logger.Error("deepgram_send_failed", "error", err)
	}
	return err
}

func (r *Recognizer) Results() <-chan voice.Transcript { return r.out }

// Close flushes and closes the results channel; transcripts already in
// flight at Deepgram arrive before the channel closes.
func (r *Recognizer) Close() error {
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.out != nil {
		close(r.out)
		r.out = nil
	}
	return nil
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	t := voice.Transcript{Text: text, Final: mr.IsFinal || mr.SpeechFinal}
	select {
	case c.parent.out <- t:
	default:
		c.parent.logger.Warn("deepgram_out_channel_full")
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata", "request_id", md.RequestID)
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Debug("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error", "code", er.ErrCode, "message", er.ErrMsg)
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	return nil
}

var _ voice.Recognizer = (*Recognizer)(nil)
