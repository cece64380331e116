package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/liqian5129/reading-comp/pkg/bridge"
	"github.com/liqian5129/reading-comp/pkg/config"
	"github.com/liqian5129/reading-comp/pkg/configutil"
	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/llm"
	"github.com/liqian5129/reading-comp/pkg/logging"
	"github.com/liqian5129/reading-comp/pkg/metrics"
	"github.com/liqian5129/reading-comp/pkg/orchestrator"
	"github.com/liqian5129/reading-comp/pkg/providers/deepgram"
	"github.com/liqian5129/reading-comp/pkg/providers/elevenlabs"
	"github.com/liqian5129/reading-comp/pkg/providers/kimi"
	"github.com/liqian5129/reading-comp/pkg/providers/mock"
	"github.com/liqian5129/reading-comp/pkg/redact"
	"github.com/liqian5129/reading-comp/pkg/runner"
	"github.com/liqian5129/reading-comp/pkg/scanner"
	"github.com/liqian5129/reading-comp/pkg/speech"
	"github.com/liqian5129/reading-comp/pkg/store"
	"github.com/liqian5129/reading-comp/pkg/tools"
	"github.com/liqian5129/reading-comp/pkg/voice"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.RedactPII)

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		logger.Error("store_open_failed", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	queue := events.NewQueue()
	obs := metrics.NewSlogObserver(logger)

	src, err := buildPageSource(cfg)
	if err != nil {
		logger.Error("page_source_failed", "error", err)
		os.Exit(1)
	}
	sc := scanner.New(src, queue, scanner.Config{
		Interval: cfg.Scanner.Interval(),
		Timeout:  cfg.Scanner.Timeout(),
	}, obs)

	rec, err := buildRecognizer(cfg)
	if err != nil {
		logger.Error("recognizer_failed", "provider", cfg.Voice.Provider, "error", err)
		os.Exit(1)
	}
	ptt := voice.NewPushToTalk(rec, queue, 0)

	synth, err := buildSynthesizer(cfg)
	if err != nil {
		logger.Error("synthesizer_failed", "provider", cfg.Speech.Provider, "error", err)
		os.Exit(1)
	}
	player := speech.NewPlayer(synth, queue)

	ai, err := buildAI(cfg)
	if err != nil {
		logger.Error("ai_adapter_failed", "provider", cfg.AI.Provider, "error", err)
		os.Exit(1)
	}

	br, downlink := buildBridge(cfg, queue)

	orch := orchestrator.New(orchestrator.Config{
		BookName:            cfg.Book.Name,
		SystemPrompt:        cfg.AI.SystemPrompt,
		SimilarityThreshold: cfg.Scanner.SimilarityThreshold,
		ToolDepth:           cfg.Tools.Depth,
		AITimeout:           cfg.AI.Timeout(),
		AIRetries:           cfg.AI.Retries,
		RetryBase:           cfg.AI.RetryBackoff(),
		BarrierTimeout:      cfg.Session.BarrierTimeout(),
	}, queue, ai, st, player, br, obs)
	orch.AttachTools(tools.NewRegistry(tools.Deps{
		Scanner:   sc,
		Store:     st,
		Session:   orch,
		Reminders: tools.NewReminders(queue),
	}, cfg.Tools.Timeout()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	run := runner.NewLifecycleRunner(queueDrainer{queue: queue}, runner.Hooks{
		OnStart: func() {
			sc.Start(ctx)
			if downlink != nil {
				go downlink.Run(ctx)
			}
			go func() {
				if err := orch.Run(ctx); err != nil {
					logger.Error("orchestrator_stopped", "error", err)
					cancel()
				}
			}()
			go readGestures(ctx, ptt)
		},
		OnStop: func() {
			sc.Stop()
			player.Cancel()
		},
	}, cfg.Session.BarrierTimeout())

	// end_session closes Done; treat it like a shutdown signal.
	go func() {
		select {
		case <-orch.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run.Run(ctx); err != nil {
		logger.Error("shutdown_incomplete", "error", err)
	}
}

func buildPageSource(cfg config.Config) (scanner.PageSource, error) {
	if cfg.Scanner.PagesDir != "" {
		return scanner.NewFileSource(cfg.Scanner.PagesDir)
	}
	return mock.NewPageSource(), nil
}

func buildRecognizer(cfg config.Config) (voice.Recognizer, error) {
	switch cfg.Voice.Provider {
	case "deepgram":
		if err := configutil.ValidateSettings(cfg.Voice.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "interim"},
		}); err != nil {
			return nil, fmt.Errorf("voice.settings: %w", err)
		}
		var settings deepgram.Config
		if err := configutil.DecodeSettings(cfg.Voice.Settings, &settings); err != nil {
			return nil, err
		}
		return deepgram.New(settings), nil
	case "mock":
		return mock.NewRecognizer(""), nil
	default:
		return nil, fmt.Errorf("unknown voice provider %q", cfg.Voice.Provider)
	}
}

func buildSynthesizer(cfg config.Config) (speech.Synthesizer, error) {
	switch cfg.Speech.Provider {
	case "elevenlabs":
		if err := configutil.ValidateSettings(cfg.Speech.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"voice_id", "model_id", "output_format", "audio_pipe"},
		}); err != nil {
			return nil, fmt.Errorf("speech.settings: %w", err)
		}
		var settings elevenlabs.Config
		if err := configutil.DecodeSettings(cfg.Speech.Settings, &settings); err != nil {
			return nil, err
		}
		return elevenlabs.New(settings, audioSink(cfg)), nil
	case "mock":
		return mock.NewSynthesizer(500 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Speech.Provider)
	}
}

// audioSink resolves where decoded speech audio goes. The speaker
// device itself is platform wiring; a pipe path in settings covers the
// common aplay/ffplay setup.
func audioSink(cfg config.Config) io.Writer {
	path, _ := cfg.Speech.Settings["audio_pipe"].(string)
	if path == "" {
		return io.Discard
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return io.Discard
	}
	return f
}

func buildAI(cfg config.Config) (llm.Adapter, error) {
	switch cfg.AI.Provider {
	case "kimi":
		if err := configutil.ValidateSettings(cfg.AI.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("ai.settings: %w", err)
		}
		var settings struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(cfg.AI.Settings, &settings); err != nil {
			return nil, err
		}
		adapter := kimi.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return llm.NewBreakerAdapter(adapter, nil), nil
	case "mock":
		return mock.NewLLMAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
}

func buildBridge(cfg config.Config, queue *events.Queue) (bridge.Bridge, *bridge.Downlink) {
	var channels bridge.Multi
	if cfg.Bridge.Webhook.URL != "" {
		channels = append(channels, bridge.NewWebhook(cfg.Bridge.Webhook.URL,
			cfg.Bridge.Webhook.Retries,
			time.Duration(cfg.Bridge.Webhook.BackoffMS)*time.Millisecond))
	}
	if cfg.Bridge.SMS.AccountSID != "" {
		channels = append(channels, bridge.NewSMS(cfg.Bridge.SMS.AccountSID,
			cfg.Bridge.SMS.AuthToken, cfg.Bridge.SMS.From, cfg.Bridge.SMS.To))
	}

	var downlink *bridge.Downlink
	if cfg.Bridge.Downlink.URL != "" {
		downlink = bridge.NewDownlink(cfg.Bridge.Downlink.URL, queue)
	}

	if len(channels) == 0 {
		return bridge.Noop{}, downlink
	}
	return channels, downlink
}

// readGestures simulates the global push-to-talk key from stdin: each
// line is one gesture (press, feed the text as audio, release). A real
// deployment replaces this with a platform key hook and microphone
// capture.
func readGestures(ctx context.Context, ptt *voice.PushToTalk) {
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := in.Text()
		if line == "" {
			continue
		}
		ptt.KeyDown(ctx)
		ptt.Feed([]byte(line))
		// Hold past the accidental-tap threshold before releasing.
		time.Sleep(350 * time.Millisecond)
		ptt.KeyUp()
	}
}

type queueDrainer struct {
	queue *events.Queue
}

// Drain closes the queue to new producers and waits for the
// orchestrator to work off the backlog.
func (d queueDrainer) Drain() error {
	d.queue.Close()
	for d.queue.Len() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
