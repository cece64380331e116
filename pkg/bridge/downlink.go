package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liqian5129/reading-comp/pkg/events"
	"github.com/liqian5129/reading-comp/pkg/logging"
)

// Downlink holds a websocket to the chat-bot relay and feeds incoming
// remote chat turns into the session queue alongside camera and voice
// events. The orchestrator answers them like utterances, minus speech
// playback.
type Downlink struct {
	url    string
	queue  *events.Queue
	logger *slog.Logger
}

type downlinkMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewDownlink(url string, queue *events.Queue) *Downlink {
	return &Downlink{
		url:    url,
		queue:  queue,
		logger: logging.NewComponentLogger(slog.Default(), "bridge.downlink"),
	}
}

// Run dials the relay and pumps messages until ctx is cancelled,
// redialing with a flat backoff on connection loss.
func (d *Downlink) Run(ctx context.Context) {
	const redial = 3 * time.Second
	for ctx.Err() == nil {
		if err := d.pump(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("downlink_disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redial):
		}
	}
}

func (d *Downlink) pump(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	d.logger.Info("downlink_connected", "url", d.url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg downlinkMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.logger.Warn("downlink_bad_payload", "error", err)
			continue
		}
		if msg.Type != "" && msg.Type != "message" {
			continue
		}
		if msg.Text == "" {
			continue
		}
		d.queue.Push(events.NewRemoteMessage(time.Now(), msg.Text))
	}
}
