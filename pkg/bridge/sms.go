package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/liqian5129/reading-comp/pkg/errorsx"
	"github.com/liqian5129/reading-comp/pkg/logging"
)

// SMS delivers the plain-text summary over Twilio. One-way: remote chat
// turns do not arrive over SMS, so Reply also sends a plain message.
type SMS struct {
	accountSID string
	authToken  string
	from       string
	to         string
	logger     *slog.Logger
}

func NewSMS(accountSID, authToken, from, to string) *SMS {
	return &SMS{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		to:         to,
		logger:     logging.NewComponentLogger(slog.Default(), "bridge.sms"),
	}
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) PushSummary(ctx context.Context, card SummaryCard) error {
	return s.send(card.Text())
}

func (s *SMS) Reply(ctx context.Context, text string) error {
	return s.send(text)
}

func (s *SMS) send(body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonBridgePush)
	}
	if s.from == "" || s.to == "" {
		return errorsx.Wrap(errors.New("missing sms numbers"), errorsx.ReasonBridgePush)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: s.accountSID,
		Password: s.authToken,
	})
	params := &api.CreateMessageParams{}
	params.SetTo(s.to)
	params.SetFrom(s.from)
	params.SetBody(body)
	resp, err := client.Api.CreateMessage(params)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBridgePush)
	}
	if resp.Sid == nil {
		return errorsx.Wrap(errors.New("missing message sid"), errorsx.ReasonBridgePush)
	}
	s.logger.Info("sms_sent", "sid", *resp.Sid)
	return nil
}
