package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
)

// MessageCreator is the part of the Twilio API service the SMS notifier uses
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMS texts a batch summary through Twilio
type SMS struct {
	api  MessageCreator
	from string
	to   string
}

// NewSMS creates an SMS notifier from Twilio credentials
func NewSMS(cfg config.SMSConfig) (*SMS, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &SMS{api: client.Api, from: cfg.From, to: cfg.To}, nil
}

// NewSMSWithAPI creates an SMS notifier on an existing message creator
func NewSMSWithAPI(api MessageCreator, from, to string) *SMS {
	return &SMS{api: api, from: from, to: to}
}

// Name implements Notifier
func (s *SMS) Name() string {
	return "sms"
}

// Notify implements Notifier. The Twilio client takes no context, so a
// cancelled ctx is only checked before sending.
func (s *SMS) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(s.to)
	params.SetFrom(s.from)
	params.SetBody(event.Text())

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", s.to, err)
	}
	return nil
}
