package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

var (
	ErrInvalidTarget = errors.New("notification target has no usable phone number")
	ErrProvider      = errors.New("messaging provider error")
)

// Messenger is the outbound messaging provider. Both methods return the
// provider's message/call id on success.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
	PlaceCall(ctx context.Context, to, say string) (string, error)
}

const twilioBaseURL = "https://api.twilio.com"

// TwilioConfig carries the account credentials and the shop-side phone
// number calls and messages originate from.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	// BaseURL overrides the API host; used by tests.
	BaseURL string
}

type TwilioMessenger struct {
	client *resty.Client
	sid    string
	from   string
}

func NewTwilioMessenger(cfg TwilioConfig) (*TwilioMessenger, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.PhoneNumber == "" {
		return nil, errors.New("twilio: account sid, auth token and phone number are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &TwilioMessenger{
		client: client,
		sid:    cfg.AccountSID,
		from:   cfg.PhoneNumber,
	}, nil
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

func (m *TwilioMessenger) SendMessage(ctx context.Context, to, body string) (string, error) {
	var result twilioResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": m.from,
			"Body": body,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", m.sid))
	if err != nil {
		return "", fmt.Errorf("twilio: sms request failed: %w", errors.Join(ErrProvider, err))
	}
	if resp.IsError() || result.SID == "" {
		return "", fmt.Errorf("twilio: sms rejected with status %d: %s: %w", resp.StatusCode(), result.Message, ErrProvider)
	}

	return result.SID, nil
}

func (m *TwilioMessenger) PlaceCall(ctx context.Context, to, say string) (string, error) {
	twiml := fmt.Sprintf("<Response><Say>%s</Say></Response>", say)

	var result twilioResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":    to,
			"From":  m.from,
			"Twiml": twiml,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", m.sid))
	if err != nil {
		return "", fmt.Errorf("twilio: call request failed: %w", errors.Join(ErrProvider, err))
	}
	if resp.IsError() || result.SID == "" {
		return "", fmt.Errorf("twilio: call rejected with status %d: %s: %w", resp.StatusCode(), result.Message, ErrProvider)
	}

	return result.SID, nil
}

// Disabled stands in when no messaging provider is configured; every send
// fails with ErrProvider so attempts are still recorded.
type Disabled struct{}

func (Disabled) SendMessage(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("messaging is not configured: %w", ErrProvider)
}

func (Disabled) PlaceCall(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("messaging is not configured: %w", ErrProvider)
}
