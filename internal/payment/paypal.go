package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"
)

// PayPalConfig configures the redirect-rail provider.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string // "sandbox" or "live"
	ReturnURL    string
	CancelURL    string
	// BaseURL overrides the API host; used by tests.
	BaseURL string
}

// PayPalProvider is the redirect rail: intent creation returns an approval
// URL the shopper is sent to, and confirmation executes the approved payment
// with the payer id PayPal hands back.
type PayPalProvider struct {
	client    *resty.Client
	returnURL string
	cancelURL string
}

func NewPayPalProvider(cfg PayPalConfig) (*PayPalProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("paypal: client credentials are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Mode == "live" {
			baseURL = paypalLiveURL
		} else {
			baseURL = paypalSandboxURL
		}
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.ClientID, cfg.ClientSecret).
		SetHeader("Accept", "application/json")

	return &PayPalProvider{
		client:    client,
		returnURL: cfg.ReturnURL,
		cancelURL: cfg.CancelURL,
	}, nil
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tokenResp).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("paypal: token request failed: %w", errors.Join(ErrProvider, err))
	}
	if resp.StatusCode() != 200 || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("paypal: token request failed with status %d: %s: %w", resp.StatusCode(), resp.Body(), ErrProvider)
	}

	return tokenResp.AccessToken, nil
}

type paypalAmount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type paypalPayment struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Transactions []struct {
		Amount paypalAmount `json:"amount"`
	} `json:"transactions"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func (p *PayPalProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return Intent{}, err
	}

	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]any{"payment_method": "paypal"},
		"redirect_urls": map[string]any{
			"return_url": p.returnURL,
			"cancel_url": p.cancelURL,
		},
		"transactions": []map[string]any{{
			"amount": paypalAmount{
				Total:    strconv.FormatFloat(req.Amount, 'f', 2, 64),
				Currency: strings.ToUpper(req.Currency),
			},
			"description": req.Description,
			"custom":      req.OrderID.String(),
		}},
	}

	var payment paypalPayment
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&payment).
		Post("/v1/payments/payment")
	if err != nil {
		return Intent{}, fmt.Errorf("paypal: payment creation failed: %w", errors.Join(ErrProvider, err))
	}
	if resp.StatusCode() != 201 || payment.ID == "" {
		return Intent{}, fmt.Errorf("paypal: payment creation failed with status %d: %s: %w", resp.StatusCode(), resp.Body(), ErrProvider)
	}

	var approvalURL string
	for _, link := range payment.Links {
		if link.Rel == "approval_url" {
			approvalURL = link.Href
			break
		}
	}
	if approvalURL == "" {
		return Intent{}, fmt.Errorf("paypal: no approval URL in payment %s: %w", payment.ID, ErrProvider)
	}

	return Intent{
		ProviderRef: payment.ID,
		ApprovalURL: approvalURL,
	}, nil
}

// Verify executes the approved payment. PayPal only settles the money at
// execute time, so the payer id is the proof of the shopper's approval.
func (p *PayPalProvider) Verify(ctx context.Context, providerRef string, proof Proof) (Result, error) {
	if proof.PayerID == "" {
		return Result{}, fmt.Errorf("paypal: payer id is required: %w", ErrVerification)
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return Result{}, err
	}

	var payment paypalPayment
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"payer_id": proof.PayerID}).
		SetResult(&payment).
		Post("/v1/payments/payment/" + providerRef + "/execute")
	if err != nil {
		return Result{}, fmt.Errorf("paypal: payment execution failed: %w", errors.Join(ErrProvider, err))
	}

	// A 4xx from execute is a definitive decline, not a transport failure.
	if resp.StatusCode() >= 500 {
		return Result{}, fmt.Errorf("paypal: payment execution failed with status %d: %s: %w", resp.StatusCode(), resp.Body(), ErrProvider)
	}
	if resp.StatusCode() != 200 || payment.State != "approved" {
		return Result{State: StateFailed}, nil
	}

	// The money settled; without the transaction amount we cannot verify it
	// against the order, and a zero-amount success would be recorded as a
	// mismatch. Surface it as a provider fault so the attempt stays open.
	if len(payment.Transactions) == 0 {
		return Result{}, fmt.Errorf("paypal: no transactions in executed payment %s: %w", providerRef, ErrProvider)
	}

	amount, parseErr := strconv.ParseFloat(payment.Transactions[0].Amount.Total, 64)
	if parseErr != nil {
		return Result{}, fmt.Errorf("paypal: malformed amount %q in executed payment: %w", payment.Transactions[0].Amount.Total, ErrProvider)
	}

	return Result{
		State:    StateSucceeded,
		Amount:   amount,
		Currency: payment.Transactions[0].Amount.Currency,
	}, nil
}
