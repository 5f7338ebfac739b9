package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// stripeIntentAPI is the slice of the Stripe client the provider uses,
// narrowed so tests can stub it.
type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider is the card rail: it creates PaymentIntents and hands the
// client secret to the shopper's client.
type StripeProvider struct {
	intents stripeIntentAPI
}

func NewStripeProvider(apiKey string) (*StripeProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return &StripeProvider{intents: sc.PaymentIntents}, nil
}

// newStripeProviderWithAPI wires a stubbed intent API for tests.
func newStripeProviderWithAPI(api stripeIntentAPI) *StripeProvider {
	return &StripeProvider{intents: api}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", req.OrderID.String())

	pi, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: failed to create payment intent: %w", errors.Join(ErrProvider, err))
	}

	return Intent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// Verify re-fetches the intent from Stripe; the client's claim of success is
// never trusted.
func (p *StripeProvider) Verify(ctx context.Context, providerRef string, _ Proof) (Result, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.intents.Get(providerRef, params)
	if err != nil {
		return Result{}, fmt.Errorf("stripe: failed to fetch payment intent %s: %w", providerRef, errors.Join(ErrProvider, err))
	}

	result := Result{
		Amount:   float64(pi.Amount) / 100,
		Currency: strings.ToUpper(string(pi.Currency)),
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.State = StateSucceeded
	default:
		result.State = StateFailed
	}

	return result, nil
}

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
