package payment

import (
	"context"

	"github.com/gofrs/uuid"
)

// IntentRequest carries everything a provider needs to create a payment
// object for an order.
type IntentRequest struct {
	OrderID       uuid.UUID
	Amount        float64
	Currency      string
	CustomerEmail string
	Description   string
}

// Intent is the provider-side payment object. Exactly one of ClientSecret
// (card rail) or ApprovalURL (redirect rail) is populated.
type Intent struct {
	ProviderRef  string
	ClientSecret string
	ApprovalURL  string
}

// Proof is the client- or webhook-supplied evidence that payment completed.
// It is never trusted as-is: Verify re-checks it with the provider.
type Proof struct {
	PayerID string
}

// Result is the provider's definitive verdict on a payment.
type Result struct {
	State    State // StateSucceeded or StateFailed
	Amount   float64
	Currency string
}

// Provider adapts one payment rail to the engine's contract. Implementations
// must be safe for concurrent use.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// Verify checks the proof with the provider and returns a terminal
	// verdict. Transport failures are returned as errors wrapping
	// ErrProvider; a definitive decline is a Result with StateFailed.
	Verify(ctx context.Context, providerRef string, proof Proof) (Result, error)
}
