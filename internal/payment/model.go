package payment

import (
	"time"

	"github.com/gofrs/uuid"
)

// Kind tags which provider an attempt belongs to. No code outside this
// package branches on it.
type Kind string

const (
	KindStripe Kind = "stripe"
	KindPayPal Kind = "paypal"
)

func (k Kind) Valid() bool {
	return k == KindStripe || k == KindPayPal
}

type State string

const (
	StateCreated              State = "created"
	StateRequiresConfirmation State = "requires_confirmation"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal states admit no further changes; a succeeded attempt is immutable.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Attempt tracks one provider-side payment object against an order. At most
// one attempt per order may be non-terminal, and at most one may ever reach
// succeeded (enforced by a partial unique index).
type Attempt struct {
	ID          uuid.UUID         `json:"id"`
	OrderID     uuid.UUID         `json:"order_id"`
	Provider    Kind              `json:"provider"`
	ProviderRef string            `json:"provider_ref,omitempty"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	State       State             `json:"state"`
	Payload     map[string]string `json:"payload,omitempty"` // client secret, approval URL, payer id
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
