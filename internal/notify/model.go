package notify

import (
	"time"

	"github.com/gofrs/uuid"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// Target selects who the message goes to.
type Target string

const (
	TargetCustomer       Target = "customer"
	TargetDeliveryPerson Target = "delivery_person"
)

func (t Target) Valid() bool {
	return t == TargetCustomer || t == TargetDeliveryPerson
}

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Attempt is the append-only record of one delivery try. Failures are
// recorded, never silently retried.
type Attempt struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	Channel     Channel   `json:"channel"`
	Target      Target    `json:"target"`
	Phone       string    `json:"phone"`
	ProviderSID string    `json:"provider_sid,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
