package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/catalog"
	"github.com/shopflow/shopflow/internal/order"
)

// DefaultStatuses are the transitions customers hear about when no explicit
// policy is configured.
var DefaultStatuses = []order.Status{
	order.StatusShipped,
	order.StatusDelivered,
	order.StatusCancelled,
}

type Service interface {
	// NotifyTransition implements order.TransitionNotifier: it fires a
	// policy-selected SMS at the customer and records the attempt. It never
	// returns an error; delivery failures are recorded, not propagated.
	NotifyTransition(ctx context.Context, o *order.Order, status order.Status)

	// SendSMS and PlaceCall are the explicit, operator-triggered sends. Unlike
	// NotifyTransition they surface provider and target errors to the caller.
	SendSMS(ctx context.Context, o *order.Order, target Target, body string) (*Attempt, error)
	PlaceCall(ctx context.Context, o *order.Order, target Target, say string) (*Attempt, error)

	History(ctx context.Context, orderID uuid.UUID) ([]Attempt, error)
}

type service struct {
	repo      Repository
	messenger Messenger
	catalog   catalog.Store
	statuses  map[order.Status]bool
}

func NewService(repo Repository, messenger Messenger, cat catalog.Store, statuses []order.Status) Service {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	policy := make(map[order.Status]bool, len(statuses))
	for _, s := range statuses {
		policy[s] = true
	}

	return &service{
		repo:      repo,
		messenger: messenger,
		catalog:   cat,
		statuses:  policy,
	}
}

func (s *service) NotifyTransition(ctx context.Context, o *order.Order, status order.Status) {
	if !s.statuses[status] {
		return
	}
	if o.CustomerPhone == "" {
		log.Warn().
			Stringer("order_id", o.ID).
			Str("status", string(status)).
			Msg("skipping status notification: order has no customer phone")
		return
	}

	body := transitionMessage(o, status)
	sid, err := s.messenger.SendMessage(ctx, o.CustomerPhone, body)

	a := &Attempt{
		OrderID:     o.ID,
		Channel:     ChannelSMS,
		Target:      TargetCustomer,
		Phone:       o.CustomerPhone,
		ProviderSID: sid,
		Outcome:     OutcomeSent,
	}
	if err != nil {
		a.Outcome = OutcomeFailed
		a.Detail = err.Error()
		log.Error().Err(err).
			Stringer("order_id", o.ID).
			Str("status", string(status)).
			Msg("status notification failed")
	}

	if insertErr := s.repo.Insert(ctx, a); insertErr != nil {
		log.Error().Err(insertErr).
			Stringer("order_id", o.ID).
			Msg("failed to record notification attempt")
	}
}

func (s *service) SendSMS(ctx context.Context, o *order.Order, target Target, body string) (*Attempt, error) {
	return s.send(ctx, o, ChannelSMS, target, body)
}

func (s *service) PlaceCall(ctx context.Context, o *order.Order, target Target, say string) (*Attempt, error) {
	return s.send(ctx, o, ChannelVoice, target, say)
}

func (s *service) send(ctx context.Context, o *order.Order, channel Channel, target Target, body string) (*Attempt, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("service: unknown target %q: %w", target, ErrInvalidTarget)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("service: message body is empty: %w", ErrInvalidTarget)
	}

	phone, err := s.resolvePhone(ctx, o, target)
	if err != nil {
		return nil, err
	}

	var sid string
	switch channel {
	case ChannelVoice:
		sid, err = s.messenger.PlaceCall(ctx, phone, body)
	default:
		sid, err = s.messenger.SendMessage(ctx, phone, body)
	}

	a := &Attempt{
		OrderID:     o.ID,
		Channel:     channel,
		Target:      target,
		Phone:       phone,
		ProviderSID: sid,
		Outcome:     OutcomeSent,
	}
	if err != nil {
		a.Outcome = OutcomeFailed
		a.Detail = err.Error()
	}

	if insertErr := s.repo.Insert(ctx, a); insertErr != nil {
		log.Error().Err(insertErr).
			Stringer("order_id", o.ID).
			Msg("failed to record notification attempt")
	}

	if err != nil {
		return a, err
	}
	return a, nil
}

func (s *service) resolvePhone(ctx context.Context, o *order.Order, target Target) (string, error) {
	switch target {
	case TargetCustomer:
		if o.CustomerPhone == "" {
			return "", fmt.Errorf("service: order %s has no customer phone: %w", o.ID, ErrInvalidTarget)
		}
		return o.CustomerPhone, nil
	case TargetDeliveryPerson:
		if o.AssignedDeliveryPersonID == nil {
			return "", fmt.Errorf("service: order %s has no assigned delivery person: %w", o.ID, ErrInvalidTarget)
		}
		dp, err := s.catalog.DeliveryPersonByID(ctx, *o.AssignedDeliveryPersonID)
		if err != nil {
			return "", fmt.Errorf("service: failed to resolve delivery person for order %s: %w", o.ID, err)
		}
		if dp.Phone == "" {
			return "", fmt.Errorf("service: delivery person %s has no phone: %w", dp.ID, ErrInvalidTarget)
		}
		return dp.Phone, nil
	default:
		return "", fmt.Errorf("service: unknown target %q: %w", target, ErrInvalidTarget)
	}
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]Attempt, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func transitionMessage(o *order.Order, status order.Status) string {
	ref := shortRef(o.ID)
	switch status {
	case order.StatusShipped:
		if o.TrackingNumber != "" {
			return fmt.Sprintf("Your order %s has shipped. Track it with %s (%s).", ref, o.TrackingNumber, o.Carrier)
		}
		return fmt.Sprintf("Your order %s has shipped.", ref)
	case order.StatusDelivered:
		return fmt.Sprintf("Your order %s has been delivered. Thank you for shopping with us!", ref)
	case order.StatusCancelled:
		return fmt.Sprintf("Your order %s has been cancelled. Contact us if this is unexpected.", ref)
	default:
		return fmt.Sprintf("Your order %s is now %s.", ref, status)
	}
}

// shortRef is the human-friendly order reference used in messages.
func shortRef(id uuid.UUID) string {
	return "#" + strings.ToUpper(id.String()[:8])
}
