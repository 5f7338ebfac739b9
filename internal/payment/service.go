package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/order"
)

var ErrUnsupportedProvider = errors.New("unsupported payment provider")

// Ledger is the slice of the order ledger the adapter needs. Transitions go
// through this contract only; the adapter never writes to order storage.
type Ledger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, target order.Status, note string) (*order.Order, error)
}

// ClientData is what the shopper's client needs to complete the payment.
type ClientData struct {
	Provider     Kind   `json:"provider"`
	ProviderRef  string `json:"provider_ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApprovalURL  string `json:"approval_url,omitempty"`
}

// ConfirmResult is the outcome of a confirmation. Replays of an already
// succeeded confirmation return the identical result.
type ConfirmResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	ProviderRef string    `json:"provider_ref"`
	State       State     `json:"state"`
}

type Service interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID, kind Kind) (*ClientData, error)
	Confirm(ctx context.Context, orderID uuid.UUID, providerRef string, proof Proof) (*ConfirmResult, error)
	ResolveExternal(ctx context.Context, providerRef string, state State, detail string) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error)
	ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

type service struct {
	repo      Repository
	providers map[Kind]Provider
	ledger    Ledger
}

func NewService(repo Repository, providers map[Kind]Provider, ledger Ledger) Service {
	return &service{
		repo:      repo,
		providers: providers,
		ledger:    ledger,
	}
}

// CreateIntent reserves the payment slot for the order before talking to the
// provider: the attempt row is inserted first under the order lock, so a
// concurrent second intent fails with ErrOrderNotPayable instead of producing
// a duplicate charge path.
func (s *service) CreateIntent(ctx context.Context, orderID uuid.UUID, kind Kind) (*ClientData, error) {
	provider, ok := s.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%q: %w", kind, ErrUnsupportedProvider)
	}

	o, err := s.ledger.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.CreateAttempt(ctx, orderID, kind)
	if err != nil {
		return nil, err
	}

	intent, err := provider.CreateIntent(ctx, IntentRequest{
		OrderID:       orderID,
		Amount:        o.Total,
		Currency:      o.Currency,
		CustomerEmail: o.CustomerEmail,
		Description:   fmt.Sprintf("Order %s", shortID(orderID)),
	})
	if err != nil {
		// The reserved slot must not linger: free it so a new intent can be
		// created once the provider recovers.
		if markErr := s.repo.MarkState(ctx, attempt.ID, StateFailed); markErr != nil {
			log.Error().Err(markErr).Stringer("attempt_id", attempt.ID).Msg("failed to mark attempt after provider error")
		}
		return nil, fmt.Errorf("%s intent creation failed: %w", kind, errors.Join(ErrProvider, err))
	}

	payload := map[string]string{}
	if intent.ClientSecret != "" {
		payload["client_secret"] = intent.ClientSecret
	}
	if intent.ApprovalURL != "" {
		payload["approval_url"] = intent.ApprovalURL
	}

	if _, err := s.repo.AttachIntent(ctx, attempt.ID, intent.ProviderRef, payload); err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Str("provider", string(kind)).Str("provider_ref", intent.ProviderRef).Msg("payment intent created")

	return &ClientData{
		Provider:     kind,
		ProviderRef:  intent.ProviderRef,
		ClientSecret: intent.ClientSecret,
		ApprovalURL:  intent.ApprovalURL,
	}, nil
}

// Confirm is the single confirmation entry point for both the client-driven
// path and provider webhooks. It is idempotent under at-least-once delivery:
// the provider reference is the deduplication key, and a replay of a
// succeeded confirmation returns the stored result without contacting the
// provider again.
func (s *service) Confirm(ctx context.Context, orderID uuid.UUID, providerRef string, proof Proof) (*ConfirmResult, error) {
	attempt, err := s.repo.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if attempt.OrderID != orderID {
		return nil, fmt.Errorf("provider reference does not belong to order %s: %w", orderID, ErrVerification)
	}

	if attempt.State == StateSucceeded {
		return &ConfirmResult{OrderID: orderID, ProviderRef: providerRef, State: StateSucceeded}, nil
	}
	if attempt.State.Terminal() {
		return nil, fmt.Errorf("attempt %s already resolved as %s: %w", providerRef, attempt.State, ErrOrderNotPayable)
	}

	provider, ok := s.providers[attempt.Provider]
	if !ok {
		return nil, fmt.Errorf("%q: %w", attempt.Provider, ErrUnsupportedProvider)
	}

	result, err := provider.Verify(ctx, providerRef, proof)
	if err != nil {
		return nil, fmt.Errorf("%s verification failed: %w", attempt.Provider, err)
	}

	if result.State == StateSucceeded && !amountsMatch(result, attempt) {
		log.Warn().
			Str("provider_ref", providerRef).
			Float64("expected", attempt.Amount).
			Float64("got", result.Amount).
			Msg("payment amount mismatch")
		if _, _, markErr := s.repo.Resolve(ctx, providerRef, StateFailed, nil); markErr != nil {
			log.Error().Err(markErr).Str("provider_ref", providerRef).Msg("failed to fail mismatched attempt")
		}
		return nil, fmt.Errorf("provider-reported amount %.2f %s does not match order total %.2f %s: %w",
			result.Amount, result.Currency, attempt.Amount, attempt.Currency, ErrVerification)
	}

	var payload map[string]string
	if proof.PayerID != "" {
		payload = map[string]string{"payer_id": proof.PayerID}
	}

	resolvedAttempt, resolvedNow, err := s.repo.Resolve(ctx, providerRef, result.State, payload)
	if err != nil {
		return nil, err
	}

	// A webhook may have raced us to the terminal state; the stored verdict
	// wins and the transition below has already happened (or never will).
	finalState := resolvedAttempt.State

	if finalState == StateSucceeded && resolvedNow {
		note := fmt.Sprintf("Payment confirmed via %s (ref: %s)", attempt.Provider, providerRef)
		if _, err := s.ledger.Transition(ctx, orderID, order.StatusConfirmed, note); err != nil {
			// The money state is settled; a transition conflict (e.g. the
			// order was cancelled meanwhile) is surfaced, not retried.
			log.Error().Err(err).Stringer("order_id", orderID).Msg("payment succeeded but order could not be confirmed")
			return nil, fmt.Errorf("payment recorded but order not confirmable: %w", err)
		}
		log.Info().Stringer("order_id", orderID).Str("provider_ref", providerRef).Msg("payment confirmed")
	}

	if finalState != StateSucceeded {
		return nil, fmt.Errorf("provider declined payment %s: %w", providerRef, ErrVerification)
	}

	return &ConfirmResult{OrderID: orderID, ProviderRef: providerRef, State: StateSucceeded}, nil
}

// ResolveExternal records a terminal verdict delivered by a signed provider
// webhook. The event is trusted, so no second verification round-trip is
// made. Replays and late events for already-terminal attempts are no-ops.
func (s *service) ResolveExternal(ctx context.Context, providerRef string, state State, detail string) error {
	if providerRef == "" {
		// Attempts awaiting their provider object carry an empty reference;
		// an empty-ref event must never be allowed to match one of those.
		return fmt.Errorf("external resolution requires a provider reference: %w", ErrVerification)
	}
	if !state.Terminal() {
		return fmt.Errorf("external resolution requires a terminal state, got %q: %w", state, ErrVerification)
	}

	payload := map[string]string{"source": "webhook"}
	if detail != "" {
		payload["detail"] = detail
	}

	attempt, resolvedNow, err := s.repo.Resolve(ctx, providerRef, state, payload)
	if err != nil {
		return err
	}
	if !resolvedNow {
		return nil
	}

	if attempt.State == StateSucceeded {
		note := fmt.Sprintf("Payment confirmed via %s (ref: %s)", attempt.Provider, providerRef)
		if _, err := s.ledger.Transition(ctx, attempt.OrderID, order.StatusConfirmed, note); err != nil {
			// The verdict is recorded either way. A conflicting order state
			// (cancelled meanwhile) is an operator concern, not a webhook
			// retry candidate.
			log.Error().Err(err).Stringer("order_id", attempt.OrderID).Msg("webhook payment succeeded but order could not be confirmed")
			return nil
		}
		log.Info().Stringer("order_id", attempt.OrderID).Str("provider_ref", providerRef).Msg("payment confirmed via webhook")
		return nil
	}

	log.Info().
		Str("provider_ref", providerRef).
		Stringer("order_id", attempt.OrderID).
		Str("state", string(attempt.State)).
		Str("detail", detail).
		Msg("payment attempt resolved via webhook")

	return nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// ExpireStale is the reconciliation sweep: abandoned intents older than
// maxAge are cancelled so their orders become payable again.
func (s *service) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("stale payment attempts cancelled")
	}
	return n, nil
}

func amountsMatch(result Result, attempt *Attempt) bool {
	if !strings.EqualFold(result.Currency, attempt.Currency) {
		return false
	}
	// Providers report in minor units; compare at cent precision.
	return math.Abs(result.Amount-attempt.Amount) < 0.005
}

func shortID(id uuid.UUID) string {
	return strings.SplitN(id.String(), "-", 2)[0]
}
