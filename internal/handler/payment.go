package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/shopflow/shopflow/internal/payment"
)

const maxWebhookBody = 64 << 10

// PaymentHandler handles payment intents, confirmations and provider
// webhooks.
type PaymentHandler struct {
	svc payment.Service

	// stripeWebhookSecret enables signature verification on the Stripe
	// webhook. When empty, events are accepted unverified with a warning.
	stripeWebhookSecret string
}

func NewPaymentHandler(svc payment.Service, stripeWebhookSecret string) *PaymentHandler {
	return &PaymentHandler{svc: svc, stripeWebhookSecret: stripeWebhookSecret}
}

type createIntentRequest struct {
	Provider payment.Kind `json:"provider"`
}

// CreateIntent starts a payment attempt for the order with the chosen
// provider.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Provider.Valid() {
		respondWithError(w, http.StatusBadRequest, "provider must be one of: stripe, paypal")
		return
	}

	data, err := h.svc.CreateIntent(r.Context(), orderID, req.Provider)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to create payment intent")
			respondWithError(w, code, "failed to create payment intent")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, data)
}

type confirmRequest struct {
	ProviderRef string `json:"provider_ref"`
	PayerID     string `json:"payer_id,omitempty"`
}

// Confirm settles a payment attempt. Safe to replay: a confirmation that
// already succeeded returns the stored result.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderRef == "" {
		respondWithError(w, http.StatusBadRequest, "provider_ref is required")
		return
	}

	result, err := h.svc.Confirm(r.Context(), orderID, req.ProviderRef, payment.Proof{PayerID: req.PayerID})
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to confirm payment")
			respondWithError(w, code, "failed to confirm payment")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// ListAttempts returns the order's payment attempts, newest first.
func (h *PaymentHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	attempts, err := h.svc.ListByOrder(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to list payment attempts")
		respondWithError(w, http.StatusInternalServerError, "failed to list payment attempts")
		return
	}

	respondWithJSON(w, http.StatusOK, attempts)
}

// StripeWebhook receives payment_intent events. Delivery is at-least-once;
// every path through here is idempotent.
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var event stripelib.Event
	if h.stripeWebhookSecret != "" {
		event, err = webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.stripeWebhookSecret)
		if err != nil {
			log.Warn().Err(err).Msg("stripe webhook signature verification failed")
			respondWithError(w, http.StatusBadRequest, "invalid webhook signature")
			return
		}
	} else {
		log.Warn().Msg("stripe webhook secret not configured; accepting event without signature verification")
		if err := json.Unmarshal(body, &event); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}
	}

	var intent stripelib.PaymentIntent
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		if event.Data == nil {
			respondWithError(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		if intent.ID == "" {
			respondWithError(w, http.StatusBadRequest, "event intent has no id")
			return
		}
	default:
		// Unsubscribed event types are acknowledged and dropped.
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	state := payment.StateSucceeded
	detail := ""
	if event.Type == "payment_intent.payment_failed" {
		state = payment.StateFailed
		if intent.LastPaymentError != nil {
			detail = intent.LastPaymentError.Msg
		}
	}

	if err := h.svc.ResolveExternal(r.Context(), intent.ID, state, detail); err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			// An event for an intent we never issued; acknowledge so Stripe
			// stops retrying.
			log.Warn().Str("provider_ref", intent.ID).Msg("stripe event for unknown payment intent")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Error().Err(err).Str("provider_ref", intent.ID).Msg("failed to process stripe event")
		respondWithError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

type paypalWebhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		State         string `json:"state"`
		ParentPayment string `json:"parent_payment"`
	} `json:"resource"`
}

// PayPalWebhook receives sale events for payments created through the v1
// payments API. The sale's parent payment is our provider reference.
func (h *PaymentHandler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var state payment.State
	switch event.EventType {
	case "PAYMENT.SALE.COMPLETED":
		state = payment.StateSucceeded
	case "PAYMENT.SALE.DENIED", "PAYMENT.SALE.REVERSED":
		state = payment.StateFailed
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ref := event.Resource.ParentPayment
	if ref == "" {
		respondWithError(w, http.StatusBadRequest, "event resource has no parent payment")
		return
	}

	if err := h.svc.ResolveExternal(r.Context(), ref, state, event.EventType); err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			log.Warn().Str("provider_ref", ref).Msg("paypal event for unknown payment")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Error().Err(err).Str("provider_ref", ref).Msg("failed to process paypal event")
		respondWithError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
