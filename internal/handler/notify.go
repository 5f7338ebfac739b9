package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/notify"
	"github.com/shopflow/shopflow/internal/order"
)

// NotifyHandler exposes the explicit, operator-triggered sends and the
// per-order notification history.
type NotifyHandler struct {
	svc    notify.Service
	orders order.Service
}

func NewNotifyHandler(svc notify.Service, orders order.Service) *NotifyHandler {
	return &NotifyHandler{svc: svc, orders: orders}
}

type sendRequest struct {
	Channel notify.Channel `json:"channel"`
	Target  notify.Target  `json:"target"`
	Body    string         `json:"body"`
}

// Send delivers an ad-hoc SMS or voice call about an order.
func (h *NotifyHandler) Send(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to load order for notification")
			respondWithError(w, code, "failed to load order")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	var attempt *notify.Attempt
	switch req.Channel {
	case notify.ChannelVoice:
		attempt, err = h.svc.PlaceCall(r.Context(), o, req.Target, req.Body)
	case notify.ChannelSMS:
		attempt, err = h.svc.SendSMS(r.Context(), o, req.Target, req.Body)
	default:
		respondWithError(w, http.StatusBadRequest, "channel must be one of: sms, voice")
		return
	}
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to send notification")
			respondWithError(w, code, "failed to send notification")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, attempt)
}

// History returns the order's notification attempts, newest first.
func (h *NotifyHandler) History(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	attempts, err := h.svc.History(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("failed to list notification attempts")
		respondWithError(w, http.StatusInternalServerError, "failed to list notification attempts")
		return
	}

	respondWithJSON(w, http.StatusOK, attempts)
}
