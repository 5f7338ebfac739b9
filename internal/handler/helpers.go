package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/catalog"
	"github.com/shopflow/shopflow/internal/notify"
	"github.com/shopflow/shopflow/internal/order"
	"github.com/shopflow/shopflow/internal/payment"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrShopNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrDeliveryPersonNotFound),
		errors.Is(err, payment.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrTrackingRequired),
		errors.Is(err, notify.ErrInvalidTarget),
		errors.Is(err, payment.ErrVerification),
		errors.Is(err, payment.ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrInsufficientStock),
		errors.Is(err, order.ErrIllegalTransition),
		errors.Is(err, payment.ErrOrderNotPayable):
		return http.StatusConflict
	case errors.Is(err, payment.ErrProvider),
		errors.Is(err, notify.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
