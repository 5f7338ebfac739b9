package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/order"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	svc order.Service
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// CreateOrder handles the creation of a new order.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var form order.CreateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.Create(r.Context(), form)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Msg("failed to create order")
			respondWithError(w, code, "failed to create order")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, o)
}

// GetOrderByID handles retrieving an order by its ID.
func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", id).Msg("failed to get order")
			respondWithError(w, code, "failed to get order")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

// ListOrders lists a shop's or a user's orders, newest first. Exactly one of
// shop_id and user_id must be set; page is 1-based, page<=0 disables paging.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	shopParam := r.URL.Query().Get("shop_id")
	userParam := r.URL.Query().Get("user_id")
	if (shopParam == "") == (userParam == "") {
		respondWithError(w, http.StatusBadRequest, "exactly one of shop_id and user_id is required")
		return
	}

	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = parsed
	}

	var (
		orders []order.Order
		err    error
	)
	if shopParam != "" {
		shopID, parseErr := uuid.FromString(shopParam)
		if parseErr != nil {
			respondWithError(w, http.StatusBadRequest, "invalid shop_id")
			return
		}
		orders, err = h.svc.ListByShop(r.Context(), shopID, page)
	} else {
		userID, parseErr := uuid.FromString(userParam)
		if parseErr != nil {
			respondWithError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		orders, err = h.svc.ListByUser(r.Context(), userID, page)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to list orders")
		respondWithError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

type transitionRequest struct {
	Status order.Status `json:"status"`
	Note   string       `json:"note,omitempty"`
}

// TransitionOrder moves an order to a new status.
func (h *OrderHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.Transition(r.Context(), id, req.Status, req.Note)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", id).Msg("failed to transition order")
			respondWithError(w, code, "failed to transition order")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

// UpdateFulfilment patches tracking and assignment fields.
func (h *OrderHandler) UpdateFulfilment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var f order.FulfilmentUpdate
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.UpdateFulfilment(r.Context(), id, f)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", id).Msg("failed to update fulfilment")
			respondWithError(w, code, "failed to update fulfilment")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

// GetOrderHistory returns the order's status history, oldest first.
func (h *OrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	history, err := h.svc.History(r.Context(), id)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Stringer("order_id", id).Msg("failed to get order history")
			respondWithError(w, code, "failed to get order history")
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}
