package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aelleshop/aelle-api/internal/db"
	"github.com/aelleshop/aelle-api/internal/models"
)

var errInvalidPagination = errors.New("page and limit must be positive integers")

// AdminAllOrders handles GET /orders/admin/all with optional status,
// page and limit query parameters.
func (h *Handlers) AdminAllOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := db.OrderFilter{
		Status: models.OrderStatus(query.Get("status")),
	}
	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			h.writeBadRequest(w, r, errInvalidPagination)
			return
		}
		filter.Page = page
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeBadRequest(w, r, errInvalidPagination)
			return
		}
		filter.Limit = limit
	}

	orders, total, err := h.orderService.ListAllOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, toOrderResponse(order))
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"orders":  responses,
		"total":   total,
	})
}

// AdminOrderStats handles GET /orders/admin/stats.
func (h *Handlers) AdminOrderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orderService.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"totalOrders":  stats.TotalOrders,
			"totalRevenue": stats.TotalRevenue,
		},
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// AdminUpdateOrderStatus handles PUT /orders/admin/{id}/status.
func (h *Handlers) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	order, err := h.orderService.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"order":   toOrderResponse(order),
	})
}
