package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/core/domain"
	"github.com/stationworks/fulfillment/internal/core/service"
)

// principalHeader carries the pre-validated principal set by the gateway.
// This core trusts it and does no token validation of its own.
const principalHeader = "X-Principal"

type HTTPHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	logger    *zap.Logger
}

func NewHTTPHandler(orders *service.OrderService, inventory *service.InventoryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, inventory: inventory, logger: logger}
}

// Register mounts the operation surface on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/confirm", h.ConfirmOrder)
	mux.HandleFunc("POST /api/orders/{id}/fulfill", h.FulfillOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /api/downstream/{id}/resolve", h.ResolveDownstream)
	mux.HandleFunc("GET /api/stock", h.QueryStock)
	mux.HandleFunc("POST /api/stock/adjust", h.AdjustStock)
	mux.HandleFunc("GET /api/config/lot-size-threshold", h.GetThreshold)
	mux.HandleFunc("PUT /api/config/lot-size-threshold", h.SetThreshold)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type orderItemPayload struct {
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type orderResponse struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	WorkstationID   string             `json:"workstation_id"`
	Items           []orderItemPayload `json:"items"`
	Status          string             `json:"status"`
	TriggerScenario string             `json:"trigger_scenario,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type errorResponse struct {
	Error string         `json:"error"`
	Order *orderResponse `json:"order,omitempty"`
}

func toOrderResponse(order *domain.CustomerOrder) *orderResponse {
	resp := &orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		WorkstationID: order.WorkstationID,
		Status:        string(order.Status),
		Notes:         order.Notes,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.TriggerScenario != nil {
		resp.TriggerScenario = string(*order.TriggerScenario)
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemPayload{
			ItemType: string(item.ItemType),
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
		})
	}
	return resp
}

type createOrderRequest struct {
	WorkstationID string             `json:"workstation_id"`
	Items         []orderItemPayload `json:"items"`
	Notes         string             `json:"notes"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ItemType: domain.ItemType(item.ItemType),
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
		})
	}

	order, err := h.orders.Create(r.Context(), req.WorkstationID, items, req.Notes)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.Confirm)
}

func (h *HTTPHandler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.Fulfill)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.Cancel)
}

func (h *HTTPHandler) ResolveDownstream(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.ResolveDownstream(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err, order)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, orderID string) (*domain.CustomerOrder, error)) {
	order, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err, order)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type stockResponse struct {
	WorkstationID string `json:"workstation_id"`
	ItemType      string `json:"item_type"`
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
}

func stockKeyFromQuery(r *http.Request) domain.StockKey {
	q := r.URL.Query()
	return domain.StockKey{
		WorkstationID: q.Get("workstation"),
		ItemType:      domain.ItemType(q.Get("type")),
		ItemID:        q.Get("item"),
	}
}

func (h *HTTPHandler) QueryStock(w http.ResponseWriter, r *http.Request) {
	key := stockKeyFromQuery(r)
	if key.WorkstationID == "" || key.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "workstation, type and item are required"})
		return
	}
	qty, err := h.inventory.Query(r.Context(), key)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		WorkstationID: key.WorkstationID,
		ItemType:      string(key.ItemType),
		ItemID:        key.ItemID,
		Quantity:      qty,
	})
}

type adjustStockRequest struct {
	WorkstationID string `json:"workstation_id"`
	ItemType      string `json:"item_type"`
	ItemID        string `json:"item_id"`
	Delta         int    `json:"delta"`
	Reason        string `json:"reason"`
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.WorkstationID == "" || req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "workstation_id and item_id are required"})
		return
	}
	key := domain.StockKey{
		WorkstationID: req.WorkstationID,
		ItemType:      domain.ItemType(req.ItemType),
		ItemID:        req.ItemID,
	}
	qty, err := h.inventory.Adjust(r.Context(), key, req.Delta,
		domain.AdjustReason(req.Reason), r.Header.Get(principalHeader))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		WorkstationID: key.WorkstationID,
		ItemType:      string(key.ItemType),
		ItemID:        key.ItemID,
		Quantity:      qty,
	})
}

type thresholdResponse struct {
	LotSizeThreshold int `json:"lot_size_threshold"`
}

func (h *HTTPHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	value, err := h.inventory.Threshold(r.Context())
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, thresholdResponse{LotSizeThreshold: value})
}

func (h *HTTPHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.inventory.SetThreshold(r.Context(), req.LotSizeThreshold, r.Header.Get(principalHeader)); err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, thresholdResponse{LotSizeThreshold: req.LotSizeThreshold})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the error taxonomy onto status codes. State-conflict
// responses carry the unchanged order snapshot so callers see the pre-attempt
// state.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error, order *domain.CustomerOrder) {
	var snapshot *orderResponse
	if order != nil {
		snapshot = toOrderResponse(order)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrMissingWorkstation),
		errors.Is(err, domain.ErrUnknownItem),
		errors.Is(err, domain.ErrInvalidAdjustment):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrDownstreamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyTimeout):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCatalogUnavailable):
		status = http.StatusBadGateway
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Order: snapshot})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
