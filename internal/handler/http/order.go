package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/service"
	"github.com/gearhive/cart-service/pkg/httputil"
	"github.com/gearhive/cart-service/pkg/validator"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// SubmitOrderRequest is the JSON request body for submitting an order.
type SubmitOrderRequest struct {
	ShippingAddress domain.Address `json:"shipping_address"`
	PaymentMethodID string         `json:"payment_method_id" validate:"required"`
	VoucherCode     string         `json:"voucher_code"`
}

// SubmitOrder handles POST /api/v1/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok || !owner.Authenticated() {
		writeMissingOwner(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.service.SubmitOrder(r.Context(), owner.ID, service.SubmitOrderInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethodID: req.PaymentMethodID,
		VoucherCode:     req.VoucherCode,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{orderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok || !owner.Authenticated() {
		writeMissingOwner(w)
		return
	}

	order, err := h.service.GetOrder(r.Context(), owner.ID, chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
