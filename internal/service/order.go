package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/event"
	"github.com/gearhive/cart-service/internal/repository"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// SubmitOrderInput holds the parameters for submitting an order.
type SubmitOrderInput struct {
	ShippingAddress domain.Address `json:"shipping_address" validate:"required"`
	PaymentMethodID string         `json:"payment_method_id" validate:"required"`
	VoucherCode     string         `json:"voucher_code"`
}

// OrderService turns a cart's selected items into a pending order.
type OrderService struct {
	orders   repository.OrderRepository
	vouchers repository.VoucherRepository
	carts    *CartService
	producer *event.Producer
	logger   *slog.Logger
	rules    domain.PricingRules
	currency string
}

// NewOrderService creates a new order service.
func NewOrderService(
	orders repository.OrderRepository,
	vouchers repository.VoucherRepository,
	carts *CartService,
	producer *event.Producer,
	logger *slog.Logger,
	rules domain.PricingRules,
	currency string,
) *OrderService {
	return &OrderService{
		orders:   orders,
		vouchers: vouchers,
		carts:    carts,
		producer: producer,
		logger:   logger,
		rules:    rules,
		currency: currency,
	}
}

// SubmitOrder creates a pending order from the customer's selected cart
// items. The voucher is re-validated against the submission-time subtotal;
// a stale or inapplicable code fails the submission rather than silently
// dropping the discount.
func (s *OrderService) SubmitOrder(ctx context.Context, customerID string, input SubmitOrderInput) (*domain.Order, error) {
	if customerID == "" {
		return nil, apperrors.Unauthorized("authentication required to submit orders")
	}
	if err := validateAddress(input.ShippingAddress); err != nil {
		return nil, err
	}
	if input.PaymentMethodID == "" {
		return nil, apperrors.InvalidInput("payment method is required")
	}

	owner := domain.CustomerOwner(customerID)
	cart, err := s.carts.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	selected := cart.SelectedItems()
	if len(selected) == 0 {
		return nil, apperrors.InvalidInput("no items selected for checkout")
	}

	now := time.Now().UTC()

	var voucher *domain.Voucher
	if input.VoucherCode != "" {
		voucher, err = s.vouchers.GetByCode(ctx, input.VoucherCode)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.InvalidInput(fmt.Sprintf("voucher %s not found", input.VoucherCode))
			}
			return nil, fmt.Errorf("get voucher: %w", err)
		}
	}

	totals := domain.CalculateTotals(cart, voucher, s.rules, now)
	if voucher != nil && totals.VoucherReason != "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("voucher %s not applicable: %s", voucher.Code, totals.VoucherReason))
	}

	items := make([]domain.OrderItem, 0, len(selected))
	for _, item := range selected {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	order := &domain.Order{
		ID:              uuid.New().String(),
		CustomerID:      customerID,
		Status:          domain.OrderStatusPending,
		Items:           items,
		SubtotalAmount:  totals.Subtotal,
		DiscountAmount:  totals.Discount,
		ShippingAmount:  totals.ShippingFee,
		TotalAmount:     totals.Total,
		Currency:        s.currency,
		VoucherCode:     totals.VoucherCode,
		ShippingAddress: input.ShippingAddress,
		PaymentMethodID: input.PaymentMethodID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// The order is placed at this point. Voucher bookkeeping, the event, and
	// the cart cleanup are best-effort and must not fail the submission.
	if voucher != nil {
		if err := s.vouchers.IncrementUsage(ctx, voucher.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to increment voucher usage",
				slog.String("voucher_id", voucher.ID),
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.producer.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.carts.RemoveCheckedOutItems(ctx, owner); err != nil {
		s.logger.ErrorContext(ctx, "failed to remove checked out items",
			slog.String("owner", owner.Key()),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", order.ID),
		slog.String("customer_id", customerID),
		slog.Int("items", len(items)),
		slog.Int64("total", order.TotalAmount),
	)

	return order, nil
}

// GetOrder retrieves an order owned by the given customer. Orders belonging
// to other customers are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, customerID, orderID string) (*domain.Order, error) {
	if customerID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, apperrors.NotFound("order", orderID)
	}

	return order, nil
}

func validateAddress(addr domain.Address) error {
	switch {
	case addr.FullName == "":
		return apperrors.InvalidInput("shipping address full name is required")
	case addr.AddressLine == "":
		return apperrors.InvalidInput("shipping address line is required")
	case addr.City == "":
		return apperrors.InvalidInput("shipping address city is required")
	case addr.Country == "":
		return apperrors.InvalidInput("shipping address country is required")
	}
	return nil
}
