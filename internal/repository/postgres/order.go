package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/pkg/database"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, customer_id, status, items,
			subtotal_amount, discount_amount, shipping_amount, total_amount,
			currency, voucher_code, shipping_address, payment_method_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14
		)`

	_, err = r.db.Exec(ctx, query,
		order.ID,
		order.CustomerID,
		order.Status,
		itemsJSON,
		order.SubtotalAmount,
		order.DiscountAmount,
		order.ShippingAmount,
		order.TotalAmount,
		order.Currency,
		nullableString(order.VoucherCode),
		addressJSON,
		order.PaymentMethodID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("order", "id", order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetByID retrieves an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, status, items,
			   subtotal_amount, discount_amount, shipping_amount, total_amount,
			   currency, voucher_code, shipping_address, payment_method_id,
			   created_at, updated_at
		FROM orders
		WHERE id = $1`

	var (
		order       domain.Order
		itemsJSON   []byte
		addressJSON []byte
		voucherCode *string
	)

	err := r.db.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.CustomerID,
		&order.Status,
		&itemsJSON,
		&order.SubtotalAmount,
		&order.DiscountAmount,
		&order.ShippingAmount,
		&order.TotalAmount,
		&order.Currency,
		&voucherCode,
		&addressJSON,
		&order.PaymentMethodID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if voucherCode != nil {
		order.VoucherCode = *voucherCode
	}

	return &order, nil
}

// nullableString converts "" to a NULL parameter.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
