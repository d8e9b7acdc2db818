package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/pkg/database"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// VoucherRepository implements repository.VoucherRepository using PostgreSQL.
type VoucherRepository struct {
	db database.DBTX
}

// NewVoucherRepository creates a new PostgreSQL-backed voucher repository.
func NewVoucherRepository(db database.DBTX) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// GetByCode retrieves a voucher by its code (case-insensitive).
func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	query := `
		SELECT id, code, type, discount_value, min_order_value,
			   max_discount_amount, max_usage_count, current_usage_count,
			   start_date, end_date, created_at, updated_at
		FROM vouchers
		WHERE code = $1`

	var v domain.Voucher
	err := r.db.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&v.ID,
		&v.Code,
		&v.Type,
		&v.DiscountValue,
		&v.MinOrderValue,
		&v.MaxDiscountAmount,
		&v.MaxUsageCount,
		&v.CurrentUsageCount,
		&v.StartDate,
		&v.EndDate,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("voucher", code)
		}
		return nil, fmt.Errorf("select voucher: %w", err)
	}

	return &v, nil
}

// IncrementUsage records one more use of the voucher.
func (r *VoucherRepository) IncrementUsage(ctx context.Context, id string) error {
	query := `
		UPDATE vouchers
		SET current_usage_count = current_usage_count + 1, updated_at = now()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update voucher usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("voucher", id)
	}

	return nil
}
