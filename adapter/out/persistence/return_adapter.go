package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ordersight/core/domain"
	"ordersight/pkg/apperr"
)

// ReturnAdapter implements domain.ReturnRepository.
type ReturnAdapter struct {
	db sqlx.ExtContext
}

// NewReturnAdapter creates a new ReturnAdapter.
func NewReturnAdapter(db sqlx.ExtContext) *ReturnAdapter {
	return &ReturnAdapter{db: db}
}

const returnColumns = `
	id, tenant_id, order_id, rma_number, reason, status, return_by,
	pending_items, created_at, updated_at`

func (r *ReturnAdapter) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Return, error) {
	query := `SELECT ` + returnColumns + `
		FROM returns
		WHERE tenant_id = $1 AND id = $2`

	var row returnRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("return")
		}
		return nil, wrapDBError("get return", err)
	}
	return row.toEntity(), nil
}

func (r *ReturnAdapter) GetByRMA(ctx context.Context, tenantID uuid.UUID, rmaNumber string) (*domain.Return, error) {
	query := `SELECT ` + returnColumns + `
		FROM returns
		WHERE tenant_id = $1 AND rma_number = $2`

	var row returnRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, rmaNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("return")
		}
		return nil, wrapDBError("get return by rma", err)
	}
	return row.toEntity(), nil
}

func (r *ReturnAdapter) GetByOrderAndReason(ctx context.Context, orderID int64, reason string) (*domain.Return, error) {
	query := `SELECT ` + returnColumns + `
		FROM returns
		WHERE order_id = $1 AND rma_number IS NULL AND reason = $2`

	var row returnRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, orderID, reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("return")
		}
		return nil, wrapDBError("get return by reason", err)
	}
	return row.toEntity(), nil
}

func (r *ReturnAdapter) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Return, error) {
	query := `SELECT ` + returnColumns + `
		FROM returns
		WHERE order_id = $1
		ORDER BY created_at, id`

	var rows []returnRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID); err != nil {
		return nil, wrapDBError("list returns", err)
	}

	returns := make([]*domain.Return, len(rows))
	for i := range rows {
		returns[i] = rows[i].toEntity()
	}
	return returns, nil
}

func (r *ReturnAdapter) Create(ctx context.Context, ret *domain.Return) error {
	if ret.Status == "" {
		ret.Status = domain.ReturnInitiated
	}
	now := time.Now()
	ret.CreatedAt = now
	ret.UpdatedAt = now

	query := `
		INSERT INTO returns (
			tenant_id, order_id, rma_number, reason, status, return_by,
			pending_items, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		ret.TenantID, ret.OrderID, ret.RMANumber, ret.Reason, ret.Status,
		ret.ReturnBy, rawOrNil(ret.PendingItems), ret.CreatedAt, ret.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("create return", err)
	}
	ret.ID = id
	return nil
}

func (r *ReturnAdapter) Update(ctx context.Context, ret *domain.Return) error {
	query := `
		UPDATE returns SET
			rma_number = $2, reason = $3, status = $4, return_by = $5,
			pending_items = $6, updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		ret.ID, ret.RMANumber, ret.Reason, ret.Status, ret.ReturnBy,
		rawOrNil(ret.PendingItems),
	)
	if err != nil {
		return wrapDBError("update return", err)
	}
	return nil
}

// =============================================================================
// Return Lines
// =============================================================================

func (r *ReturnAdapter) Lines(ctx context.Context, returnID int64) ([]*domain.ReturnLine, error) {
	query := `
		SELECT id, return_id, order_line_id, quantity, reason
		FROM return_lines
		WHERE return_id = $1
		ORDER BY id`

	var rows []returnLineRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, returnID); err != nil {
		return nil, wrapDBError("list return lines", err)
	}

	lines := make([]*domain.ReturnLine, len(rows))
	for i := range rows {
		lines[i] = rows[i].toEntity()
	}
	return lines, nil
}

func (r *ReturnAdapter) CreateLine(ctx context.Context, line *domain.ReturnLine) error {
	query := `
		INSERT INTO return_lines (return_id, order_line_id, quantity, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		line.ReturnID, line.OrderLineID, line.Quantity, line.Reason)
	if err != nil {
		return wrapDBError("create return line", err)
	}
	line.ID = id
	return nil
}

// =============================================================================
// Refunds
// =============================================================================

func (r *ReturnAdapter) GetRefundByMessage(ctx context.Context, orderID int64, inboundMessageID int64) (*domain.Refund, error) {
	query := `
		SELECT id, tenant_id, order_id, return_id, amount_cents, method,
		       inbound_message_id, refunded_at, created_at
		FROM refunds
		WHERE order_id = $1 AND inbound_message_id = $2`

	var row refundRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, orderID, inboundMessageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("refund")
		}
		return nil, wrapDBError("get refund by message", err)
	}
	return row.toEntity(), nil
}

func (r *ReturnAdapter) ListRefundsByOrder(ctx context.Context, orderID int64) ([]*domain.Refund, error) {
	query := `
		SELECT id, tenant_id, order_id, return_id, amount_cents, method,
		       inbound_message_id, refunded_at, created_at
		FROM refunds
		WHERE order_id = $1
		ORDER BY created_at, id`

	var rows []refundRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID); err != nil {
		return nil, wrapDBError("list refunds", err)
	}

	refunds := make([]*domain.Refund, len(rows))
	for i := range rows {
		refunds[i] = rows[i].toEntity()
	}
	return refunds, nil
}

func (r *ReturnAdapter) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	refund.CreatedAt = time.Now()

	query := `
		INSERT INTO refunds (
			tenant_id, order_id, return_id, amount_cents, method,
			inbound_message_id, refunded_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		refund.TenantID, refund.OrderID, refund.ReturnID, refund.AmountCents,
		refund.Method, refund.InboundMessageID, refund.RefundedAt, refund.CreatedAt,
	)
	if err != nil {
		return wrapDBError("create refund", err)
	}
	refund.ID = id
	return nil
}

// =============================================================================
// Row Types
// =============================================================================

type returnRow struct {
	ID           int64          `db:"id"`
	TenantID     uuid.UUID      `db:"tenant_id"`
	OrderID      int64          `db:"order_id"`
	RMANumber    sql.NullString `db:"rma_number"`
	Reason       sql.NullString `db:"reason"`
	Status       string         `db:"status"`
	ReturnBy     sql.NullTime   `db:"return_by"`
	PendingItems []byte         `db:"pending_items"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *returnRow) toEntity() *domain.Return {
	ret := &domain.Return{
		ID:        r.ID,
		TenantID:  r.TenantID,
		OrderID:   r.OrderID,
		Status:    domain.ReturnStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.RMANumber.Valid {
		ret.RMANumber = &r.RMANumber.String
	}
	if r.Reason.Valid {
		ret.Reason = &r.Reason.String
	}
	if r.ReturnBy.Valid {
		ret.ReturnBy = &r.ReturnBy.Time
	}
	if len(r.PendingItems) > 0 {
		ret.PendingItems = json.RawMessage(r.PendingItems)
	}

	return ret
}

type returnLineRow struct {
	ID          int64          `db:"id"`
	ReturnID    int64          `db:"return_id"`
	OrderLineID int64          `db:"order_line_id"`
	Quantity    int            `db:"quantity"`
	Reason      sql.NullString `db:"reason"`
}

func (r *returnLineRow) toEntity() *domain.ReturnLine {
	line := &domain.ReturnLine{
		ID:          r.ID,
		ReturnID:    r.ReturnID,
		OrderLineID: r.OrderLineID,
		Quantity:    r.Quantity,
	}
	if r.Reason.Valid {
		line.Reason = &r.Reason.String
	}
	return line
}

type refundRow struct {
	ID               int64          `db:"id"`
	TenantID         uuid.UUID      `db:"tenant_id"`
	OrderID          int64          `db:"order_id"`
	ReturnID         sql.NullInt64  `db:"return_id"`
	AmountCents      int64          `db:"amount_cents"`
	Method           sql.NullString `db:"method"`
	InboundMessageID sql.NullInt64  `db:"inbound_message_id"`
	RefundedAt       sql.NullTime   `db:"refunded_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *refundRow) toEntity() *domain.Refund {
	refund := &domain.Refund{
		ID:          r.ID,
		TenantID:    r.TenantID,
		OrderID:     r.OrderID,
		AmountCents: r.AmountCents,
		CreatedAt:   r.CreatedAt,
	}

	if r.ReturnID.Valid {
		refund.ReturnID = &r.ReturnID.Int64
	}
	if r.Method.Valid {
		refund.Method = &r.Method.String
	}
	if r.InboundMessageID.Valid {
		refund.InboundMessageID = &r.InboundMessageID.Int64
	}
	if r.RefundedAt.Valid {
		refund.RefundedAt = &r.RefundedAt.Time
	}

	return refund
}
