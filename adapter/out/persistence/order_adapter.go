package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ordersight/core/domain"
	"ordersight/pkg/apperr"
)

// OrderAdapter implements domain.OrderRepository.
type OrderAdapter struct {
	db sqlx.ExtContext
}

// NewOrderAdapter creates a new OrderAdapter.
func NewOrderAdapter(db sqlx.ExtContext) *OrderAdapter {
	return &OrderAdapter{db: db}
}

const orderColumns = `
	id, tenant_id, retailer_id, order_number, status, is_inferred,
	closed_by_operator, currency, subtotal_cents, shipping_cents, tax_cents,
	total_cents, version, ordered_at, created_at, updated_at`

func (r *OrderAdapter) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND id = $2`

	var row orderRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("order")
		}
		return nil, wrapDBError("get order", err)
	}
	return row.toEntity(), nil
}

func (r *OrderAdapter) GetByNumber(ctx context.Context, tenantID uuid.UUID, orderNumber string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND order_number = $2`

	var row orderRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, orderNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("order")
		}
		return nil, wrapDBError("get order by number", err)
	}
	return row.toEntity(), nil
}

func (r *OrderAdapter) Create(ctx context.Context, order *domain.Order) error {
	if order.Currency == "" {
		order.Currency = "USD"
	}
	order.Version = 1
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	query := `
		INSERT INTO orders (
			tenant_id, retailer_id, order_number, status, is_inferred,
			closed_by_operator, currency, subtotal_cents, shipping_cents,
			tax_cents, total_cents, version, ordered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		order.TenantID, order.RetailerID, order.OrderNumber, order.Status,
		order.IsInferred, order.ClosedByOperator, order.Currency,
		order.SubtotalCents, order.ShippingCents, order.TaxCents,
		order.TotalCents, order.Version, order.OrderedAt,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("create order", err)
	}
	order.ID = id
	return nil
}

// Update writes the order only if the stored version still matches the one
// the caller read, then bumps it. Zero rows affected means a concurrent
// merge won the race and the caller should re-read and retry.
func (r *OrderAdapter) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders SET
			retailer_id = $4, status = $5, is_inferred = $6,
			closed_by_operator = $7, currency = $8, subtotal_cents = $9,
			shipping_cents = $10, tax_cents = $11, total_cents = $12,
			ordered_at = $13, version = version + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND version = $3`

	res, err := r.db.ExecContext(ctx, query,
		order.TenantID, order.ID, order.Version,
		order.RetailerID, order.Status, order.IsInferred,
		order.ClosedByOperator, order.Currency, order.SubtotalCents,
		order.ShippingCents, order.TaxCents, order.TotalCents, order.OrderedAt,
	)
	if err != nil {
		return wrapDBError("update order", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("order")
	}
	order.Version++
	return nil
}

// UpdateStatus persists a recomputed status under the same version check.
func (r *OrderAdapter) UpdateStatus(ctx context.Context, order *domain.Order, status domain.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $4, version = version + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND version = $3`

	res, err := r.db.ExecContext(ctx, query, order.TenantID, order.ID, order.Version, status)
	if err != nil {
		return wrapDBError("update order status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("order")
	}
	order.Status = status
	order.Version++
	return nil
}

// =============================================================================
// Order Lines
// =============================================================================

func (r *OrderAdapter) Lines(ctx context.Context, orderID int64) ([]*domain.OrderLine, error) {
	query := `
		SELECT id, order_id, line_number, product_name, sku, quantity,
		       unit_price_cents, status, created_at, updated_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_number NULLS LAST, id`

	var rows []orderLineRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID); err != nil {
		return nil, wrapDBError("list order lines", err)
	}

	lines := make([]*domain.OrderLine, len(rows))
	for i := range rows {
		lines[i] = rows[i].toEntity()
	}
	return lines, nil
}

func (r *OrderAdapter) CreateLine(ctx context.Context, line *domain.OrderLine) error {
	if line.Quantity <= 0 {
		line.Quantity = 1
	}
	now := time.Now()
	line.CreatedAt = now
	line.UpdatedAt = now

	query := `
		INSERT INTO order_lines (
			order_id, line_number, product_name, sku, quantity,
			unit_price_cents, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		line.OrderID, line.LineNumber, line.ProductName, line.SKU,
		line.Quantity, line.UnitPriceCents, line.Status,
		line.CreatedAt, line.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("create order line", err)
	}
	line.ID = id
	return nil
}

func (r *OrderAdapter) UpdateLine(ctx context.Context, line *domain.OrderLine) error {
	query := `
		UPDATE order_lines SET
			line_number = $2, product_name = $3, sku = $4, quantity = $5,
			unit_price_cents = $6, status = $7, updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		line.ID, line.LineNumber, line.ProductName, line.SKU,
		line.Quantity, line.UnitPriceCents, line.Status,
	)
	if err != nil {
		return wrapDBError("update order line", err)
	}
	return nil
}

// =============================================================================
// Order Events
// =============================================================================

func (r *OrderAdapter) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO order_events (order_id, inbound_message_id, event_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		event.OrderID, event.InboundMessageID, event.EventType,
		event.Description, event.CreatedAt,
	)
	if err != nil {
		return wrapDBError("append order event", err)
	}
	event.ID = id
	return nil
}

func (r *OrderAdapter) Events(ctx context.Context, orderID int64, limit, offset int) ([]*domain.OrderEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, order_id, inbound_message_id, event_type, description, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	var rows []orderEventRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID, limit, offset); err != nil {
		return nil, wrapDBError("list order events", err)
	}

	events := make([]*domain.OrderEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toEntity()
	}
	return events, nil
}

// =============================================================================
// Row Types
// =============================================================================

type orderRow struct {
	ID               int64         `db:"id"`
	TenantID         uuid.UUID     `db:"tenant_id"`
	RetailerID       sql.NullInt64 `db:"retailer_id"`
	OrderNumber      string        `db:"order_number"`
	Status           string        `db:"status"`
	IsInferred       bool          `db:"is_inferred"`
	ClosedByOperator bool          `db:"closed_by_operator"`
	Currency         string        `db:"currency"`
	SubtotalCents    sql.NullInt64 `db:"subtotal_cents"`
	ShippingCents    sql.NullInt64 `db:"shipping_cents"`
	TaxCents         sql.NullInt64 `db:"tax_cents"`
	TotalCents       sql.NullInt64 `db:"total_cents"`
	Version          int           `db:"version"`
	OrderedAt        sql.NullTime  `db:"ordered_at"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

func (r *orderRow) toEntity() *domain.Order {
	order := &domain.Order{
		ID:               r.ID,
		TenantID:         r.TenantID,
		OrderNumber:      r.OrderNumber,
		Status:           domain.OrderStatus(r.Status),
		IsInferred:       r.IsInferred,
		ClosedByOperator: r.ClosedByOperator,
		Currency:         r.Currency,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if r.RetailerID.Valid {
		order.RetailerID = &r.RetailerID.Int64
	}
	if r.SubtotalCents.Valid {
		order.SubtotalCents = &r.SubtotalCents.Int64
	}
	if r.ShippingCents.Valid {
		order.ShippingCents = &r.ShippingCents.Int64
	}
	if r.TaxCents.Valid {
		order.TaxCents = &r.TaxCents.Int64
	}
	if r.TotalCents.Valid {
		order.TotalCents = &r.TotalCents.Int64
	}
	if r.OrderedAt.Valid {
		order.OrderedAt = &r.OrderedAt.Time
	}

	return order
}

type orderLineRow struct {
	ID             int64          `db:"id"`
	OrderID        int64          `db:"order_id"`
	LineNumber     sql.NullInt64  `db:"line_number"`
	ProductName    string         `db:"product_name"`
	SKU            sql.NullString `db:"sku"`
	Quantity       int            `db:"quantity"`
	UnitPriceCents int64          `db:"unit_price_cents"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *orderLineRow) toEntity() *domain.OrderLine {
	line := &domain.OrderLine{
		ID:             r.ID,
		OrderID:        r.OrderID,
		ProductName:    r.ProductName,
		Quantity:       r.Quantity,
		UnitPriceCents: r.UnitPriceCents,
		Status:         domain.LineStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}

	if r.LineNumber.Valid {
		n := int(r.LineNumber.Int64)
		line.LineNumber = &n
	}
	if r.SKU.Valid {
		line.SKU = &r.SKU.String
	}

	return line
}

type orderEventRow struct {
	ID               int64         `db:"id"`
	OrderID          int64         `db:"order_id"`
	InboundMessageID sql.NullInt64 `db:"inbound_message_id"`
	EventType        string        `db:"event_type"`
	Description      string        `db:"description"`
	CreatedAt        time.Time     `db:"created_at"`
}

func (r *orderEventRow) toEntity() *domain.OrderEvent {
	event := &domain.OrderEvent{
		ID:          r.ID,
		OrderID:     r.OrderID,
		EventType:   r.EventType,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
	if r.InboundMessageID.Valid {
		event.InboundMessageID = &r.InboundMessageID.Int64
	}
	return event
}
