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

// ShipmentAdapter implements domain.ShipmentRepository.
type ShipmentAdapter struct {
	db sqlx.ExtContext
}

// NewShipmentAdapter creates a new ShipmentAdapter.
func NewShipmentAdapter(db sqlx.ExtContext) *ShipmentAdapter {
	return &ShipmentAdapter{db: db}
}

const shipmentColumns = `
	id, tenant_id, order_id, carrier, tracking_number, status,
	pending_items, shipped_at, created_at, updated_at`

func (r *ShipmentAdapter) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE tenant_id = $1 AND id = $2`

	var row shipmentRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("shipment")
		}
		return nil, wrapDBError("get shipment", err)
	}
	return row.toEntity(), nil
}

func (r *ShipmentAdapter) GetByTracking(ctx context.Context, tenantID uuid.UUID, trackingNumber string) (*domain.Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE tenant_id = $1 AND tracking_number = $2`

	var row shipmentRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, trackingNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("shipment")
		}
		return nil, wrapDBError("get shipment by tracking", err)
	}
	return row.toEntity(), nil
}

func (r *ShipmentAdapter) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE order_id = $1
		ORDER BY created_at, id`

	var rows []shipmentRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID); err != nil {
		return nil, wrapDBError("list shipments", err)
	}

	shipments := make([]*domain.Shipment, len(rows))
	for i := range rows {
		shipments[i] = rows[i].toEntity()
	}
	return shipments, nil
}

func (r *ShipmentAdapter) Create(ctx context.Context, shipment *domain.Shipment) error {
	if shipment.Status == "" {
		shipment.Status = domain.ShipmentShipped
	}
	now := time.Now()
	shipment.CreatedAt = now
	shipment.UpdatedAt = now

	query := `
		INSERT INTO shipments (
			tenant_id, order_id, carrier, tracking_number, status,
			pending_items, shipped_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		shipment.TenantID, shipment.OrderID, shipment.Carrier,
		shipment.TrackingNumber, shipment.Status, rawOrNil(shipment.PendingItems),
		shipment.ShippedAt, shipment.CreatedAt, shipment.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("create shipment", err)
	}
	shipment.ID = id
	return nil
}

func (r *ShipmentAdapter) Update(ctx context.Context, shipment *domain.Shipment) error {
	query := `
		UPDATE shipments SET
			order_id = $2, carrier = $3, status = $4, pending_items = $5,
			shipped_at = $6, updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		shipment.ID, shipment.OrderID, shipment.Carrier, shipment.Status,
		rawOrNil(shipment.PendingItems), shipment.ShippedAt,
	)
	if err != nil {
		return wrapDBError("update shipment", err)
	}
	return nil
}

// =============================================================================
// Shipment Lines
// =============================================================================

func (r *ShipmentAdapter) Lines(ctx context.Context, shipmentID int64) ([]*domain.ShipmentLine, error) {
	query := `
		SELECT id, shipment_id, order_line_id, quantity
		FROM shipment_lines
		WHERE shipment_id = $1
		ORDER BY id`

	var lines []*domain.ShipmentLine
	if err := sqlx.SelectContext(ctx, r.db, &lines, query, shipmentID); err != nil {
		return nil, wrapDBError("list shipment lines", err)
	}
	return lines, nil
}

func (r *ShipmentAdapter) CreateLine(ctx context.Context, line *domain.ShipmentLine) error {
	query := `
		INSERT INTO shipment_lines (shipment_id, order_line_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query, line.ShipmentID, line.OrderLineID, line.Quantity)
	if err != nil {
		return wrapDBError("create shipment line", err)
	}
	line.ID = id
	return nil
}

// =============================================================================
// Deliveries
// =============================================================================

func (r *ShipmentAdapter) GetDelivery(ctx context.Context, shipmentID int64) (*domain.Delivery, error) {
	query := `
		SELECT id, shipment_id, status, delivered_at, issue, issue_resolved,
		       created_at, updated_at
		FROM deliveries
		WHERE shipment_id = $1`

	var row deliveryRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, shipmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("delivery")
		}
		return nil, wrapDBError("get delivery", err)
	}
	return row.toEntity(), nil
}

// UpsertDelivery keys on the 1:1 shipment relation so a redelivered issue
// report updates the existing row instead of duplicating it.
func (r *ShipmentAdapter) UpsertDelivery(ctx context.Context, delivery *domain.Delivery) error {
	now := time.Now()
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = now
	}
	delivery.UpdatedAt = now

	query := `
		INSERT INTO deliveries (shipment_id, status, delivered_at, issue, issue_resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (shipment_id) DO UPDATE SET
			status = EXCLUDED.status,
			delivered_at = EXCLUDED.delivered_at,
			issue = EXCLUDED.issue,
			issue_resolved = EXCLUDED.issue_resolved,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		delivery.ShipmentID, delivery.Status, delivery.DeliveredAt,
		delivery.Issue, delivery.IssueResolved, delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("upsert delivery", err)
	}
	delivery.ID = id
	return nil
}

func (r *ShipmentAdapter) ListDeliveriesByOrder(ctx context.Context, orderID int64) ([]*domain.Delivery, error) {
	query := `
		SELECT d.id, d.shipment_id, d.status, d.delivered_at, d.issue,
		       d.issue_resolved, d.created_at, d.updated_at
		FROM deliveries d
		JOIN shipments s ON s.id = d.shipment_id
		WHERE s.order_id = $1
		ORDER BY d.id`

	var rows []deliveryRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, orderID); err != nil {
		return nil, wrapDBError("list deliveries", err)
	}

	deliveries := make([]*domain.Delivery, len(rows))
	for i := range rows {
		deliveries[i] = rows[i].toEntity()
	}
	return deliveries, nil
}

// rawOrNil keeps empty JSON payloads as SQL NULL rather than empty strings.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// =============================================================================
// Row Types
// =============================================================================

type shipmentRow struct {
	ID             int64          `db:"id"`
	TenantID       uuid.UUID      `db:"tenant_id"`
	OrderID        int64          `db:"order_id"`
	Carrier        sql.NullString `db:"carrier"`
	TrackingNumber string         `db:"tracking_number"`
	Status         string         `db:"status"`
	PendingItems   []byte         `db:"pending_items"`
	ShippedAt      sql.NullTime   `db:"shipped_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *shipmentRow) toEntity() *domain.Shipment {
	shipment := &domain.Shipment{
		ID:             r.ID,
		TenantID:       r.TenantID,
		OrderID:        r.OrderID,
		TrackingNumber: r.TrackingNumber,
		Status:         domain.ShipmentStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}

	if r.Carrier.Valid {
		shipment.Carrier = &r.Carrier.String
	}
	if len(r.PendingItems) > 0 {
		shipment.PendingItems = json.RawMessage(r.PendingItems)
	}
	if r.ShippedAt.Valid {
		shipment.ShippedAt = &r.ShippedAt.Time
	}

	return shipment
}

type deliveryRow struct {
	ID            int64          `db:"id"`
	ShipmentID    int64          `db:"shipment_id"`
	Status        string         `db:"status"`
	DeliveredAt   sql.NullTime   `db:"delivered_at"`
	Issue         sql.NullString `db:"issue"`
	IssueResolved bool           `db:"issue_resolved"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *deliveryRow) toEntity() *domain.Delivery {
	delivery := &domain.Delivery{
		ID:            r.ID,
		ShipmentID:    r.ShipmentID,
		Status:        domain.DeliveryStatus(r.Status),
		IssueResolved: r.IssueResolved,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}

	if r.DeliveredAt.Valid {
		delivery.DeliveredAt = &r.DeliveredAt.Time
	}
	if r.Issue.Valid {
		issue := domain.DeliveryIssue(r.Issue.String)
		delivery.Issue = &issue
	}

	return delivery
}
