package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is the carrier-reported state of a shipment.
type ShipmentStatus string

const (
	ShipmentPending        ShipmentStatus = "pending"
	ShipmentShipped        ShipmentStatus = "shipped"
	ShipmentInTransit      ShipmentStatus = "in_transit"
	ShipmentOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentDelivered      ShipmentStatus = "delivered"
	ShipmentException      ShipmentStatus = "exception"
)

// Rank orders shipment statuses by advancement, exception aside. The status
// aggregator picks the most advanced shipment across an order.
func (s ShipmentStatus) Rank() int {
	switch s {
	case ShipmentShipped:
		return 1
	case ShipmentInTransit:
		return 2
	case ShipmentOutForDelivery:
		return 3
	case ShipmentDelivered:
		return 4
	default:
		return 0
	}
}

// Shipment belongs to one order and is deduplicated per tenant by tracking
// number. PendingItems holds the parsed item payload of a shipment that
// arrived before its order confirmation; reconciliation converts it into
// ShipmentLine rows once the order's lines are known.
type Shipment struct {
	ID             int64           `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	OrderID        int64           `json:"order_id"`
	Carrier        *string         `json:"carrier,omitempty"`
	TrackingNumber string          `json:"tracking_number"`
	Status         ShipmentStatus  `json:"status"`
	PendingItems   json.RawMessage `json:"pending_items,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ShipmentLine joins a shipment to an order line with the quantity shipped,
// which may be less than the line's ordered quantity.
type ShipmentLine struct {
	ID          int64 `json:"id"`
	ShipmentID  int64 `json:"shipment_id"`
	OrderLineID int64 `json:"order_line_id"`
	Quantity    int   `json:"quantity"`
}

// DeliveryStatus is the terminal handoff state of a shipment.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryCompleted DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryIssue classifies a reported delivery problem.
type DeliveryIssue string

const (
	IssueDamaged     DeliveryIssue = "damaged"
	IssueMissing     DeliveryIssue = "missing"
	IssueWrongItem   DeliveryIssue = "wrong_item"
	IssueLate        DeliveryIssue = "late"
	IssueLostInTransit DeliveryIssue = "lost_in_transit"
)

// Delivery is 1:1 with a shipment.
type Delivery struct {
	ID            int64          `json:"id"`
	ShipmentID    int64          `json:"shipment_id"`
	Status        DeliveryStatus `json:"status"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	Issue         *DeliveryIssue `json:"issue,omitempty"`
	IssueResolved bool           `json:"issue_resolved"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasOpenIssue reports whether the delivery carries an unresolved issue.
func (d *Delivery) HasOpenIssue() bool {
	return d != nil && d.Issue != nil && !d.IssueResolved
}

// ShipmentRepository persists shipments, their line joins, and deliveries.
type ShipmentRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*Shipment, error)
	GetByTracking(ctx context.Context, tenantID uuid.UUID, trackingNumber string) (*Shipment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*Shipment, error)
	Create(ctx context.Context, shipment *Shipment) error
	Update(ctx context.Context, shipment *Shipment) error

	Lines(ctx context.Context, shipmentID int64) ([]*ShipmentLine, error)
	CreateLine(ctx context.Context, line *ShipmentLine) error

	GetDelivery(ctx context.Context, shipmentID int64) (*Delivery, error)
	UpsertDelivery(ctx context.Context, delivery *Delivery) error
	ListDeliveriesByOrder(ctx context.Context, orderID int64) ([]*Delivery, error)
}
