package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the derived overall state of an order. It is never mutated
// directly; the status aggregator recomputes it from the order's children
// after every merge.
type OrderStatus string

const (
	OrderInferred           OrderStatus = "inferred"
	OrderPlaced             OrderStatus = "placed"
	OrderPartiallyCancelled OrderStatus = "partially_cancelled"
	OrderCancelled          OrderStatus = "cancelled"
	OrderPartiallyShipped   OrderStatus = "partially_shipped"
	OrderShipped            OrderStatus = "shipped"
	OrderInTransit          OrderStatus = "in_transit"
	OrderOutForDelivery     OrderStatus = "out_for_delivery"
	OrderPartiallyDelivered OrderStatus = "partially_delivered"
	OrderDelivered          OrderStatus = "delivered"
	OrderDeliveryException  OrderStatus = "delivery_exception"
	OrderReturnInProgress   OrderStatus = "return_in_progress"
	OrderReturnReceived     OrderStatus = "return_received"
	OrderRefunded           OrderStatus = "refunded"
	OrderClosed             OrderStatus = "closed"
)

// LineStatus is the per-line lifecycle state.
type LineStatus string

const (
	LineOrdered         LineStatus = "ordered"
	LineCancelled       LineStatus = "cancelled"
	LineShipped         LineStatus = "shipped"
	LineDelivered       LineStatus = "delivered"
	LineReturnInitiated LineStatus = "return_initiated"
	LineReturned        LineStatus = "returned"
	LineRefunded        LineStatus = "refunded"
)

// Order is located by its natural key (tenant, order number). An order
// synthesized from a shipment/return/refund reference before any
// confirmation message carries IsInferred until enrichment.
type Order struct {
	ID          int64       `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	RetailerID  *int64      `json:"retailer_id,omitempty"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`
	IsInferred  bool        `json:"is_inferred"`

	// ClosedByOperator marks orders explicitly closed outside the pipeline.
	ClosedByOperator bool `json:"closed_by_operator"`

	Currency      string `json:"currency"`
	SubtotalCents *int64 `json:"subtotal_cents,omitempty"`
	ShippingCents *int64 `json:"shipping_cents,omitempty"`
	TaxCents      *int64 `json:"tax_cents,omitempty"`
	TotalCents    *int64 `json:"total_cents,omitempty"`

	// Version guards concurrent merges into the same order. Writes carry the
	// version they read; a mismatch fails the write and the merge retries.
	Version int `json:"version"`

	OrderedAt *time.Time `json:"ordered_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// OrderLine belongs to exactly one order. The natural key is (order, line
// number), falling back to (order, product name) when the retailer's email
// carries no line numbering.
type OrderLine struct {
	ID             int64      `json:"id"`
	OrderID        int64      `json:"order_id"`
	LineNumber     *int       `json:"line_number,omitempty"`
	ProductName    string     `json:"product_name"`
	SKU            *string    `json:"sku,omitempty"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Status         LineStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OrderEvent is an append-only timeline entry recording what changed on an
// order, why, and which inbound message caused it.
type OrderEvent struct {
	ID               int64     `json:"id"`
	OrderID          int64     `json:"order_id"`
	InboundMessageID *int64    `json:"inbound_message_id,omitempty"`
	EventType        string    `json:"event_type"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

// OrderRepository persists orders, their lines, and their event timeline.
type OrderRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*Order, error)
	GetByNumber(ctx context.Context, tenantID uuid.UUID, orderNumber string) (*Order, error)
	Create(ctx context.Context, order *Order) error

	// Update writes the order with an optimistic version check: the row is
	// only written if its stored version equals order.Version, and the
	// version is incremented. A mismatch returns a conflict error.
	Update(ctx context.Context, order *Order) error

	// UpdateStatus persists a recomputed status under the same version check.
	UpdateStatus(ctx context.Context, order *Order, status OrderStatus) error

	Lines(ctx context.Context, orderID int64) ([]*OrderLine, error)
	CreateLine(ctx context.Context, line *OrderLine) error
	UpdateLine(ctx context.Context, line *OrderLine) error

	AppendEvent(ctx context.Context, event *OrderEvent) error
	Events(ctx context.Context, orderID int64, limit, offset int) ([]*OrderEvent, error)
}
