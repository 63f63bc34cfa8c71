package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReturnStatus is the lifecycle state of a return.
type ReturnStatus string

const (
	ReturnInitiated   ReturnStatus = "initiated"
	ReturnLabelIssued ReturnStatus = "label_issued"
	ReturnInTransit   ReturnStatus = "in_transit"
	ReturnReceived    ReturnStatus = "received"
	ReturnRejected    ReturnStatus = "rejected"
	ReturnCompleted   ReturnStatus = "completed"
)

// InProgress reports whether the return is still moving toward the retailer.
func (s ReturnStatus) InProgress() bool {
	switch s {
	case ReturnInitiated, ReturnLabelIssued, ReturnInTransit:
		return true
	default:
		return false
	}
}

// Return belongs to one order. The RMA number is the dedup key; when the
// retailer issues none, (order, reason) stands in. PendingItems holds the
// parsed item payload awaiting reconciliation against known order lines.
type Return struct {
	ID           int64           `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	OrderID      int64           `json:"order_id"`
	RMANumber    *string         `json:"rma_number,omitempty"`
	Reason       *string         `json:"reason,omitempty"`
	Status       ReturnStatus    `json:"status"`
	ReturnBy     *time.Time      `json:"return_by,omitempty"`
	PendingItems json.RawMessage `json:"pending_items,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ReturnLine joins a return to an order line with the returned quantity.
type ReturnLine struct {
	ID          int64   `json:"id"`
	ReturnID    int64   `json:"return_id"`
	OrderLineID int64   `json:"order_line_id"`
	Quantity    int     `json:"quantity"`
	Reason      *string `json:"reason,omitempty"`
}

// Refund belongs to one order and optionally links to one return. The
// causing inbound message id is the dedup guard against redelivery.
type Refund struct {
	ID               int64      `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	OrderID          int64      `json:"order_id"`
	ReturnID         *int64     `json:"return_id,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	Method           *string    `json:"method,omitempty"`
	InboundMessageID *int64     `json:"inbound_message_id,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ReturnRepository persists returns, their line joins, and refunds.
type ReturnRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*Return, error)
	GetByRMA(ctx context.Context, tenantID uuid.UUID, rmaNumber string) (*Return, error)
	GetByOrderAndReason(ctx context.Context, orderID int64, reason string) (*Return, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*Return, error)
	Create(ctx context.Context, ret *Return) error
	Update(ctx context.Context, ret *Return) error

	Lines(ctx context.Context, returnID int64) ([]*ReturnLine, error)
	CreateLine(ctx context.Context, line *ReturnLine) error

	GetRefundByMessage(ctx context.Context, orderID int64, inboundMessageID int64) (*Refund, error)
	ListRefundsByOrder(ctx context.Context, orderID int64) ([]*Refund, error)
	CreateRefund(ctx context.Context, refund *Refund) error
}
