// Package out defines outbound ports implemented by adapters.
package out

import (
	"context"
	"time"

	"ordersight/core/domain"
)

// ExtractInput is the normalized message handed to every extractor role.
// Body is already stripped and truncated by the normalizer; RetailerHint is
// the matched retailer's name, or empty when the sender is unresolved.
type ExtractInput struct {
	Subject      string
	Body         string
	Sender       string
	RetailerHint string
}

// ItemRef is one extracted line item reference. Parsers emit these for
// orders, shipments, and returns alike; quantities default to 1 when the
// email does not state one.
type ItemRef struct {
	LineNumber     *int    `json:"line_number,omitempty"`
	ProductName    string  `json:"product_name"`
	SKU            *string `json:"sku,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty"`
}

// OrderData is the typed extraction of an order confirmation/modification.
type OrderData struct {
	OrderNumber   string     `json:"order_number"`
	Items         []ItemRef  `json:"items"`
	Currency      string     `json:"currency,omitempty"`
	SubtotalCents *int64     `json:"subtotal_cents,omitempty"`
	ShippingCents *int64     `json:"shipping_cents,omitempty"`
	TaxCents      *int64     `json:"tax_cents,omitempty"`
	TotalCents    *int64     `json:"total_cents,omitempty"`
	OrderedAt     *time.Time `json:"ordered_at,omitempty"`
}

// ShipmentData is the typed extraction of a shipment confirmation/update.
type ShipmentData struct {
	OrderNumber    string                `json:"order_number"`
	TrackingNumber string                `json:"tracking_number"`
	Carrier        *string               `json:"carrier,omitempty"`
	Status         domain.ShipmentStatus `json:"status"`
	Items          []ItemRef             `json:"items,omitempty"`
	ShippedAt      *time.Time            `json:"shipped_at,omitempty"`
}

// DeliveryData is the typed extraction of a delivery confirmation or issue.
type DeliveryData struct {
	OrderNumber    string                `json:"order_number,omitempty"`
	TrackingNumber string                `json:"tracking_number"`
	Delivered      bool                  `json:"delivered"`
	DeliveredAt    *time.Time            `json:"delivered_at,omitempty"`
	Issue          *domain.DeliveryIssue `json:"issue,omitempty"`
}

// ReturnData is the typed extraction of a return-family message.
type ReturnData struct {
	OrderNumber string              `json:"order_number"`
	RMANumber   *string             `json:"rma_number,omitempty"`
	Reason      *string             `json:"reason,omitempty"`
	Status      domain.ReturnStatus `json:"status"`
	Items       []ItemRef           `json:"items,omitempty"`
	ReturnBy    *time.Time          `json:"return_by,omitempty"`
}

// RefundData is the typed extraction of a refund confirmation.
type RefundData struct {
	OrderNumber string     `json:"order_number"`
	RMANumber   *string    `json:"rma_number,omitempty"`
	AmountCents int64      `json:"amount_cents"`
	Method      *string    `json:"method,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// CancellationData is the typed extraction of an order cancellation. Empty
// Items means the whole order was cancelled.
type CancellationData struct {
	OrderNumber string    `json:"order_number"`
	Items       []ItemRef `json:"items,omitempty"`
	Reason      *string   `json:"reason,omitempty"`
}

// PaymentData is the typed extraction of a payment confirmation.
type PaymentData struct {
	OrderNumber string  `json:"order_number"`
	AmountCents *int64  `json:"amount_cents,omitempty"`
	Method      *string `json:"method,omitempty"`
}

// ParseOutcome carries a parser's result. Data is nil when the parser could
// not extract enough structure to act safely; that is a normal outcome, not
// an error, and NeedsReview is set alongside it.
type ParseOutcome[T any] struct {
	Data        *T
	Confidence  float64
	NeedsReview bool
}

// Extractor is the capability boundary to the external classification and
// parsing service: one method per classifier/parser role, so orchestration
// never depends on the concrete model. Implementations must not mutate
// state; errors mean the service itself failed, never "nothing extracted".
type Extractor interface {
	IsRelevant(ctx context.Context, in *ExtractInput) (bool, error)
	Classify(ctx context.Context, in *ExtractInput) (*domain.ClassificationResult, error)

	ParseOrder(ctx context.Context, in *ExtractInput) (*ParseOutcome[OrderData], error)
	ParseShipment(ctx context.Context, in *ExtractInput) (*ParseOutcome[ShipmentData], error)
	ParseDelivery(ctx context.Context, in *ExtractInput) (*ParseOutcome[DeliveryData], error)
	ParseReturn(ctx context.Context, in *ExtractInput) (*ParseOutcome[ReturnData], error)
	ParseRefund(ctx context.Context, in *ExtractInput) (*ParseOutcome[RefundData], error)
	ParseCancellation(ctx context.Context, in *ExtractInput) (*ParseOutcome[CancellationData], error)
	ParsePayment(ctx context.Context, in *ExtractInput) (*ParseOutcome[PaymentData], error)
}
