// Package status derives an order's overall status from its children.
// Recompute is a pure function over a snapshot; the same snapshot always
// yields the same status, and nothing is read incrementally.
package status

import (
	"ordersight/core/domain"
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the full current state of one order's graph.
type Snapshot struct {
	Order         *domain.Order
	Lines         []*domain.OrderLine
	Shipments     []*domain.Shipment
	ShipmentLines []*domain.ShipmentLine
	Deliveries    []*domain.Delivery
	Returns       []*domain.Return
	Refunds       []*domain.Refund
}

// =============================================================================
// Recompute
// =============================================================================

// Recompute derives the order status. Rules are evaluated top to bottom,
// first match wins:
//
//  1. cancellation (full, then partial)
//  2. open delivery issue
//  3. fully delivered (refunded / operator-closed variants)
//  4. return activity
//  5. partial delivery
//  6. shipment progress, most advanced shipment across the order
//  7. placed, or inferred for an unenriched stub
func Recompute(s *Snapshot) domain.OrderStatus {
	counts := countLines(s.Lines)

	// Rule 1: cancellation outranks everything else.
	if counts.total > 0 && counts.cancelled == counts.total {
		return domain.OrderCancelled
	}
	if counts.cancelled > 0 {
		return domain.OrderPartiallyCancelled
	}

	// Rule 2: open delivery issue.
	for _, d := range s.Deliveries {
		if d.HasOpenIssue() {
			return domain.OrderDeliveryException
		}
	}

	// Rule 3: every line in a terminal delivered-or-later state.
	if counts.total > 0 && counts.refunded == counts.total {
		if s.Order != nil && s.Order.ClosedByOperator {
			return domain.OrderClosed
		}
		return domain.OrderRefunded
	}
	if counts.total > 0 && counts.delivered == counts.total {
		if s.Order != nil && s.Order.ClosedByOperator {
			return domain.OrderClosed
		}
		return domain.OrderDelivered
	}

	// Rule 4: active return activity. Received outranks in-progress.
	activeReturn := domain.ReturnStatus("")
	for _, r := range s.Returns {
		switch {
		case r.Status == domain.ReturnReceived:
			activeReturn = domain.ReturnReceived
		case r.Status.InProgress() && activeReturn != domain.ReturnReceived:
			activeReturn = r.Status
		}
	}
	switch {
	case activeReturn == domain.ReturnReceived:
		return domain.OrderReturnReceived
	case activeReturn != "":
		return domain.OrderReturnInProgress
	}

	// Rule 5: partial delivery.
	if counts.deliveredOrLater > 0 && counts.deliveredOrLater < counts.total {
		return domain.OrderPartiallyDelivered
	}

	// Rule 6: shipment progress.
	if st, ok := shipmentProgress(s); ok {
		return st
	}

	// Rule 7: default.
	if s.Order != nil && s.Order.IsInferred && counts.total == 0 {
		return domain.OrderInferred
	}
	return domain.OrderPlaced
}

// shipmentProgress maps the most advanced shipment state to an order-level
// status. A still partially-covered order downgrades Shipped to
// PartiallyShipped; in-transit and later states are not downgraded.
func shipmentProgress(s *Snapshot) (domain.OrderStatus, bool) {
	maxRank := 0
	for _, sh := range s.Shipments {
		if r := sh.Status.Rank(); r > maxRank {
			maxRank = r
		}
	}

	switch maxRank {
	case 3, 4:
		return domain.OrderOutForDelivery, true
	case 2:
		return domain.OrderInTransit, true
	case 1:
		if fullyShipped(s) {
			return domain.OrderShipped, true
		}
		return domain.OrderPartiallyShipped, true
	}
	return "", false
}

// fullyShipped reports whether every non-cancelled line's ordered quantity
// is covered by shipment line quantities.
func fullyShipped(s *Snapshot) bool {
	if len(s.Lines) == 0 {
		// A stub order with pending shipment items has unknown coverage.
		return true
	}

	shipped := make(map[int64]int, len(s.Lines))
	for _, sl := range s.ShipmentLines {
		shipped[sl.OrderLineID] += sl.Quantity
	}

	for _, l := range s.Lines {
		if l.Status == domain.LineCancelled {
			continue
		}
		if shipped[l.ID] < l.Quantity {
			return false
		}
	}
	return true
}

// =============================================================================
// Line counting
// =============================================================================

type lineCounts struct {
	total            int
	cancelled        int
	delivered        int // status exactly delivered
	deliveredOrLater int // delivered plus return/refund progressions
	refunded         int
}

func countLines(lines []*domain.OrderLine) lineCounts {
	var c lineCounts
	c.total = len(lines)
	for _, l := range lines {
		switch l.Status {
		case domain.LineCancelled:
			c.cancelled++
		case domain.LineDelivered:
			c.delivered++
			c.deliveredOrLater++
		case domain.LineReturnInitiated, domain.LineReturned:
			c.deliveredOrLater++
		case domain.LineRefunded:
			c.refunded++
			c.deliveredOrLater++
		}
	}
	return c
}
