package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"ordersight/core/domain"
	"ordersight/core/port/out"
)

// =============================================================================
// Line matching
// =============================================================================

// matchLine finds the order line an extracted item refers to. Exact SKU
// wins, then explicit line number, then normalized product-name
// containment in either direction. No match returns nil.
func matchLine(item *out.ItemRef, lines []*domain.OrderLine) *domain.OrderLine {
	if item.SKU != nil && *item.SKU != "" {
		for _, l := range lines {
			if l.SKU != nil && strings.EqualFold(*l.SKU, *item.SKU) {
				return l
			}
		}
	}

	if item.LineNumber != nil {
		for _, l := range lines {
			if l.LineNumber != nil && *l.LineNumber == *item.LineNumber {
				return l
			}
		}
	}

	name := normalizeProduct(item.ProductName)
	if name == "" {
		return nil
	}
	for _, l := range lines {
		candidate := normalizeProduct(l.ProductName)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, name) || strings.Contains(name, candidate) {
			return l
		}
	}
	return nil
}

// normalizeProduct lowercases and collapses a product name to its
// alphanumeric tokens so punctuation and spacing differences between the
// retailer's emails do not break containment matching.
func normalizeProduct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// =============================================================================
// Quantity accounting
// =============================================================================

// shippedQuantities sums shipped quantity per order line across every
// shipment of the order.
func shippedQuantities(ctx context.Context, r *out.Repositories, orderID int64) (map[int64]int, error) {
	shipments, err := r.Shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int)
	for _, sh := range shipments {
		joins, err := r.Shipments.Lines(ctx, sh.ID)
		if err != nil {
			return nil, err
		}
		for _, j := range joins {
			totals[j.OrderLineID] += j.Quantity
		}
	}
	return totals, nil
}

// returnedQuantities sums returned quantity per order line across every
// return of the order.
func returnedQuantities(ctx context.Context, r *out.Repositories, orderID int64) (map[int64]int, error) {
	returns, err := r.Returns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int)
	for _, ret := range returns {
		joins, err := r.Returns.Lines(ctx, ret.ID)
		if err != nil {
			return nil, err
		}
		for _, j := range joins {
			totals[j.OrderLineID] += j.Quantity
		}
	}
	return totals, nil
}

func itemQty(item *out.ItemRef) int {
	if item.Quantity > 0 {
		return item.Quantity
	}
	return 1
}

// =============================================================================
// Attaching parsed items
// =============================================================================

// attachShipmentItems links extracted shipment items to known order lines.
// Shipped quantity per line is capped at the ordered quantity not yet
// covered by other shipments; items that match no line are stored as the
// shipment's pending payload for later reconciliation.
func (o *Orchestrator) attachShipmentItems(ctx context.Context, r *out.Repositories, sh *domain.Shipment, items []out.ItemRef) error {
	if len(items) == 0 {
		return nil
	}
	lines, err := r.Orders.Lines(ctx, sh.OrderID)
	if err != nil {
		return err
	}
	shipped, err := shippedQuantities(ctx, r, sh.OrderID)
	if err != nil {
		return err
	}

	var orphans []out.ItemRef
	for i := range items {
		item := &items[i]
		line := matchLine(item, lines)
		if line == nil {
			orphans = append(orphans, *item)
			continue
		}
		remaining := line.Quantity - shipped[line.ID]
		if remaining <= 0 {
			// Already fully covered; a duplicate or conflicting message.
			o.log.Warn().Int64("order_line_id", line.ID).Str("product", item.ProductName).Msg("shipment item exceeds ordered quantity, skipped")
			continue
		}
		qty := itemQty(item)
		if qty > remaining {
			qty = remaining
		}
		if err := r.Shipments.CreateLine(ctx, &domain.ShipmentLine{
			ShipmentID:  sh.ID,
			OrderLineID: line.ID,
			Quantity:    qty,
		}); err != nil {
			return err
		}
		shipped[line.ID] += qty
	}

	return o.storePendingShipmentItems(ctx, r, sh, orphans)
}

// attachReturnItems links extracted return items to order lines, capping
// returned quantity at what has actually shipped.
func (o *Orchestrator) attachReturnItems(ctx context.Context, r *out.Repositories, ret *domain.Return, items []out.ItemRef) error {
	if len(items) == 0 {
		return nil
	}
	lines, err := r.Orders.Lines(ctx, ret.OrderID)
	if err != nil {
		return err
	}
	shipped, err := shippedQuantities(ctx, r, ret.OrderID)
	if err != nil {
		return err
	}
	returned, err := returnedQuantities(ctx, r, ret.OrderID)
	if err != nil {
		return err
	}

	var orphans []out.ItemRef
	for i := range items {
		item := &items[i]
		line := matchLine(item, lines)
		if line == nil {
			orphans = append(orphans, *item)
			continue
		}
		remaining := shipped[line.ID] - returned[line.ID]
		if remaining <= 0 {
			// Nothing shipped to return against yet; keep the item pending so
			// a later shipment merge can link it.
			o.log.Warn().Int64("order_line_id", line.ID).Str("product", item.ProductName).Msg("return item exceeds shipped quantity, left pending")
			orphans = append(orphans, *item)
			continue
		}
		qty := itemQty(item)
		if qty > remaining {
			qty = remaining
		}
		if err := r.Returns.CreateLine(ctx, &domain.ReturnLine{
			ReturnID:    ret.ID,
			OrderLineID: line.ID,
			Quantity:    qty,
			Reason:      ret.Reason,
		}); err != nil {
			return err
		}
		returned[line.ID] += qty
	}

	return o.storePendingReturnItems(ctx, r, ret, orphans)
}

func (o *Orchestrator) storePendingShipmentItems(ctx context.Context, r *out.Repositories, sh *domain.Shipment, orphans []out.ItemRef) error {
	var payload json.RawMessage
	if len(orphans) > 0 {
		raw, err := json.Marshal(orphans)
		if err != nil {
			return err
		}
		payload = raw
		o.log.Info().Int64("shipment_id", sh.ID).Int("items", len(orphans)).Msg("shipment items left pending reconciliation")
	}
	if string(payload) == string(sh.PendingItems) {
		return nil
	}
	sh.PendingItems = payload
	return r.Shipments.Update(ctx, sh)
}

func (o *Orchestrator) storePendingReturnItems(ctx context.Context, r *out.Repositories, ret *domain.Return, orphans []out.ItemRef) error {
	var payload json.RawMessage
	if len(orphans) > 0 {
		raw, err := json.Marshal(orphans)
		if err != nil {
			return err
		}
		payload = raw
		o.log.Info().Int64("return_id", ret.ID).Int("items", len(orphans)).Msg("return items left pending reconciliation")
	}
	if string(payload) == string(ret.PendingItems) {
		return nil
	}
	ret.PendingItems = payload
	return r.Returns.Update(ctx, ret)
}

// =============================================================================
// Orphan reconciliation
// =============================================================================

// reconcileOrphans converts pending item payloads on the order's shipments
// and returns into proper line joins once the confirmed order lines exist.
// Items that still match nothing stay pending and are logged for review.
func (o *Orchestrator) reconcileOrphans(ctx context.Context, r *out.Repositories, order *domain.Order) error {
	shipments, err := r.Shipments.ListByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, sh := range shipments {
		if len(sh.PendingItems) == 0 {
			continue
		}
		var items []out.ItemRef
		if err := json.Unmarshal(sh.PendingItems, &items); err != nil {
			o.log.Error().Err(err).Int64("shipment_id", sh.ID).Msg("corrupt pending shipment payload, dropping")
			sh.PendingItems = nil
			if err := r.Shipments.Update(ctx, sh); err != nil {
				return err
			}
			continue
		}
		sh.PendingItems = nil
		if err := r.Shipments.Update(ctx, sh); err != nil {
			return err
		}
		if err := o.attachShipmentItems(ctx, r, sh, items); err != nil {
			return err
		}
		if err := o.advanceShippedLines(ctx, r, sh); err != nil {
			return err
		}
		if sh.Status == domain.ShipmentDelivered {
			if err := o.advanceDeliveredLines(ctx, r, sh); err != nil {
				return err
			}
		}
	}

	returns, err := r.Returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, ret := range returns {
		if len(ret.PendingItems) == 0 {
			continue
		}
		var items []out.ItemRef
		if err := json.Unmarshal(ret.PendingItems, &items); err != nil {
			o.log.Error().Err(err).Int64("return_id", ret.ID).Msg("corrupt pending return payload, dropping")
			ret.PendingItems = nil
			if err := r.Returns.Update(ctx, ret); err != nil {
				return err
			}
			continue
		}
		ret.PendingItems = nil
		if err := r.Returns.Update(ctx, ret); err != nil {
			return err
		}
		if err := o.attachReturnItems(ctx, r, ret, items); err != nil {
			return err
		}
		if err := o.advanceReturnedLines(ctx, r, ret); err != nil {
			return err
		}
	}

	return nil
}
