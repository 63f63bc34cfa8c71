package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/core/service/status"
	"ordersight/pkg/apperr"
)

// parseAndMerge dispatches to the family parser, then merges the typed
// result into the order graph inside one transaction. Absence of data and
// low parser confidence route to manual review; only infrastructure and
// structural faults return an error.
func (o *Orchestrator) parseAndMerge(ctx context.Context, msg *domain.InboundMessage, in *out.ExtractInput, log zerolog.Logger) error {
	if msg.MessageType == nil {
		return o.fail(ctx, msg, apperr.Structural("message reached parsing without a classification", nil))
	}

	var (
		family = msg.MessageType.Family()
		merge  func(r *out.Repositories) error
		conf   float64
		review bool
	)

	switch family {
	case domain.FamilyOrder:
		res, err := o.extractor.ParseOrder(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeOrder(ctx, r, msg, res.Data) }
		}
	case domain.FamilyShipment:
		res, err := o.extractor.ParseShipment(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeShipment(ctx, r, msg, res.Data) }
		}
	case domain.FamilyDelivery:
		res, err := o.extractor.ParseDelivery(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeDelivery(ctx, r, msg, res.Data) }
		}
	case domain.FamilyReturn:
		res, err := o.extractor.ParseReturn(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeReturn(ctx, r, msg, res.Data) }
		}
	case domain.FamilyRefund:
		res, err := o.extractor.ParseRefund(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeRefund(ctx, r, msg, res.Data) }
		}
	case domain.FamilyCancellation:
		res, err := o.extractor.ParseCancellation(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergeCancellation(ctx, r, msg, res.Data) }
		}
	case domain.FamilyPayment:
		res, err := o.extractor.ParsePayment(ctx, in)
		if err != nil {
			return o.fail(ctx, msg, apperr.Transient("extractor", err))
		}
		conf, review = res.Confidence, res.NeedsReview || res.Data == nil
		if !review {
			merge = func(r *out.Repositories) error { return o.mergePayment(ctx, r, msg, res.Data) }
		}
	default:
		// Non-parsed types end here; classification should have dismissed them.
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageParsing, domain.MessageManualReview); err != nil {
			return apperr.Transient("postgres", err)
		}
		msg.Status = domain.MessageManualReview
		o.auditStep(ctx, msg, domain.StepParse, domain.AuditSkipped, fmt.Sprintf("no parser for type %s", *msg.MessageType), nil)
		return nil
	}

	if !review && conf < o.policy.ParseConfidenceThreshold {
		review = true
	}
	if review {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageParsing, domain.MessageManualReview); err != nil {
			return apperr.Transient("postgres", err)
		}
		msg.Status = domain.MessageManualReview
		o.auditStep(ctx, msg, domain.StepParse, domain.AuditSuccess,
			fmt.Sprintf("family=%s needs review", family), &conf)
		log.Info().Str("family", string(family)).Float64("confidence", conf).Msg("parse routed to manual review")
		return nil
	}

	o.auditStep(ctx, msg, domain.StepParse, domain.AuditSuccess, fmt.Sprintf("family=%s", family), &conf)

	if err := o.mergeWithRetry(ctx, msg, merge); err != nil {
		return o.fail(ctx, msg, err)
	}
	return nil
}

// mergeWithRetry runs the merge transaction, retrying on optimistic
// version conflicts up to the policy ceiling. Each attempt re-reads every
// entity inside a fresh transaction.
func (o *Orchestrator) mergeWithRetry(ctx context.Context, msg *domain.InboundMessage, merge func(r *out.Repositories) error) error {
	var err error
	for attempt := 1; attempt <= o.policy.MergeMaxAttempts; attempt++ {
		err = o.uow.InTx(ctx, merge)
		if err == nil {
			return nil
		}
		if !apperr.IsConflict(err) {
			return err
		}
		o.log.Warn().Int64("message_id", msg.ID).Int("attempt", attempt).Msg("merge version conflict, retrying")
	}
	return apperr.Structural(fmt.Sprintf("merge conflict persisted past %d attempts", o.policy.MergeMaxAttempts), err)
}

// =============================================================================
// Family merges
// =============================================================================

// mergeOrder creates or enriches the order for an order confirmation or
// modification. Enriching a stub clears the inferred flag and reconciles
// any orphaned shipment/return payloads against the now-known lines.
func (o *Orchestrator) mergeOrder(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.OrderData) error {
	if data.OrderNumber == "" {
		return apperr.Structural("order data without an order number", nil)
	}

	order, err := r.Orders.GetByNumber(ctx, msg.TenantID, data.OrderNumber)
	switch {
	case err == nil:
		order.Currency = coalesce(data.Currency, order.Currency)
		order.SubtotalCents = coalescePtr(data.SubtotalCents, order.SubtotalCents)
		order.ShippingCents = coalescePtr(data.ShippingCents, order.ShippingCents)
		order.TaxCents = coalescePtr(data.TaxCents, order.TaxCents)
		order.TotalCents = coalescePtr(data.TotalCents, order.TotalCents)
		if data.OrderedAt != nil {
			order.OrderedAt = data.OrderedAt
		}
		if msg.RetailerID != nil && order.RetailerID == nil {
			order.RetailerID = msg.RetailerID
		}
		order.IsInferred = false
		if err := r.Orders.Update(ctx, order); err != nil {
			return err
		}
	case apperr.IsCode(err, apperr.CodeNotFound):
		order = &domain.Order{
			TenantID:      msg.TenantID,
			RetailerID:    msg.RetailerID,
			OrderNumber:   data.OrderNumber,
			Status:        domain.OrderPlaced,
			Currency:      data.Currency,
			SubtotalCents: data.SubtotalCents,
			ShippingCents: data.ShippingCents,
			TaxCents:      data.TaxCents,
			TotalCents:    data.TotalCents,
			OrderedAt:     data.OrderedAt,
		}
		if err := r.Orders.Create(ctx, order); err != nil {
			return err
		}
	default:
		return err
	}

	lines, err := r.Orders.Lines(ctx, order.ID)
	if err != nil {
		return err
	}
	for i := range data.Items {
		line, err := o.upsertLine(ctx, r, order, lines, &data.Items[i])
		if err != nil {
			return err
		}
		if !containsLineID(lines, line.ID) {
			lines = append(lines, line)
		}
	}

	if err := o.reconcileOrphans(ctx, r, order); err != nil {
		return err
	}

	return o.finishMerge(ctx, r, msg, order, "order_merged",
		fmt.Sprintf("order %s merged, %d items", order.OrderNumber, len(data.Items)))
}

// mergeShipment attaches a shipment to its order, creating an inferred stub
// order when the confirmation has not arrived yet. Tracking number is the
// dedup guard; a redelivered message updates rather than duplicates.
func (o *Orchestrator) mergeShipment(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.ShipmentData) error {
	if data.TrackingNumber == "" {
		return apperr.Structural("shipment data without a tracking number", nil)
	}

	sh, err := r.Shipments.GetByTracking(ctx, msg.TenantID, data.TrackingNumber)
	switch {
	case err == nil:
		// Status moves forward only; a late-arriving earlier update is a no-op.
		if data.Status.Rank() > sh.Status.Rank() {
			sh.Status = data.Status
		}
		if data.Carrier != nil {
			sh.Carrier = data.Carrier
		}
		if data.ShippedAt != nil {
			sh.ShippedAt = data.ShippedAt
		}
		if err := r.Shipments.Update(ctx, sh); err != nil {
			return err
		}
	case apperr.IsCode(err, apperr.CodeNotFound):
		order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
		if err != nil {
			return err
		}
		sh = &domain.Shipment{
			TenantID:       msg.TenantID,
			OrderID:        order.ID,
			Carrier:        data.Carrier,
			TrackingNumber: data.TrackingNumber,
			Status:         data.Status,
			ShippedAt:      data.ShippedAt,
		}
		if sh.Status == "" {
			sh.Status = domain.ShipmentShipped
		}
		if err := r.Shipments.Create(ctx, sh); err != nil {
			return err
		}
		if err := o.attachShipmentItems(ctx, r, sh, data.Items); err != nil {
			return err
		}
	default:
		return err
	}

	order, err := r.Orders.GetByID(ctx, msg.TenantID, sh.OrderID)
	if err != nil {
		return err
	}
	if err := o.advanceShippedLines(ctx, r, sh); err != nil {
		return err
	}

	return o.finishMerge(ctx, r, msg, order, "shipment_merged",
		fmt.Sprintf("shipment %s status %s", sh.TrackingNumber, sh.Status))
}

// mergeDelivery upserts the delivery record for a shipment. An unknown
// tracking number with a known order number still creates the stub chain;
// with neither the message is structurally unmergeable.
func (o *Orchestrator) mergeDelivery(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.DeliveryData) error {
	if data.TrackingNumber == "" {
		return apperr.Structural("delivery data without a tracking number", nil)
	}

	sh, err := r.Shipments.GetByTracking(ctx, msg.TenantID, data.TrackingNumber)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		if data.OrderNumber == "" {
			return apperr.Structural(fmt.Sprintf("delivery references unknown tracking %s and no order number", data.TrackingNumber), nil)
		}
		order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
		if err != nil {
			return err
		}
		sh = &domain.Shipment{
			TenantID:       msg.TenantID,
			OrderID:        order.ID,
			TrackingNumber: data.TrackingNumber,
			Status:         domain.ShipmentInTransit,
		}
		if err := r.Shipments.Create(ctx, sh); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	delivery := &domain.Delivery{
		ShipmentID:  sh.ID,
		Status:      domain.DeliveryCompleted,
		DeliveredAt: data.DeliveredAt,
		Issue:       data.Issue,
	}
	if !data.Delivered {
		delivery.Status = domain.DeliveryFailed
	}
	if err := r.Shipments.UpsertDelivery(ctx, delivery); err != nil {
		return err
	}

	if data.Delivered {
		if sh.Status.Rank() < domain.ShipmentDelivered.Rank() {
			sh.Status = domain.ShipmentDelivered
			if err := r.Shipments.Update(ctx, sh); err != nil {
				return err
			}
		}
		if err := o.advanceDeliveredLines(ctx, r, sh); err != nil {
			return err
		}
	}

	order, err := r.Orders.GetByID(ctx, msg.TenantID, sh.OrderID)
	if err != nil {
		return err
	}
	detail := fmt.Sprintf("delivery for %s recorded", sh.TrackingNumber)
	if data.Issue != nil {
		detail = fmt.Sprintf("delivery issue %s on %s", *data.Issue, sh.TrackingNumber)
	}
	return o.finishMerge(ctx, r, msg, order, "delivery_merged", detail)
}

// mergeReturn creates or advances a return. Dedup is by RMA number when
// the retailer issued one, else by (order, reason).
func (o *Orchestrator) mergeReturn(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.ReturnData) error {
	if data.OrderNumber == "" {
		return apperr.Structural("return data without an order number", nil)
	}

	order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
	if err != nil {
		return err
	}

	ret, err := o.findReturn(ctx, r, msg, order, data)
	if err != nil {
		return err
	}

	if ret == nil {
		ret = &domain.Return{
			TenantID:  msg.TenantID,
			OrderID:   order.ID,
			RMANumber: data.RMANumber,
			Reason:    data.Reason,
			Status:    data.Status,
			ReturnBy:  data.ReturnBy,
		}
		if ret.Status == "" {
			ret.Status = domain.ReturnInitiated
		}
		if err := r.Returns.Create(ctx, ret); err != nil {
			return err
		}
		if err := o.attachReturnItems(ctx, r, ret, data.Items); err != nil {
			return err
		}
	} else {
		if returnRank(data.Status) > returnRank(ret.Status) {
			ret.Status = data.Status
		}
		if data.RMANumber != nil && ret.RMANumber == nil {
			ret.RMANumber = data.RMANumber
		}
		if data.ReturnBy != nil {
			ret.ReturnBy = data.ReturnBy
		}
		if err := r.Returns.Update(ctx, ret); err != nil {
			return err
		}
	}

	if err := o.advanceReturnedLines(ctx, r, ret); err != nil {
		return err
	}

	return o.finishMerge(ctx, r, msg, order, "return_merged",
		fmt.Sprintf("return for order %s status %s", order.OrderNumber, ret.Status))
}

// findReturn locates an existing return by its natural key, or nil.
func (o *Orchestrator) findReturn(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, order *domain.Order, data *out.ReturnData) (*domain.Return, error) {
	if data.RMANumber != nil && *data.RMANumber != "" {
		ret, err := r.Returns.GetByRMA(ctx, msg.TenantID, *data.RMANumber)
		if err == nil {
			if ret.OrderID != order.ID {
				return nil, apperr.Duplicate("return", *data.RMANumber)
			}
			return ret, nil
		}
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
	}
	if data.Reason != nil && *data.Reason != "" {
		ret, err := r.Returns.GetByOrderAndReason(ctx, order.ID, *data.Reason)
		if err == nil {
			return ret, nil
		}
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// mergeRefund records a refund once per causing message and completes the
// linked return when one exists.
func (o *Orchestrator) mergeRefund(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.RefundData) error {
	if data.OrderNumber == "" {
		return apperr.Structural("refund data without an order number", nil)
	}

	order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
	if err != nil {
		return err
	}

	existing, err := r.Returns.GetRefundByMessage(ctx, order.ID, msg.ID)
	if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
		return err
	}
	if existing != nil {
		return o.finishMerge(ctx, r, msg, order, "refund_merged", "refund already recorded for this message")
	}

	refund := &domain.Refund{
		TenantID:         msg.TenantID,
		OrderID:          order.ID,
		AmountCents:      data.AmountCents,
		Method:           data.Method,
		InboundMessageID: &msg.ID,
		RefundedAt:       data.RefundedAt,
	}

	if data.RMANumber != nil && *data.RMANumber != "" {
		ret, err := r.Returns.GetByRMA(ctx, msg.TenantID, *data.RMANumber)
		if err == nil && ret.OrderID == order.ID {
			refund.ReturnID = &ret.ID
			if ret.Status != domain.ReturnCompleted {
				ret.Status = domain.ReturnCompleted
				if err := r.Returns.Update(ctx, ret); err != nil {
					return err
				}
			}
			if err := o.refundReturnedLines(ctx, r, ret); err != nil {
				return err
			}
		} else if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
			return err
		}
	}

	if err := r.Returns.CreateRefund(ctx, refund); err != nil {
		return err
	}

	return o.finishMerge(ctx, r, msg, order, "refund_merged",
		fmt.Sprintf("refund of %d cents on order %s", data.AmountCents, order.OrderNumber))
}

// mergeCancellation cancels the named items, or every line when the
// cancellation covers the whole order.
func (o *Orchestrator) mergeCancellation(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.CancellationData) error {
	if data.OrderNumber == "" {
		return apperr.Structural("cancellation data without an order number", nil)
	}

	order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
	if err != nil {
		return err
	}
	lines, err := r.Orders.Lines(ctx, order.ID)
	if err != nil {
		return err
	}

	if len(data.Items) == 0 {
		for _, l := range lines {
			if l.Status == domain.LineCancelled {
				continue
			}
			l.Status = domain.LineCancelled
			if err := r.Orders.UpdateLine(ctx, l); err != nil {
				return err
			}
		}
	} else {
		for i := range data.Items {
			line := matchLine(&data.Items[i], lines)
			if line == nil {
				o.log.Warn().Int64("order_id", order.ID).Str("product", data.Items[i].ProductName).Msg("cancellation item matched no line")
				continue
			}
			if line.Status != domain.LineCancelled {
				line.Status = domain.LineCancelled
				if err := r.Orders.UpdateLine(ctx, line); err != nil {
					return err
				}
			}
		}
	}

	return o.finishMerge(ctx, r, msg, order, "cancellation_merged",
		fmt.Sprintf("cancellation on order %s, %d items", order.OrderNumber, len(data.Items)))
}

// mergePayment records a payment confirmation on the order timeline and
// fills the total when the confirmation carries one the order lacks.
func (o *Orchestrator) mergePayment(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, data *out.PaymentData) error {
	if data.OrderNumber == "" {
		return apperr.Structural("payment data without an order number", nil)
	}

	order, err := o.findOrCreateOrder(ctx, r, msg, data.OrderNumber)
	if err != nil {
		return err
	}
	if data.AmountCents != nil && order.TotalCents == nil {
		order.TotalCents = data.AmountCents
		if err := r.Orders.Update(ctx, order); err != nil {
			return err
		}
	}

	detail := fmt.Sprintf("payment confirmed on order %s", order.OrderNumber)
	if data.AmountCents != nil {
		detail = fmt.Sprintf("payment of %d cents confirmed on order %s", *data.AmountCents, order.OrderNumber)
	}
	return o.finishMerge(ctx, r, msg, order, "payment_merged", detail)
}

// =============================================================================
// Shared merge helpers
// =============================================================================

// findOrCreateOrder locates the order by natural key, creating an inferred
// stub when no confirmation message has arrived yet.
func (o *Orchestrator) findOrCreateOrder(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, orderNumber string) (*domain.Order, error) {
	if orderNumber == "" {
		return nil, apperr.Structural("message references no order number", nil)
	}
	order, err := r.Orders.GetByNumber(ctx, msg.TenantID, orderNumber)
	if err == nil {
		return order, nil
	}
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, err
	}

	order = &domain.Order{
		TenantID:    msg.TenantID,
		RetailerID:  msg.RetailerID,
		OrderNumber: orderNumber,
		Status:      domain.OrderInferred,
		IsInferred:  true,
	}
	if err := r.Orders.Create(ctx, order); err != nil {
		return nil, err
	}
	o.log.Info().Stringer("tenant_id", msg.TenantID).Str("order_number", orderNumber).Msg("inferred stub order created")
	return order, nil
}

// upsertLine finds the order line by (line number) falling back to
// (product name) and creates it when absent.
func (o *Orchestrator) upsertLine(ctx context.Context, r *out.Repositories, order *domain.Order, lines []*domain.OrderLine, item *out.ItemRef) (*domain.OrderLine, error) {
	line := matchLine(item, lines)
	if line != nil {
		changed := false
		if item.Quantity > 0 && line.Quantity != item.Quantity {
			line.Quantity = item.Quantity
			changed = true
		}
		if item.UnitPriceCents != nil && line.UnitPriceCents != *item.UnitPriceCents {
			line.UnitPriceCents = *item.UnitPriceCents
			changed = true
		}
		if item.SKU != nil && line.SKU == nil {
			line.SKU = item.SKU
			changed = true
		}
		if changed {
			if err := r.Orders.UpdateLine(ctx, line); err != nil {
				return nil, err
			}
		}
		return line, nil
	}

	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	line = &domain.OrderLine{
		OrderID:     order.ID,
		LineNumber:  item.LineNumber,
		ProductName: item.ProductName,
		SKU:         item.SKU,
		Quantity:    qty,
		Status:      domain.LineOrdered,
	}
	if item.UnitPriceCents != nil {
		line.UnitPriceCents = *item.UnitPriceCents
	}
	if err := r.Orders.CreateLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// advanceShippedLines moves order lines referenced by the shipment's line
// joins into the shipped state, never regressing a later state.
func (o *Orchestrator) advanceShippedLines(ctx context.Context, r *out.Repositories, sh *domain.Shipment) error {
	return o.advanceLinesVia(ctx, r, sh, domain.LineShipped, []domain.LineStatus{domain.LineOrdered})
}

// advanceDeliveredLines moves the shipment's lines into the delivered state.
func (o *Orchestrator) advanceDeliveredLines(ctx context.Context, r *out.Repositories, sh *domain.Shipment) error {
	return o.advanceLinesVia(ctx, r, sh, domain.LineDelivered, []domain.LineStatus{domain.LineOrdered, domain.LineShipped})
}

func (o *Orchestrator) advanceLinesVia(ctx context.Context, r *out.Repositories, sh *domain.Shipment, to domain.LineStatus, from []domain.LineStatus) error {
	joins, err := r.Shipments.Lines(ctx, sh.ID)
	if err != nil {
		return err
	}
	if len(joins) == 0 {
		return nil
	}
	lines, err := r.Orders.Lines(ctx, sh.OrderID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.OrderLine, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}
	for _, j := range joins {
		l := byID[j.OrderLineID]
		if l == nil {
			continue
		}
		for _, f := range from {
			if l.Status == f {
				l.Status = to
				if err := r.Orders.UpdateLine(ctx, l); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// advanceReturnedLines moves lines joined to the return into the state the
// return's lifecycle implies.
func (o *Orchestrator) advanceReturnedLines(ctx context.Context, r *out.Repositories, ret *domain.Return) error {
	target := domain.LineReturnInitiated
	if ret.Status == domain.ReturnReceived || ret.Status == domain.ReturnCompleted {
		target = domain.LineReturned
	}
	joins, err := r.Returns.Lines(ctx, ret.ID)
	if err != nil {
		return err
	}
	if len(joins) == 0 {
		return nil
	}
	lines, err := r.Orders.Lines(ctx, ret.OrderID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.OrderLine, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}
	for _, j := range joins {
		l := byID[j.OrderLineID]
		if l == nil {
			continue
		}
		if lineRank(l.Status) < lineRank(target) {
			l.Status = target
			if err := r.Orders.UpdateLine(ctx, l); err != nil {
				return err
			}
		}
	}
	return nil
}

// refundReturnedLines marks a completed return's lines refunded.
func (o *Orchestrator) refundReturnedLines(ctx context.Context, r *out.Repositories, ret *domain.Return) error {
	joins, err := r.Returns.Lines(ctx, ret.ID)
	if err != nil {
		return err
	}
	if len(joins) == 0 {
		return nil
	}
	lines, err := r.Orders.Lines(ctx, ret.OrderID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.OrderLine, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}
	for _, j := range joins {
		l := byID[j.OrderLineID]
		if l == nil || l.Status == domain.LineRefunded {
			continue
		}
		l.Status = domain.LineRefunded
		if err := r.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// finishMerge recomputes the order status from the full child graph,
// persists it when changed, and appends the timeline event plus the merge
// and recompute audit entries, all inside the same transaction.
func (o *Orchestrator) finishMerge(ctx context.Context, r *out.Repositories, msg *domain.InboundMessage, order *domain.Order, eventType, detail string) error {
	snap, err := loadSnapshot(ctx, r, order)
	if err != nil {
		return err
	}
	newStatus := status.Recompute(snap)
	if newStatus != order.Status {
		if err := r.Orders.UpdateStatus(ctx, order, newStatus); err != nil {
			return err
		}
	}

	event := &domain.OrderEvent{
		OrderID:          order.ID,
		InboundMessageID: &msg.ID,
		EventType:        eventType,
		Description:      detail,
	}
	if err := r.Orders.AppendEvent(ctx, event); err != nil {
		return err
	}

	refs := []string{fmt.Sprintf("order:%d", order.ID)}
	if err := r.Audit.Append(ctx, &domain.AuditEntry{
		TenantID:         msg.TenantID,
		InboundMessageID: msg.ID,
		Step:             domain.StepMerge,
		Outcome:          domain.AuditSuccess,
		Detail:           detail,
		EntityRefs:       refs,
	}); err != nil {
		return err
	}
	return r.Audit.Append(ctx, &domain.AuditEntry{
		TenantID:         msg.TenantID,
		InboundMessageID: msg.ID,
		Step:             domain.StepRecompute,
		Outcome:          domain.AuditSuccess,
		Detail:           fmt.Sprintf("order %s status %s", order.OrderNumber, newStatus),
		EntityRefs:       refs,
	})
}

// loadSnapshot reads the order's full child graph for the aggregator.
func loadSnapshot(ctx context.Context, r *out.Repositories, order *domain.Order) (*status.Snapshot, error) {
	lines, err := r.Orders.Lines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	shipments, err := r.Shipments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	var shipmentLines []*domain.ShipmentLine
	for _, sh := range shipments {
		joins, err := r.Shipments.Lines(ctx, sh.ID)
		if err != nil {
			return nil, err
		}
		shipmentLines = append(shipmentLines, joins...)
	}
	deliveries, err := r.Shipments.ListDeliveriesByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	returns, err := r.Returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	refunds, err := r.Returns.ListRefundsByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &status.Snapshot{
		Order:         order,
		Lines:         lines,
		Shipments:     shipments,
		ShipmentLines: shipmentLines,
		Deliveries:    deliveries,
		Returns:       returns,
		Refunds:       refunds,
	}, nil
}

// =============================================================================
// Small helpers
// =============================================================================

func containsLineID(lines []*domain.OrderLine, id int64) bool {
	for _, l := range lines {
		if l.ID == id {
			return true
		}
	}
	return false
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func coalescePtr(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

func returnRank(s domain.ReturnStatus) int {
	switch s {
	case domain.ReturnInitiated:
		return 1
	case domain.ReturnLabelIssued:
		return 2
	case domain.ReturnInTransit:
		return 3
	case domain.ReturnReceived:
		return 4
	case domain.ReturnRejected, domain.ReturnCompleted:
		return 5
	default:
		return 0
	}
}

func lineRank(s domain.LineStatus) int {
	switch s {
	case domain.LineOrdered:
		return 1
	case domain.LineShipped:
		return 2
	case domain.LineDelivered:
		return 3
	case domain.LineReturnInitiated:
		return 4
	case domain.LineReturned:
		return 5
	case domain.LineRefunded:
		return 6
	default:
		return 0
	}
}
