package pipeline

import (
	"context"

	"github.com/google/uuid"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/pkg/apperr"
)

// memStore backs the in-memory repositories the orchestrator tests run
// against. One instance serves both the autocommit view and the
// unit-of-work view; tests assert directly on its slices.
type memStore struct {
	messages      []*domain.InboundMessage
	orders        []*domain.Order
	lines         []*domain.OrderLine
	shipments     []*domain.Shipment
	shipmentLines []*domain.ShipmentLine
	deliveries    []*domain.Delivery
	returns       []*domain.Return
	returnLines   []*domain.ReturnLine
	refunds       []*domain.Refund
	audits        []*domain.AuditEntry
	events        []*domain.OrderEvent

	nextID int64
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) repos() *out.Repositories {
	return &out.Repositories{
		Messages:  &msgRepo{s},
		Orders:    &orderRepo{s},
		Shipments: &shipRepo{s},
		Returns:   &retRepo{s},
		Audit:     &auditRepo{s},
	}
}

// =============================================================================
// InboundMessageRepository
// =============================================================================

type msgRepo struct{ s *memStore }

func (r *msgRepo) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.InboundMessage, error) {
	for _, m := range r.s.messages {
		if m.ID == id && m.TenantID == tenantID {
			return m, nil
		}
	}
	return nil, apperr.NotFound("inbound message")
}

func (r *msgRepo) GetByProviderMessageID(ctx context.Context, tenantID uuid.UUID, providerID string) (*domain.InboundMessage, error) {
	for _, m := range r.s.messages {
		if m.TenantID == tenantID && m.ProviderMessageID == providerID {
			return m, nil
		}
	}
	return nil, apperr.NotFound("inbound message")
}

func (r *msgRepo) Create(ctx context.Context, msg *domain.InboundMessage) error {
	msg.ID = r.s.id()
	if msg.Status == "" {
		msg.Status = domain.MessagePending
	}
	r.s.messages = append(r.s.messages, msg)
	return nil
}

func (r *msgRepo) UpdateStatus(ctx context.Context, tenantID uuid.UUID, id int64, from, to domain.MessageStatus) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if m.Status != from || !from.CanTransition(to) {
		return apperr.InvalidState(string(m.Status), string(to))
	}
	m.Status = to
	return nil
}

func (r *msgRepo) SetClassification(ctx context.Context, tenantID uuid.UUID, id int64, t domain.MessageType, conf float64, secondary *domain.MessageType) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	m.MessageType = &t
	m.Confidence = &conf
	m.SecondaryType = secondary
	return nil
}

func (r *msgRepo) SetOriginalSender(ctx context.Context, tenantID uuid.UUID, id int64, sender string) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	m.OriginalSender = &sender
	return nil
}

func (r *msgRepo) SetRetailer(ctx context.Context, tenantID uuid.UUID, id int64, retailerID int64) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	m.RetailerID = &retailerID
	return nil
}

func (r *msgRepo) MarkFailed(ctx context.Context, tenantID uuid.UUID, id int64, detail string) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	m.Status = domain.MessageFailed
	m.RetryCount++
	m.ErrorDetail = &detail
	return nil
}

func (r *msgRepo) ResetForReprocessing(ctx context.Context, tenantID uuid.UUID, id int64, pinnedType *domain.MessageType) error {
	m, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !m.Status.CanReprocess() {
		return apperr.InvalidState(string(m.Status), string(domain.MessagePending))
	}
	m.Status = domain.MessagePending
	m.ErrorDetail = nil
	m.PinnedType = pinnedType
	return nil
}

func (r *msgRepo) ListByStatus(ctx context.Context, tenantID uuid.UUID, status domain.MessageStatus, limit, offset int) ([]*domain.InboundMessage, error) {
	var res []*domain.InboundMessage
	for _, m := range r.s.messages {
		if m.TenantID == tenantID && m.Status == status {
			res = append(res, m)
		}
	}
	return res, nil
}

// =============================================================================
// OrderRepository
// =============================================================================

type orderRepo struct{ s *memStore }

func (r *orderRepo) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Order, error) {
	for _, o := range r.s.orders {
		if o.ID == id && o.TenantID == tenantID {
			return o, nil
		}
	}
	return nil, apperr.NotFound("order")
}

func (r *orderRepo) GetByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.Order, error) {
	for _, o := range r.s.orders {
		if o.TenantID == tenantID && o.OrderNumber == number {
			return o, nil
		}
	}
	return nil, apperr.NotFound("order")
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	order.ID = r.s.id()
	order.Version = 1
	r.s.orders = append(r.s.orders, order)
	return nil
}

func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	for _, o := range r.s.orders {
		if o.ID == order.ID {
			if o.Version != order.Version {
				return apperr.Conflict("order")
			}
			*o = *order
			o.Version++
			order.Version = o.Version
			return nil
		}
	}
	return apperr.NotFound("order")
}

func (r *orderRepo) UpdateStatus(ctx context.Context, order *domain.Order, st domain.OrderStatus) error {
	order.Status = st
	return r.Update(ctx, order)
}

func (r *orderRepo) Lines(ctx context.Context, orderID int64) ([]*domain.OrderLine, error) {
	var res []*domain.OrderLine
	for _, l := range r.s.lines {
		if l.OrderID == orderID {
			res = append(res, l)
		}
	}
	return res, nil
}

func (r *orderRepo) CreateLine(ctx context.Context, line *domain.OrderLine) error {
	line.ID = r.s.id()
	if line.Status == "" {
		line.Status = domain.LineOrdered
	}
	r.s.lines = append(r.s.lines, line)
	return nil
}

func (r *orderRepo) UpdateLine(ctx context.Context, line *domain.OrderLine) error {
	for i, l := range r.s.lines {
		if l.ID == line.ID {
			r.s.lines[i] = line
			return nil
		}
	}
	return apperr.NotFound("order line")
}

func (r *orderRepo) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	event.ID = r.s.id()
	r.s.events = append(r.s.events, event)
	return nil
}

func (r *orderRepo) Events(ctx context.Context, orderID int64, limit, offset int) ([]*domain.OrderEvent, error) {
	var res []*domain.OrderEvent
	for _, e := range r.s.events {
		if e.OrderID == orderID {
			res = append(res, e)
		}
	}
	return res, nil
}

// =============================================================================
// ShipmentRepository
// =============================================================================

type shipRepo struct{ s *memStore }

func (r *shipRepo) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Shipment, error) {
	for _, sh := range r.s.shipments {
		if sh.ID == id && sh.TenantID == tenantID {
			return sh, nil
		}
	}
	return nil, apperr.NotFound("shipment")
}

func (r *shipRepo) GetByTracking(ctx context.Context, tenantID uuid.UUID, tracking string) (*domain.Shipment, error) {
	for _, sh := range r.s.shipments {
		if sh.TenantID == tenantID && sh.TrackingNumber == tracking {
			return sh, nil
		}
	}
	return nil, apperr.NotFound("shipment")
}

func (r *shipRepo) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Shipment, error) {
	var res []*domain.Shipment
	for _, sh := range r.s.shipments {
		if sh.OrderID == orderID {
			res = append(res, sh)
		}
	}
	return res, nil
}

func (r *shipRepo) Create(ctx context.Context, sh *domain.Shipment) error {
	sh.ID = r.s.id()
	r.s.shipments = append(r.s.shipments, sh)
	return nil
}

func (r *shipRepo) Update(ctx context.Context, sh *domain.Shipment) error {
	for i, cur := range r.s.shipments {
		if cur.ID == sh.ID {
			r.s.shipments[i] = sh
			return nil
		}
	}
	return apperr.NotFound("shipment")
}

func (r *shipRepo) Lines(ctx context.Context, shipmentID int64) ([]*domain.ShipmentLine, error) {
	var res []*domain.ShipmentLine
	for _, l := range r.s.shipmentLines {
		if l.ShipmentID == shipmentID {
			res = append(res, l)
		}
	}
	return res, nil
}

func (r *shipRepo) CreateLine(ctx context.Context, line *domain.ShipmentLine) error {
	line.ID = r.s.id()
	r.s.shipmentLines = append(r.s.shipmentLines, line)
	return nil
}

func (r *shipRepo) GetDelivery(ctx context.Context, shipmentID int64) (*domain.Delivery, error) {
	for _, d := range r.s.deliveries {
		if d.ShipmentID == shipmentID {
			return d, nil
		}
	}
	return nil, apperr.NotFound("delivery")
}

func (r *shipRepo) UpsertDelivery(ctx context.Context, delivery *domain.Delivery) error {
	for i, d := range r.s.deliveries {
		if d.ShipmentID == delivery.ShipmentID {
			delivery.ID = d.ID
			r.s.deliveries[i] = delivery
			return nil
		}
	}
	delivery.ID = r.s.id()
	r.s.deliveries = append(r.s.deliveries, delivery)
	return nil
}

func (r *shipRepo) ListDeliveriesByOrder(ctx context.Context, orderID int64) ([]*domain.Delivery, error) {
	var res []*domain.Delivery
	for _, d := range r.s.deliveries {
		for _, sh := range r.s.shipments {
			if sh.ID == d.ShipmentID && sh.OrderID == orderID {
				res = append(res, d)
			}
		}
	}
	return res, nil
}

// =============================================================================
// ReturnRepository
// =============================================================================

type retRepo struct{ s *memStore }

func (r *retRepo) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.Return, error) {
	for _, ret := range r.s.returns {
		if ret.ID == id && ret.TenantID == tenantID {
			return ret, nil
		}
	}
	return nil, apperr.NotFound("return")
}

func (r *retRepo) GetByRMA(ctx context.Context, tenantID uuid.UUID, rma string) (*domain.Return, error) {
	for _, ret := range r.s.returns {
		if ret.TenantID == tenantID && ret.RMANumber != nil && *ret.RMANumber == rma {
			return ret, nil
		}
	}
	return nil, apperr.NotFound("return")
}

func (r *retRepo) GetByOrderAndReason(ctx context.Context, orderID int64, reason string) (*domain.Return, error) {
	for _, ret := range r.s.returns {
		if ret.OrderID == orderID && ret.Reason != nil && *ret.Reason == reason {
			return ret, nil
		}
	}
	return nil, apperr.NotFound("return")
}

func (r *retRepo) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Return, error) {
	var res []*domain.Return
	for _, ret := range r.s.returns {
		if ret.OrderID == orderID {
			res = append(res, ret)
		}
	}
	return res, nil
}

func (r *retRepo) Create(ctx context.Context, ret *domain.Return) error {
	ret.ID = r.s.id()
	r.s.returns = append(r.s.returns, ret)
	return nil
}

func (r *retRepo) Update(ctx context.Context, ret *domain.Return) error {
	for i, cur := range r.s.returns {
		if cur.ID == ret.ID {
			r.s.returns[i] = ret
			return nil
		}
	}
	return apperr.NotFound("return")
}

func (r *retRepo) Lines(ctx context.Context, returnID int64) ([]*domain.ReturnLine, error) {
	var res []*domain.ReturnLine
	for _, l := range r.s.returnLines {
		if l.ReturnID == returnID {
			res = append(res, l)
		}
	}
	return res, nil
}

func (r *retRepo) CreateLine(ctx context.Context, line *domain.ReturnLine) error {
	line.ID = r.s.id()
	r.s.returnLines = append(r.s.returnLines, line)
	return nil
}

func (r *retRepo) GetRefundByMessage(ctx context.Context, orderID int64, messageID int64) (*domain.Refund, error) {
	for _, rf := range r.s.refunds {
		if rf.OrderID == orderID && rf.InboundMessageID != nil && *rf.InboundMessageID == messageID {
			return rf, nil
		}
	}
	return nil, apperr.NotFound("refund")
}

func (r *retRepo) ListRefundsByOrder(ctx context.Context, orderID int64) ([]*domain.Refund, error) {
	var res []*domain.Refund
	for _, rf := range r.s.refunds {
		if rf.OrderID == orderID {
			res = append(res, rf)
		}
	}
	return res, nil
}

func (r *retRepo) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	refund.ID = r.s.id()
	r.s.refunds = append(r.s.refunds, refund)
	return nil
}

// =============================================================================
// AuditRepository
// =============================================================================

type auditRepo struct{ s *memStore }

func (r *auditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	entry.ID = r.s.id()
	r.s.audits = append(r.s.audits, entry)
	return nil
}

// =============================================================================
// UnitOfWork
// =============================================================================

type memUow struct {
	store *memStore
	// wrap lets a test substitute repositories, e.g. to inject conflicts.
	wrap func(r *out.Repositories) *out.Repositories
}

func (u *memUow) InTx(ctx context.Context, fn func(r *out.Repositories) error) error {
	r := u.store.repos()
	if u.wrap != nil {
		r = u.wrap(r)
	}
	return fn(r)
}

// =============================================================================
// Body store and extractor
// =============================================================================

type memBodyStore struct {
	bodies map[int64]*out.MessageBody
}

func (b *memBodyStore) GetBody(ctx context.Context, tenantID uuid.UUID, id int64) (*out.MessageBody, error) {
	body, ok := b.bodies[id]
	if !ok {
		return nil, apperr.NotFound("message body")
	}
	return body, nil
}

func (b *memBodyStore) SaveBody(ctx context.Context, tenantID uuid.UUID, body *out.MessageBody) error {
	if b.bodies == nil {
		b.bodies = make(map[int64]*out.MessageBody)
	}
	b.bodies[body.InboundMessageID] = body
	return nil
}

// fakeExtractor returns scripted results and counts parser invocations.
type fakeExtractor struct {
	relevant    bool
	relevantErr error

	classification *domain.ClassificationResult
	classifyErr    error

	orderRes        *out.ParseOutcome[out.OrderData]
	shipmentRes     *out.ParseOutcome[out.ShipmentData]
	deliveryRes     *out.ParseOutcome[out.DeliveryData]
	returnRes       *out.ParseOutcome[out.ReturnData]
	refundRes       *out.ParseOutcome[out.RefundData]
	cancellationRes *out.ParseOutcome[out.CancellationData]
	paymentRes      *out.ParseOutcome[out.PaymentData]
	parseErr        error

	classifyCalls int
	parseCalls    int
}

func (f *fakeExtractor) IsRelevant(ctx context.Context, in *out.ExtractInput) (bool, error) {
	return f.relevant, f.relevantErr
}

func (f *fakeExtractor) Classify(ctx context.Context, in *out.ExtractInput) (*domain.ClassificationResult, error) {
	f.classifyCalls++
	return f.classification, f.classifyErr
}

func (f *fakeExtractor) ParseOrder(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.OrderData], error) {
	f.parseCalls++
	return f.orderRes, f.parseErr
}

func (f *fakeExtractor) ParseShipment(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.ShipmentData], error) {
	f.parseCalls++
	return f.shipmentRes, f.parseErr
}

func (f *fakeExtractor) ParseDelivery(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.DeliveryData], error) {
	f.parseCalls++
	return f.deliveryRes, f.parseErr
}

func (f *fakeExtractor) ParseReturn(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.ReturnData], error) {
	f.parseCalls++
	return f.returnRes, f.parseErr
}

func (f *fakeExtractor) ParseRefund(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.RefundData], error) {
	f.parseCalls++
	return f.refundRes, f.parseErr
}

func (f *fakeExtractor) ParseCancellation(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.CancellationData], error) {
	f.parseCalls++
	return f.cancellationRes, f.parseErr
}

func (f *fakeExtractor) ParsePayment(ctx context.Context, in *out.ExtractInput) (*out.ParseOutcome[out.PaymentData], error) {
	f.parseCalls++
	return f.paymentRes, f.parseErr
}

// =============================================================================
// Retailer directory
// =============================================================================

type memRetailerRepo struct {
	retailers []*domain.Retailer
}

func (f *memRetailerRepo) GetByID(ctx context.Context, id int64) (*domain.Retailer, error) {
	for _, r := range f.retailers {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperr.NotFound("retailer")
}

func (f *memRetailerRepo) GetByDomain(ctx context.Context, dom string) (*domain.Retailer, error) {
	for _, r := range f.retailers {
		for _, d := range r.Domains {
			if d == dom {
				return r, nil
			}
		}
	}
	return nil, apperr.NotFound("retailer")
}

func (f *memRetailerRepo) List(ctx context.Context) ([]*domain.Retailer, error) {
	return f.retailers, nil
}
