package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/core/service/retailer"
	"ordersight/pkg/apperr"
)

var testTenant = uuid.MustParse("5e0fca1e-7b2a-4f40-9a83-1c2d3e4f5a6b")

type testEnv struct {
	store     *memStore
	uow       *memUow
	bodies    *memBodyStore
	extractor *fakeExtractor
	orch      *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	uow := &memUow{store: store}
	bodies := &memBodyStore{bodies: map[int64]*out.MessageBody{}}
	extractor := &fakeExtractor{relevant: true}
	matcher := retailer.NewMatcher(&memRetailerRepo{retailers: []*domain.Retailer{
		{ID: 1, Name: "Acme Store", NormalizedName: "acme-store", Domains: []string{"acme-store.com"}},
	}}, time.Minute, zerolog.Nop())

	repos := store.repos()
	orch := NewOrchestrator(
		repos.Messages,
		repos.Audit,
		uow,
		bodies,
		extractor,
		matcher,
		DefaultPolicy(),
		zerolog.Nop(),
	)
	return &testEnv{store: store, uow: uow, bodies: bodies, extractor: extractor, orch: orch}
}

// seedMessage stores a pending message plus its raw body and returns it.
func (e *testEnv) seedMessage(t *testing.T, providerID string) *domain.InboundMessage {
	t.Helper()
	msg := &domain.InboundMessage{
		TenantID:          testTenant,
		ProviderMessageID: providerID,
		Sender:            "jane@example.com",
		Subject:           "Fwd: Order update",
		Status:            domain.MessagePending,
	}
	if err := e.store.repos().Messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	e.bodies.bodies[msg.ID] = &out.MessageBody{
		InboundMessageID: msg.ID,
		Text: "---------- Forwarded message ---------\n" +
			"From: Acme Store <orders@acme-store.com>\n\nOrder details follow.",
	}
	return msg
}

func (e *testEnv) process(t *testing.T, msg *domain.InboundMessage) error {
	t.Helper()
	return e.orch.Process(context.Background(), out.ProcessMessageJob{
		TenantID:         testTenant,
		InboundMessageID: msg.ID,
	})
}

func classified(tp domain.MessageType, conf float64) *domain.ClassificationResult {
	return &domain.ClassificationResult{Type: tp, Confidence: conf}
}

func outcome[T any](data *T, conf float64) *out.ParseOutcome[T] {
	return &out.ParseOutcome[T]{Data: data, Confidence: conf}
}

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

// =============================================================================
// Happy path and gating
// =============================================================================

func TestProcessOrderConfirmation(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-1")

	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.93)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-100",
		Currency:    "USD",
		TotalCents:  i64p(8400),
		Items: []out.ItemRef{
			{ProductName: "Blue Widget", Quantity: 2, UnitPriceCents: i64p(4200)},
		},
	}, 0.9)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if msg.Status != domain.MessageParsed {
		t.Errorf("message status = %s, want parsed", msg.Status)
	}
	if msg.OriginalSender == nil || *msg.OriginalSender != "orders@acme-store.com" {
		t.Errorf("original sender = %v", msg.OriginalSender)
	}
	if msg.RetailerID == nil || *msg.RetailerID != 1 {
		t.Errorf("retailer id = %v, want 1", msg.RetailerID)
	}

	if len(env.store.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(env.store.orders))
	}
	order := env.store.orders[0]
	if order.OrderNumber != "ORD-100" || order.IsInferred {
		t.Errorf("order = %+v", order)
	}
	if order.Status != domain.OrderPlaced {
		t.Errorf("order status = %s, want placed", order.Status)
	}
	if len(env.store.lines) != 1 || env.store.lines[0].Quantity != 2 {
		t.Errorf("lines = %+v", env.store.lines)
	}
	if len(env.store.events) != 1 {
		t.Errorf("events = %d, want 1", len(env.store.events))
	}
	if len(env.store.audits) == 0 {
		t.Error("expected audit entries")
	}
}

func TestLowConfidenceRoutesToManualReview(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-2")

	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.65)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if msg.Status != domain.MessageManualReview {
		t.Errorf("status = %s, want manual_review", msg.Status)
	}
	if env.extractor.parseCalls != 0 {
		t.Errorf("parser invoked %d times below the confidence gate", env.extractor.parseCalls)
	}
	if msg.MessageType == nil || *msg.MessageType != domain.TypeOrderConfirmation {
		t.Errorf("classification not recorded: %v", msg.MessageType)
	}
	if len(env.store.orders) != 0 {
		t.Errorf("no entities should be created, got %d orders", len(env.store.orders))
	}
}

func TestIrrelevantMessageDismissed(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-3")
	env.extractor.relevant = false

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.Status != domain.MessageDismissed {
		t.Errorf("status = %s, want dismissed", msg.Status)
	}
	if env.extractor.classifyCalls != 0 {
		t.Errorf("classifier invoked for irrelevant message")
	}
}

func TestPromotionalDismissed(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-4")
	env.extractor.classification = classified(domain.TypePromotional, 0.99)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.Status != domain.MessageDismissed {
		t.Errorf("status = %s, want dismissed", msg.Status)
	}
	if env.extractor.parseCalls != 0 {
		t.Error("parser invoked for promotional message")
	}
}

func TestParserNeedsReview(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-5")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = &out.ParseOutcome[out.OrderData]{Data: nil, Confidence: 0.4, NeedsReview: true}

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.Status != domain.MessageManualReview {
		t.Errorf("status = %s, want manual_review", msg.Status)
	}
	if len(env.store.orders) != 0 {
		t.Error("no merge should happen without parse data")
	}
}

func TestPinnedTypeSkipsClassification(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-6")
	pinned := domain.TypeOrderConfirmation
	msg.PinnedType = &pinned
	env.extractor.relevant = false // must not matter
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-200",
		Items:       []out.ItemRef{{ProductName: "Lamp", Quantity: 1}},
	}, 0.9)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if msg.Status != domain.MessageParsed {
		t.Errorf("status = %s, want parsed", msg.Status)
	}
	if env.extractor.classifyCalls != 0 {
		t.Error("classifier invoked despite pinned type")
	}
	if len(env.store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(env.store.orders))
	}
}

// =============================================================================
// Failures and retries
// =============================================================================

func TestTransientExtractorErrorFailsMessage(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-7")
	env.extractor.classification = nil
	env.extractor.classifyErr = apperr.Internal("model timeout")

	err := env.process(t, msg)
	if err == nil {
		t.Fatal("expected error for queue-level retry")
	}
	if !apperr.IsTransient(err) {
		t.Errorf("error not transient: %v", err)
	}
	if msg.Status != domain.MessageFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	if msg.RetryCount != 1 || msg.ErrorDetail == nil {
		t.Errorf("retry bookkeeping: count=%d detail=%v", msg.RetryCount, msg.ErrorDetail)
	}
}

// conflictOrders wraps the order repository and fails status writes with a
// version conflict a fixed number of times.
type conflictOrders struct {
	domain.OrderRepository
	remaining *int
}

func (c *conflictOrders) UpdateStatus(ctx context.Context, order *domain.Order, st domain.OrderStatus) error {
	if *c.remaining > 0 {
		*c.remaining--
		return apperr.Conflict("order")
	}
	return c.OrderRepository.UpdateStatus(ctx, order, st)
}

func TestMergeRetriesOnVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-8")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-300",
		TrackingNumber: "TRK-300",
		Status:         domain.ShipmentShipped,
	}, 0.9)

	conflicts := 1
	env.uow.wrap = func(r *out.Repositories) *out.Repositories {
		r.Orders = &conflictOrders{OrderRepository: r.Orders, remaining: &conflicts}
		return r
	}

	if err := env.process(t, msg); err != nil {
		t.Fatalf("Process should recover from one conflict: %v", err)
	}
	if msg.Status != domain.MessageParsed {
		t.Errorf("status = %s, want parsed", msg.Status)
	}
}

func TestMergeConflictPastCeilingFails(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-9")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-301",
		TrackingNumber: "TRK-301",
		Status:         domain.ShipmentShipped,
	}, 0.9)

	conflicts := 100
	env.uow.wrap = func(r *out.Repositories) *out.Repositories {
		r.Orders = &conflictOrders{OrderRepository: r.Orders, remaining: &conflicts}
		return r
	}

	err := env.process(t, msg)
	if err == nil {
		t.Fatal("expected structural error past retry ceiling")
	}
	if !apperr.IsCode(err, apperr.CodeStructural) {
		t.Errorf("error code: %v", err)
	}
	if msg.Status != domain.MessageFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	if conflicts != 100-DefaultPolicy().MergeMaxAttempts {
		t.Errorf("attempts = %d, want %d", 100-conflicts, DefaultPolicy().MergeMaxAttempts)
	}
}

// =============================================================================
// Idempotence
// =============================================================================

func TestTerminalRedeliveryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-10")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-400",
		Items:       []out.ItemRef{{ProductName: "Mug", Quantity: 1}},
	}, 0.9)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	ordersBefore, linesBefore := len(env.store.orders), len(env.store.lines)
	eventsBefore := len(env.store.events)

	// At-least-once delivery hands the job over again.
	if err := env.process(t, msg); err != nil {
		t.Fatalf("redelivered Process: %v", err)
	}
	if len(env.store.orders) != ordersBefore || len(env.store.lines) != linesBefore {
		t.Error("redelivery created duplicate entities")
	}
	if len(env.store.events) != eventsBefore {
		t.Error("redelivery appended duplicate events")
	}
}

func TestReprocessingDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	msg := env.seedMessage(t, "prov-11")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-401",
		Items:       []out.ItemRef{{ProductName: "Desk Lamp", SKU: strp("DL-1"), Quantity: 1}},
	}, 0.9)

	if err := env.process(t, msg); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := env.store.repos().Messages.ResetForReprocessing(context.Background(), testTenant, msg.ID, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.process(t, msg); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	if len(env.store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(env.store.orders))
	}
	if len(env.store.lines) != 1 {
		t.Errorf("lines = %d, want 1", len(env.store.lines))
	}
}

func TestDuplicateShipmentMessage(t *testing.T) {
	env := newTestEnv(t)

	ship := func(provider string) *domain.InboundMessage {
		msg := env.seedMessage(t, provider)
		env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
		env.extractor.shipmentRes = outcome(&out.ShipmentData{
			OrderNumber:    "ORD-402",
			TrackingNumber: "TRK-402",
			Status:         domain.ShipmentShipped,
		}, 0.9)
		return msg
	}

	m1 := ship("prov-12a")
	if err := env.process(t, m1); err != nil {
		t.Fatalf("first shipment: %v", err)
	}
	m2 := ship("prov-12b")
	if err := env.process(t, m2); err != nil {
		t.Fatalf("duplicate shipment: %v", err)
	}

	if len(env.store.shipments) != 1 {
		t.Errorf("shipments = %d, want 1 (tracking number dedup)", len(env.store.shipments))
	}
	if len(env.store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(env.store.orders))
	}
}

// =============================================================================
// Out-of-order reconciliation
// =============================================================================

func TestShipmentBeforeOrderReconciles(t *testing.T) {
	env := newTestEnv(t)

	// Shipment T123 for ORD-1 arrives first.
	m1 := env.seedMessage(t, "prov-13a")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-1",
		TrackingNumber: "T123",
		Status:         domain.ShipmentShipped,
		Items:          []out.ItemRef{{ProductName: "Blue Widget", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatalf("shipment message: %v", err)
	}

	if len(env.store.orders) != 1 {
		t.Fatalf("orders = %d, want 1 stub", len(env.store.orders))
	}
	stub := env.store.orders[0]
	if !stub.IsInferred || stub.OrderNumber != "ORD-1" {
		t.Errorf("stub order = %+v", stub)
	}
	if len(env.store.shipments) != 1 || len(env.store.shipments[0].PendingItems) == 0 {
		t.Fatalf("shipment should hold orphaned items: %+v", env.store.shipments)
	}
	if len(env.store.shipmentLines) != 0 {
		t.Errorf("no shipment lines should exist before reconciliation")
	}

	// The order confirmation arrives later with a matching product name.
	m2 := env.seedMessage(t, "prov-13b")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.95)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-1",
		TotalCents:  i64p(8400),
		Items: []out.ItemRef{
			{ProductName: "Blue Widget (Large)", Quantity: 2, UnitPriceCents: i64p(4200)},
		},
	}, 0.95)
	if err := env.process(t, m2); err != nil {
		t.Fatalf("order message: %v", err)
	}

	order := env.store.orders[0]
	if order.IsInferred {
		t.Error("inferred flag not cleared by enrichment")
	}
	if len(env.store.shipmentLines) != 1 {
		t.Fatalf("shipment lines = %d, want 1 after reconciliation", len(env.store.shipmentLines))
	}
	if env.store.shipmentLines[0].Quantity != 1 {
		t.Errorf("shipment line quantity = %d, want 1", env.store.shipmentLines[0].Quantity)
	}
	if len(env.store.shipments[0].PendingItems) != 0 {
		t.Errorf("pending items not cleared: %s", env.store.shipments[0].PendingItems)
	}
	if env.store.lines[0].Status != domain.LineShipped {
		t.Errorf("line status = %s, want shipped", env.store.lines[0].Status)
	}
	if order.Status != domain.OrderPartiallyShipped {
		t.Errorf("order status = %s, want partially_shipped (1 of 2 shipped)", order.Status)
	}
}

func TestShipmentQuantityCappedAtOrdered(t *testing.T) {
	env := newTestEnv(t)

	m1 := env.seedMessage(t, "prov-14a")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-500",
		Items:       []out.ItemRef{{ProductName: "Chair", Quantity: 2}},
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatalf("order message: %v", err)
	}

	m2 := env.seedMessage(t, "prov-14b")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-500",
		TrackingNumber: "TRK-500",
		Status:         domain.ShipmentShipped,
		Items:          []out.ItemRef{{ProductName: "Chair", Quantity: 5}},
	}, 0.9)
	if err := env.process(t, m2); err != nil {
		t.Fatalf("shipment message: %v", err)
	}

	if len(env.store.shipmentLines) != 1 {
		t.Fatalf("shipment lines = %d, want 1", len(env.store.shipmentLines))
	}
	if got := env.store.shipmentLines[0].Quantity; got != 2 {
		t.Errorf("shipped quantity = %d, want capped at 2", got)
	}
}

// =============================================================================
// Delivery, return, refund flows
// =============================================================================

func TestDeliveryFlow(t *testing.T) {
	env := newTestEnv(t)

	m1 := env.seedMessage(t, "prov-15a")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-600",
		Items:       []out.ItemRef{{ProductName: "Kettle", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}

	m2 := env.seedMessage(t, "prov-15b")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-600",
		TrackingNumber: "TRK-600",
		Status:         domain.ShipmentShipped,
		Items:          []out.ItemRef{{ProductName: "Kettle", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m2); err != nil {
		t.Fatal(err)
	}
	if env.store.orders[0].Status != domain.OrderShipped {
		t.Errorf("after shipment: %s, want shipped", env.store.orders[0].Status)
	}

	m3 := env.seedMessage(t, "prov-15c")
	env.extractor.classification = classified(domain.TypeDeliveryConfirmation, 0.9)
	env.extractor.deliveryRes = outcome(&out.DeliveryData{
		TrackingNumber: "TRK-600",
		Delivered:      true,
	}, 0.9)
	if err := env.process(t, m3); err != nil {
		t.Fatal(err)
	}

	if len(env.store.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(env.store.deliveries))
	}
	if env.store.lines[0].Status != domain.LineDelivered {
		t.Errorf("line status = %s, want delivered", env.store.lines[0].Status)
	}
	if env.store.orders[0].Status != domain.OrderDelivered {
		t.Errorf("order status = %s, want delivered", env.store.orders[0].Status)
	}
}

func TestDeliveryIssueSetsException(t *testing.T) {
	env := newTestEnv(t)

	m1 := env.seedMessage(t, "prov-16a")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-601",
		TrackingNumber: "TRK-601",
		Status:         domain.ShipmentInTransit,
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}

	issue := domain.IssueDamaged
	m2 := env.seedMessage(t, "prov-16b")
	env.extractor.classification = classified(domain.TypeDeliveryIssue, 0.9)
	env.extractor.deliveryRes = outcome(&out.DeliveryData{
		TrackingNumber: "TRK-601",
		Delivered:      false,
		Issue:          &issue,
	}, 0.9)
	if err := env.process(t, m2); err != nil {
		t.Fatal(err)
	}

	if env.store.orders[0].Status != domain.OrderDeliveryException {
		t.Errorf("order status = %s, want delivery_exception", env.store.orders[0].Status)
	}
}

func TestReturnAndRefundFlow(t *testing.T) {
	env := newTestEnv(t)

	// Order, ship, deliver one kettle.
	m1 := env.seedMessage(t, "prov-17a")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-700",
		TotalCents:  i64p(3500),
		Items:       []out.ItemRef{{ProductName: "Kettle", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}

	m2 := env.seedMessage(t, "prov-17b")
	env.extractor.classification = classified(domain.TypeShipmentConfirmation, 0.9)
	env.extractor.shipmentRes = outcome(&out.ShipmentData{
		OrderNumber:    "ORD-700",
		TrackingNumber: "TRK-700",
		Status:         domain.ShipmentShipped,
		Items:          []out.ItemRef{{ProductName: "Kettle", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m2); err != nil {
		t.Fatal(err)
	}

	m3 := env.seedMessage(t, "prov-17c")
	env.extractor.classification = classified(domain.TypeDeliveryConfirmation, 0.9)
	env.extractor.deliveryRes = outcome(&out.DeliveryData{TrackingNumber: "TRK-700", Delivered: true}, 0.9)
	if err := env.process(t, m3); err != nil {
		t.Fatal(err)
	}

	// Return received.
	m4 := env.seedMessage(t, "prov-17d")
	env.extractor.classification = classified(domain.TypeReturnReceived, 0.9)
	env.extractor.returnRes = outcome(&out.ReturnData{
		OrderNumber: "ORD-700",
		RMANumber:   strp("RMA-77"),
		Status:      domain.ReturnReceived,
		Items:       []out.ItemRef{{ProductName: "Kettle", Quantity: 1}},
	}, 0.9)
	if err := env.process(t, m4); err != nil {
		t.Fatal(err)
	}
	if env.store.orders[0].Status != domain.OrderReturnReceived {
		t.Errorf("after return: %s, want return_received", env.store.orders[0].Status)
	}
	if len(env.store.returnLines) != 1 || env.store.returnLines[0].Quantity != 1 {
		t.Errorf("return lines = %+v", env.store.returnLines)
	}

	// Refund referencing the RMA completes the cycle.
	m5 := env.seedMessage(t, "prov-17e")
	env.extractor.classification = classified(domain.TypeRefundConfirmation, 0.9)
	env.extractor.refundRes = outcome(&out.RefundData{
		OrderNumber: "ORD-700",
		RMANumber:   strp("RMA-77"),
		AmountCents: 3500,
	}, 0.9)
	if err := env.process(t, m5); err != nil {
		t.Fatal(err)
	}

	if len(env.store.refunds) != 1 {
		t.Fatalf("refunds = %d, want 1", len(env.store.refunds))
	}
	if env.store.refunds[0].ReturnID == nil {
		t.Error("refund not linked to its return")
	}
	if env.store.returns[0].Status != domain.ReturnCompleted {
		t.Errorf("return status = %s, want completed", env.store.returns[0].Status)
	}
	if env.store.lines[0].Status != domain.LineRefunded {
		t.Errorf("line status = %s, want refunded", env.store.lines[0].Status)
	}
	if env.store.orders[0].Status != domain.OrderRefunded {
		t.Errorf("order status = %s, want refunded", env.store.orders[0].Status)
	}
}

func TestCancellationWholeOrder(t *testing.T) {
	env := newTestEnv(t)

	m1 := env.seedMessage(t, "prov-18a")
	env.extractor.classification = classified(domain.TypeOrderConfirmation, 0.9)
	env.extractor.orderRes = outcome(&out.OrderData{
		OrderNumber: "ORD-800",
		Items: []out.ItemRef{
			{ProductName: "Chair", Quantity: 1},
			{ProductName: "Table", Quantity: 1},
		},
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}

	m2 := env.seedMessage(t, "prov-18b")
	env.extractor.classification = classified(domain.TypeOrderCancellation, 0.9)
	env.extractor.cancellationRes = outcome(&out.CancellationData{OrderNumber: "ORD-800"}, 0.9)
	if err := env.process(t, m2); err != nil {
		t.Fatal(err)
	}

	if env.store.orders[0].Status != domain.OrderCancelled {
		t.Errorf("order status = %s, want cancelled", env.store.orders[0].Status)
	}
	for _, l := range env.store.lines {
		if l.Status != domain.LineCancelled {
			t.Errorf("line %d status = %s, want cancelled", l.ID, l.Status)
		}
	}
}

func TestRefundDedupByMessage(t *testing.T) {
	env := newTestEnv(t)

	m1 := env.seedMessage(t, "prov-19")
	env.extractor.classification = classified(domain.TypeRefundConfirmation, 0.9)
	env.extractor.refundRes = outcome(&out.RefundData{
		OrderNumber: "ORD-900",
		AmountCents: 1200,
	}, 0.9)
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}
	if err := env.store.repos().Messages.ResetForReprocessing(context.Background(), testTenant, m1.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := env.process(t, m1); err != nil {
		t.Fatal(err)
	}

	if len(env.store.refunds) != 1 {
		t.Errorf("refunds = %d, want 1 per causing message", len(env.store.refunds))
	}
}
