package out

import (
	"context"

	"ordersight/core/domain"
)

// Repositories bundles the tx-scoped repositories a merge operates on.
type Repositories struct {
	Messages  domain.InboundMessageRepository
	Orders    domain.OrderRepository
	Shipments domain.ShipmentRepository
	Returns   domain.ReturnRepository
	Audit     domain.AuditRepository
}

// UnitOfWork runs fn inside one transaction: either every write fn makes
// through the bundled repositories is visible, or none is. All effects of
// one message's merge (entities, recomputed status, events, audit) go
// through a single InTx call.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(r *Repositories) error) error
}
