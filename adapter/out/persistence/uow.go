package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"ordersight/core/port/out"
)

// TxManager implements out.UnitOfWork over one sqlx connection pool. Every
// repository handed to fn is bound to the same transaction.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager creates a new TxManager.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) InTx(ctx context.Context, fn func(r *out.Repositories) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}
	defer tx.Rollback()

	repos := &out.Repositories{
		Messages:  NewMessageAdapter(tx),
		Orders:    NewOrderAdapter(tx),
		Shipments: NewShipmentAdapter(tx),
		Returns:   NewReturnAdapter(tx),
		Audit:     NewAuditAdapter(tx),
	}

	if err := fn(repos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit tx", err)
	}
	return nil
}
