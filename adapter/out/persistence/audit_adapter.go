package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ordersight/core/domain"
)

// AuditAdapter implements the append-only domain.AuditRepository.
type AuditAdapter struct {
	db sqlx.ExtContext
}

// NewAuditAdapter creates a new AuditAdapter.
func NewAuditAdapter(db sqlx.ExtContext) *AuditAdapter {
	return &AuditAdapter{db: db}
}

func (r *AuditAdapter) Append(ctx context.Context, entry *domain.AuditEntry) error {
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO audit_entries (
			tenant_id, inbound_message_id, step, outcome, detail,
			confidence, entity_refs, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		entry.TenantID, entry.InboundMessageID, entry.Step, entry.Outcome,
		entry.Detail, entry.Confidence, pq.Array(entry.EntityRefs), entry.CreatedAt,
	)
	if err != nil {
		return wrapDBError("append audit entry", err)
	}
	entry.ID = id
	return nil
}
