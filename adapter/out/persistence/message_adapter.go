// Package persistence provides PostgreSQL adapters implementing the domain
// repositories. Every adapter runs against sqlx.ExtContext so the same code
// serves both the shared pool and a unit-of-work transaction.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ordersight/core/domain"
	"ordersight/pkg/apperr"
)

// MessageAdapter implements domain.InboundMessageRepository.
type MessageAdapter struct {
	db sqlx.ExtContext
}

// NewMessageAdapter creates a new MessageAdapter.
func NewMessageAdapter(db sqlx.ExtContext) *MessageAdapter {
	return &MessageAdapter{db: db}
}

const messageColumns = `
	id, tenant_id, provider_message_id, sender, original_sender, subject,
	received_at, status, message_type, confidence, secondary_type, pinned_type,
	retailer_id, retry_count, error_detail, created_at, updated_at`

func (r *MessageAdapter) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*domain.InboundMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM inbound_messages
		WHERE tenant_id = $1 AND id = $2`

	var row messageRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("inbound message")
		}
		return nil, wrapDBError("get message", err)
	}
	return row.toEntity(), nil
}

func (r *MessageAdapter) GetByProviderMessageID(ctx context.Context, tenantID uuid.UUID, providerMessageID string) (*domain.InboundMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM inbound_messages
		WHERE tenant_id = $1 AND provider_message_id = $2`

	var row messageRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, tenantID, providerMessageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("inbound message")
		}
		return nil, wrapDBError("get message by provider id", err)
	}
	return row.toEntity(), nil
}

func (r *MessageAdapter) Create(ctx context.Context, msg *domain.InboundMessage) error {
	if msg.Status == "" {
		msg.Status = domain.MessagePending
	}
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
		INSERT INTO inbound_messages (
			tenant_id, provider_message_id, sender, original_sender, subject,
			received_at, status, pinned_type, retailer_id, retry_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, r.db, &id, query,
		msg.TenantID, msg.ProviderMessageID, msg.Sender, msg.OriginalSender,
		msg.Subject, msg.ReceivedAt, msg.Status, msg.PinnedType,
		msg.RetailerID, msg.RetryCount, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("create message", err)
	}
	msg.ID = id
	return nil
}

// UpdateStatus moves the status with the expected current status in the
// predicate, so a concurrent redelivery cannot replay a transition.
func (r *MessageAdapter) UpdateStatus(ctx context.Context, tenantID uuid.UUID, id int64, from, to domain.MessageStatus) error {
	if !from.CanTransition(to) {
		return apperrInvalidTransition(from, to)
	}

	query := `
		UPDATE inbound_messages
		SET status = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3`

	res, err := r.db.ExecContext(ctx, query, tenantID, id, from, to)
	if err != nil {
		return wrapDBError("update message status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrInvalidTransition(from, to)
	}
	return nil
}

func (r *MessageAdapter) SetClassification(ctx context.Context, tenantID uuid.UUID, id int64, msgType domain.MessageType, confidence float64, secondary *domain.MessageType) error {
	query := `
		UPDATE inbound_messages
		SET message_type = $3, confidence = $4, secondary_type = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.ExecContext(ctx, query, tenantID, id, msgType, confidence, secondary); err != nil {
		return wrapDBError("set classification", err)
	}
	return nil
}

func (r *MessageAdapter) SetOriginalSender(ctx context.Context, tenantID uuid.UUID, id int64, sender string) error {
	query := `
		UPDATE inbound_messages
		SET original_sender = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.ExecContext(ctx, query, tenantID, id, sender); err != nil {
		return wrapDBError("set original sender", err)
	}
	return nil
}

func (r *MessageAdapter) SetRetailer(ctx context.Context, tenantID uuid.UUID, id int64, retailerID int64) error {
	query := `
		UPDATE inbound_messages
		SET retailer_id = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.ExecContext(ctx, query, tenantID, id, retailerID); err != nil {
		return wrapDBError("set retailer", err)
	}
	return nil
}

func (r *MessageAdapter) MarkFailed(ctx context.Context, tenantID uuid.UUID, id int64, detail string) error {
	query := `
		UPDATE inbound_messages
		SET status = $3, error_detail = $4, retry_count = retry_count + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.ExecContext(ctx, query, tenantID, id, domain.MessageFailed, detail); err != nil {
		return wrapDBError("mark message failed", err)
	}
	return nil
}

// ResetForReprocessing only touches messages in a reprocessable status; the
// predicate keeps an operator action from yanking a message mid-pipeline.
func (r *MessageAdapter) ResetForReprocessing(ctx context.Context, tenantID uuid.UUID, id int64, pinnedType *domain.MessageType) error {
	query := `
		UPDATE inbound_messages
		SET status = $3, pinned_type = COALESCE($4, pinned_type),
		    error_detail = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status IN ('failed', 'manual_review', 'dismissed', 'parsed')`

	res, err := r.db.ExecContext(ctx, query, tenantID, id, domain.MessagePending, pinnedType)
	if err != nil {
		return wrapDBError("reset message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrInvalidTransition("", domain.MessagePending)
	}
	return nil
}

func (r *MessageAdapter) ListByStatus(ctx context.Context, tenantID uuid.UUID, status domain.MessageStatus, limit, offset int) ([]*domain.InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + messageColumns + `
		FROM inbound_messages
		WHERE tenant_id = $1 AND status = $2
		ORDER BY received_at DESC
		LIMIT $3 OFFSET $4`

	var rows []messageRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, tenantID, status, limit, offset); err != nil {
		return nil, wrapDBError("list messages", err)
	}

	msgs := make([]*domain.InboundMessage, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toEntity()
	}
	return msgs, nil
}

// =============================================================================
// Row Types
// =============================================================================

type messageRow struct {
	ID                int64           `db:"id"`
	TenantID          uuid.UUID       `db:"tenant_id"`
	ProviderMessageID string          `db:"provider_message_id"`
	Sender            string          `db:"sender"`
	OriginalSender    sql.NullString  `db:"original_sender"`
	Subject           string          `db:"subject"`
	ReceivedAt        time.Time       `db:"received_at"`
	Status            string          `db:"status"`
	MessageType       sql.NullString  `db:"message_type"`
	Confidence        sql.NullFloat64 `db:"confidence"`
	SecondaryType     sql.NullString  `db:"secondary_type"`
	PinnedType        sql.NullString  `db:"pinned_type"`
	RetailerID        sql.NullInt64   `db:"retailer_id"`
	RetryCount        int             `db:"retry_count"`
	ErrorDetail       sql.NullString  `db:"error_detail"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r *messageRow) toEntity() *domain.InboundMessage {
	msg := &domain.InboundMessage{
		ID:                r.ID,
		TenantID:          r.TenantID,
		ProviderMessageID: r.ProviderMessageID,
		Sender:            r.Sender,
		Subject:           r.Subject,
		ReceivedAt:        r.ReceivedAt,
		Status:            domain.MessageStatus(r.Status),
		RetryCount:        r.RetryCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}

	if r.OriginalSender.Valid {
		msg.OriginalSender = &r.OriginalSender.String
	}
	if r.MessageType.Valid {
		mt := domain.MessageType(r.MessageType.String)
		msg.MessageType = &mt
	}
	if r.Confidence.Valid {
		msg.Confidence = &r.Confidence.Float64
	}
	if r.SecondaryType.Valid {
		st := domain.MessageType(r.SecondaryType.String)
		msg.SecondaryType = &st
	}
	if r.PinnedType.Valid {
		pt := domain.MessageType(r.PinnedType.String)
		msg.PinnedType = &pt
	}
	if r.RetailerID.Valid {
		msg.RetailerID = &r.RetailerID.Int64
	}
	if r.ErrorDetail.Valid {
		msg.ErrorDetail = &r.ErrorDetail.String
	}

	return msg
}
