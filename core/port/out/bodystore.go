package out

import (
	"context"

	"github.com/google/uuid"
)

// MessageBody is the raw content of an inbound message as stored at ingest.
type MessageBody struct {
	InboundMessageID int64  `json:"inbound_message_id"`
	Text             string `json:"text"`
	HTML             string `json:"html"`
}

// MessageBodyStore holds raw message bodies outside the relational store.
// The pipeline only reads; the ingestion edge writes.
type MessageBodyStore interface {
	GetBody(ctx context.Context, tenantID uuid.UUID, inboundMessageID int64) (*MessageBody, error)
	SaveBody(ctx context.Context, tenantID uuid.UUID, body *MessageBody) error
}
