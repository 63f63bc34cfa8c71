package out

import (
	"context"

	"github.com/google/uuid"
)

// ProcessMessageJob is the queue message shape. The orchestrator is the
// sole consumer.
type ProcessMessageJob struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	InboundMessageID int64     `json:"inbound_message_id"`

	// Priority marks operator-triggered jobs so a deep ingest backlog
	// cannot starve them.
	Priority bool `json:"priority,omitempty"`
}

// MessageProducer publishes pipeline jobs to the durable queue.
type MessageProducer interface {
	PublishProcessMessage(ctx context.Context, job *ProcessMessageJob) error
}
