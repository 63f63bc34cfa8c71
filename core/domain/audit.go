package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PipelineStep names one stage of message processing for the audit trail.
type PipelineStep string

const (
	StepNormalize     PipelineStep = "normalize"
	StepMatchRetailer PipelineStep = "match_retailer"
	StepRelevance     PipelineStep = "relevance"
	StepClassify      PipelineStep = "classify"
	StepParse         PipelineStep = "parse"
	StepMerge         PipelineStep = "merge"
	StepRecompute     PipelineStep = "recompute"
)

// AuditOutcome is the recorded result of a pipeline step.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
	AuditSkipped AuditOutcome = "skipped"
)

// AuditEntry records one pipeline step's outcome for one message. Entries
// are append-only and never read back by the pipeline itself.
type AuditEntry struct {
	ID               int64        `json:"id"`
	TenantID         uuid.UUID    `json:"tenant_id"`
	InboundMessageID int64        `json:"inbound_message_id"`
	Step             PipelineStep `json:"step"`
	Outcome          AuditOutcome `json:"outcome"`
	Detail           string       `json:"detail,omitempty"`
	Confidence       *float64     `json:"confidence,omitempty"`

	// EntityRefs lists the entities the step touched, as "kind:id" strings.
	EntityRefs []string `json:"entity_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AuditRepository is the append-only audit sink.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
