package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the processing state of an inbound message.
// Transitions only move forward; reprocessing is the single exception
// and resets the message to Pending.
type MessageStatus string

const (
	MessagePending      MessageStatus = "pending"
	MessageClassifying  MessageStatus = "classifying"
	MessageClassified   MessageStatus = "classified"
	MessageParsing      MessageStatus = "parsing"
	MessageParsed       MessageStatus = "parsed"
	MessageFailed       MessageStatus = "failed"
	MessageManualReview MessageStatus = "manual_review"
	MessageDismissed    MessageStatus = "dismissed"
)

// messageTransitions encodes the allowed forward edges of the state machine.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessagePending:      {MessageClassifying},
	MessageClassifying:  {MessageClassified, MessageManualReview, MessageDismissed, MessageFailed},
	MessageClassified:   {MessageParsing},
	MessageParsing:      {MessageParsed, MessageManualReview, MessageFailed},
	MessageManualReview: {MessageParsed, MessageDismissed},
}

// CanTransition reports whether moving from one processing status to another
// is a legal forward transition. It does not cover reprocessing resets; use
// CanReprocess for those.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	for _, next := range messageTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CanReprocess reports whether a message in this status may be reset to
// Pending by an explicit operator or retry action.
func (s MessageStatus) CanReprocess() bool {
	switch s {
	case MessageFailed, MessageManualReview, MessageDismissed, MessageParsed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether automatic processing is done with this message.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageParsed, MessageFailed, MessageManualReview, MessageDismissed:
		return true
	default:
		return false
	}
}

// InboundMessage is one forwarded purchase notification as stored by the
// ingestion edge. (tenant, provider message id) is the creation dedup key.
// Only the orchestrator mutates it, and it is never deleted.
type InboundMessage struct {
	ID                int64         `json:"id"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	ProviderMessageID string        `json:"provider_message_id"`
	Sender            string        `json:"sender"`
	OriginalSender    *string       `json:"original_sender,omitempty"`
	Subject           string        `json:"subject"`
	ReceivedAt        time.Time     `json:"received_at"`
	Status            MessageStatus `json:"status"`

	// Classification outcome, set once the classifier has run.
	MessageType   *MessageType `json:"message_type,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`
	SecondaryType *MessageType `json:"secondary_type,omitempty"`

	// PinnedType is set by an operator resolving a manual review; when
	// present the orchestrator skips classification on reprocessing.
	PinnedType *MessageType `json:"pinned_type,omitempty"`

	RetailerID  *int64  `json:"retailer_id,omitempty"`
	RetryCount  int     `json:"retry_count"`
	ErrorDetail *string `json:"error_detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InboundMessageRepository persists inbound messages.
type InboundMessageRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*InboundMessage, error)
	GetByProviderMessageID(ctx context.Context, tenantID uuid.UUID, providerMessageID string) (*InboundMessage, error)
	Create(ctx context.Context, msg *InboundMessage) error

	// UpdateStatus advances the processing status. Implementations must
	// reject transitions the state machine forbids.
	UpdateStatus(ctx context.Context, tenantID uuid.UUID, id int64, from, to MessageStatus) error

	// SetClassification records type and confidence alongside the status move.
	SetClassification(ctx context.Context, tenantID uuid.UUID, id int64, msgType MessageType, confidence float64, secondary *MessageType) error

	SetOriginalSender(ctx context.Context, tenantID uuid.UUID, id int64, sender string) error
	SetRetailer(ctx context.Context, tenantID uuid.UUID, id int64, retailerID int64) error

	// MarkFailed records the error detail and increments the retry counter.
	MarkFailed(ctx context.Context, tenantID uuid.UUID, id int64, detail string) error

	// ResetForReprocessing returns the message to Pending, clearing the error
	// detail. pinnedType, when non-nil, pins the classification for the next run.
	ResetForReprocessing(ctx context.Context, tenantID uuid.UUID, id int64, pinnedType *MessageType) error

	ListByStatus(ctx context.Context, tenantID uuid.UUID, status MessageStatus, limit, offset int) ([]*InboundMessage, error)
}
