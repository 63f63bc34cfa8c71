// Package pipeline coordinates message processing: normalization, retailer
// matching, classification, parsing, entity merge, reconciliation, status
// recompute, and the audit trail. One inbound message runs the whole
// pipeline synchronously inside one worker.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/core/service/normalize"
	"ordersight/core/service/retailer"
	"ordersight/pkg/apperr"
)

// =============================================================================
// Policy
// =============================================================================

// Policy holds the named processing thresholds. Values are configuration,
// never hard-coded in pipeline logic.
type Policy struct {
	ClassifyConfidenceThreshold float64
	ParseConfidenceThreshold    float64
	MaxBodyChars                int
	MergeMaxAttempts            int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ClassifyConfidenceThreshold: 0.70,
		ParseConfidenceThreshold:    0.70,
		MaxBodyChars:                8000,
		MergeMaxAttempts:            3,
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the sole consumer of process-message jobs and the only
// component that mutates an InboundMessage.
type Orchestrator struct {
	messages   domain.InboundMessageRepository
	audit      domain.AuditRepository
	uow        out.UnitOfWork
	bodies     out.MessageBodyStore
	extractor  out.Extractor
	normalizer *normalize.Normalizer
	matcher    *retailer.Matcher
	policy     Policy
	log        zerolog.Logger
}

// NewOrchestrator wires the pipeline. messages and audit are autocommit
// repositories for status bookkeeping; all merge writes go through uow.
func NewOrchestrator(
	messages domain.InboundMessageRepository,
	audit domain.AuditRepository,
	uow out.UnitOfWork,
	bodies out.MessageBodyStore,
	extractor out.Extractor,
	matcher *retailer.Matcher,
	policy Policy,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		messages:   messages,
		audit:      audit,
		uow:        uow,
		bodies:     bodies,
		extractor:  extractor,
		normalizer: normalize.NewNormalizer(policy.MaxBodyChars),
		matcher:    matcher,
		policy:     policy,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs the full pipeline for one queued message. A returned error
// means a pipeline or infrastructure fault and triggers queue-level retry;
// every domain-level outcome (low confidence, noise, unparseable) is
// absorbed into message state and returns nil.
func (o *Orchestrator) Process(ctx context.Context, job out.ProcessMessageJob) error {
	log := o.log.With().
		Stringer("tenant_id", job.TenantID).
		Int64("message_id", job.InboundMessageID).
		Logger()

	msg, err := o.messages.GetByID(ctx, job.TenantID, job.InboundMessageID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			log.Warn().Msg("queued message no longer exists, dropping job")
			return nil
		}
		return apperr.Transient("postgres", err)
	}

	// At-least-once delivery: a redelivered job for a finished message is
	// acknowledged without side effects.
	if msg.Status.IsTerminal() {
		log.Debug().Str("status", string(msg.Status)).Msg("message already terminal, skipping")
		return nil
	}

	if msg.Status == domain.MessagePending {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessagePending, domain.MessageClassifying); err != nil {
			return apperr.Transient("postgres", err)
		}
		msg.Status = domain.MessageClassifying
	}

	body, err := o.bodies.GetBody(ctx, msg.TenantID, msg.ID)
	if err != nil {
		return o.fail(ctx, msg, apperr.Transient("mongodb", err))
	}

	norm := o.normalizer.Normalize(msg.Subject, body.Text, body.HTML)
	if norm.OriginalSender != "" && msg.OriginalSender == nil {
		if err := o.messages.SetOriginalSender(ctx, msg.TenantID, msg.ID, norm.OriginalSender); err != nil {
			return o.fail(ctx, msg, apperr.Transient("postgres", err))
		}
		msg.OriginalSender = &norm.OriginalSender
	}
	o.auditStep(ctx, msg, domain.StepNormalize, domain.AuditSuccess, fmt.Sprintf("original_sender=%q", norm.OriginalSender), nil)

	match := o.matchRetailer(ctx, msg, norm)

	in := &out.ExtractInput{
		Subject: norm.Subject,
		Body:    norm.Body,
		Sender:  senderFor(msg, norm),
	}
	if match != nil {
		in.RetailerHint = match.Retailer.Name
	}

	if msg.Status == domain.MessageClassifying {
		done, err := o.classify(ctx, msg, in, log)
		if err != nil || done {
			return err
		}
	}

	if msg.Status == domain.MessageClassified {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassified, domain.MessageParsing); err != nil {
			return apperr.Transient("postgres", err)
		}
		msg.Status = domain.MessageParsing
	}

	if err := o.parseAndMerge(ctx, msg, in, log); err != nil {
		return err
	}

	if msg.Status == domain.MessageParsing {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageParsing, domain.MessageParsed); err != nil {
			return apperr.Transient("postgres", err)
		}
	}

	log.Info().Msg("message processed")
	return nil
}

// matchRetailer resolves the retailer hint. An unmatched or failed lookup
// is absorbed; the pipeline proceeds with an unlinked order.
func (o *Orchestrator) matchRetailer(ctx context.Context, msg *domain.InboundMessage, norm normalize.Result) *domain.RetailerMatch {
	match, err := o.matcher.Match(ctx, retailer.MatchInput{
		Sender:         msg.Sender,
		OriginalSender: norm.OriginalSender,
		Subject:        norm.Subject,
	})
	if err != nil {
		o.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("retailer lookup failed, continuing unmatched")
		o.auditStep(ctx, msg, domain.StepMatchRetailer, domain.AuditFailure, err.Error(), nil)
		return nil
	}
	if match == nil {
		o.auditStep(ctx, msg, domain.StepMatchRetailer, domain.AuditSkipped, "no retailer matched", nil)
		return nil
	}

	if msg.RetailerID == nil {
		if err := o.messages.SetRetailer(ctx, msg.TenantID, msg.ID, match.Retailer.ID); err != nil {
			o.log.Warn().Err(err).Msg("failed to link retailer to message")
		} else {
			msg.RetailerID = &match.Retailer.ID
		}
	}
	o.auditStep(ctx, msg, domain.StepMatchRetailer, domain.AuditSuccess,
		fmt.Sprintf("retailer=%s kind=%s", match.Retailer.NormalizedName, match.Kind), &match.Confidence)
	return match
}

// classify runs relevance and type classification. done=true means the
// message reached a state that ends this run (dismissed, manual review).
func (o *Orchestrator) classify(ctx context.Context, msg *domain.InboundMessage, in *out.ExtractInput, log zerolog.Logger) (done bool, err error) {
	// An operator-pinned type from review resolution skips the model.
	if msg.PinnedType != nil {
		pinned := 1.0
		if err := o.messages.SetClassification(ctx, msg.TenantID, msg.ID, *msg.PinnedType, pinned, nil); err != nil {
			return false, apperr.Transient("postgres", err)
		}
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassifying, domain.MessageClassified); err != nil {
			return false, apperr.Transient("postgres", err)
		}
		msg.MessageType = msg.PinnedType
		msg.Confidence = &pinned
		msg.Status = domain.MessageClassified
		o.auditStep(ctx, msg, domain.StepClassify, domain.AuditSkipped, fmt.Sprintf("operator pinned type=%s", *msg.PinnedType), nil)
		return false, nil
	}

	relevant, err := o.extractor.IsRelevant(ctx, in)
	if err != nil {
		return true, o.fail(ctx, msg, apperr.Transient("extractor", err))
	}
	if !relevant {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassifying, domain.MessageDismissed); err != nil {
			return true, apperr.Transient("postgres", err)
		}
		o.auditStep(ctx, msg, domain.StepRelevance, domain.AuditSuccess, "not purchase-related, dismissed", nil)
		log.Debug().Msg("message dismissed by relevance filter")
		return true, nil
	}
	o.auditStep(ctx, msg, domain.StepRelevance, domain.AuditSuccess, "relevant", nil)

	result, err := o.extractor.Classify(ctx, in)
	if err != nil {
		return true, o.fail(ctx, msg, apperr.Transient("extractor", err))
	}

	if err := o.messages.SetClassification(ctx, msg.TenantID, msg.ID, result.Type, result.Confidence, result.SecondaryType); err != nil {
		return true, apperr.Transient("postgres", err)
	}
	msg.MessageType = &result.Type
	msg.Confidence = &result.Confidence

	// Hard confidence gate: below threshold the parser is never invoked.
	if result.Confidence < o.policy.ClassifyConfidenceThreshold {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassifying, domain.MessageManualReview); err != nil {
			return true, apperr.Transient("postgres", err)
		}
		o.auditStep(ctx, msg, domain.StepClassify, domain.AuditSuccess,
			fmt.Sprintf("type=%s below threshold %.2f, manual review", result.Type, o.policy.ClassifyConfidenceThreshold), &result.Confidence)
		log.Info().Str("type", string(result.Type)).Float64("confidence", result.Confidence).Msg("classification below threshold, routed to review")
		return true, nil
	}

	if result.Type == domain.TypePromotional {
		if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassifying, domain.MessageDismissed); err != nil {
			return true, apperr.Transient("postgres", err)
		}
		o.auditStep(ctx, msg, domain.StepClassify, domain.AuditSuccess, "promotional, dismissed", &result.Confidence)
		return true, nil
	}

	if err := o.messages.UpdateStatus(ctx, msg.TenantID, msg.ID, domain.MessageClassifying, domain.MessageClassified); err != nil {
		return true, apperr.Transient("postgres", err)
	}
	msg.Status = domain.MessageClassified
	o.auditStep(ctx, msg, domain.StepClassify, domain.AuditSuccess, fmt.Sprintf("type=%s", result.Type), &result.Confidence)
	return false, nil
}

// fail records the failure on the message and propagates the error so the
// queue transport retries or dead-letters the job.
func (o *Orchestrator) fail(ctx context.Context, msg *domain.InboundMessage, cause error) error {
	if err := o.messages.MarkFailed(ctx, msg.TenantID, msg.ID, cause.Error()); err != nil {
		o.log.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to mark message failed")
	}
	o.auditStep(ctx, msg, stepFor(msg.Status), domain.AuditFailure, cause.Error(), nil)
	return cause
}

func stepFor(s domain.MessageStatus) domain.PipelineStep {
	switch s {
	case domain.MessageParsing:
		return domain.StepParse
	default:
		return domain.StepClassify
	}
}

// auditStep appends one audit entry outside the merge transaction. Audit
// failures are logged, never fatal.
func (o *Orchestrator) auditStep(ctx context.Context, msg *domain.InboundMessage, step domain.PipelineStep, outcome domain.AuditOutcome, detail string, confidence *float64) {
	entry := &domain.AuditEntry{
		TenantID:         msg.TenantID,
		InboundMessageID: msg.ID,
		Step:             step,
		Outcome:          outcome,
		Detail:           detail,
		Confidence:       confidence,
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.log.Warn().Err(err).Int64("message_id", msg.ID).Str("step", string(step)).Msg("audit append failed")
	}
}

// senderFor picks the address handed to the extractor: original sender when
// the message came through a forwarding proxy, transport sender otherwise.
func senderFor(msg *domain.InboundMessage, norm normalize.Result) string {
	if norm.OriginalSender != "" {
		return norm.OriginalSender
	}
	if msg.OriginalSender != nil && *msg.OriginalSender != "" {
		return *msg.OriginalSender
	}
	return msg.Sender
}
