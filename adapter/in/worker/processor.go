package worker

import (
	"context"

	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/core/service/pipeline"
	"ordersight/pkg/apperr"
)

// MessageProcessor handles process-message jobs by running the pipeline
// orchestrator. It decides retryability: transient faults bubble up so the
// pool retries, everything else is absorbed into message state.
type MessageProcessor struct {
	orchestrator *pipeline.Orchestrator
	messages     domain.InboundMessageRepository
	log          zerolog.Logger
}

// NewMessageProcessor creates a new message processor.
func NewMessageProcessor(orchestrator *pipeline.Orchestrator, messages domain.InboundMessageRepository, log zerolog.Logger) *MessageProcessor {
	return &MessageProcessor{
		orchestrator: orchestrator,
		messages:     messages,
		log:          log.With().Str("component", "message_processor").Logger(),
	}
}

// ProcessMessage runs the pipeline for one queued job.
func (p *MessageProcessor) ProcessMessage(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.ProcessMessageJob](msg)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", msg.ID).Msg("unreadable job payload, dropping")
		return nil
	}

	// A pool-level retry re-runs a message the previous attempt already
	// marked failed; reset it or the terminal-status guard makes the
	// retry a noop.
	if msg.Retries > 0 {
		if err := p.resetIfFailed(ctx, job); err != nil {
			return err
		}
	}

	err = p.orchestrator.Process(ctx, *job)
	switch {
	case err == nil:
		return nil
	case apperr.IsTransient(err):
		return err
	default:
		p.log.Warn().
			Err(err).
			Stringer("tenant_id", job.TenantID).
			Int64("message_id", job.InboundMessageID).
			Msg("message failed without retry")
		return nil
	}
}

func (p *MessageProcessor) resetIfFailed(ctx context.Context, job *out.ProcessMessageJob) error {
	m, err := p.messages.GetByID(ctx, job.TenantID, job.InboundMessageID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil
		}
		return apperr.Transient("postgres", err)
	}
	if m.Status != domain.MessageFailed {
		return nil
	}
	if err := p.messages.ResetForReprocessing(ctx, m.TenantID, m.ID, nil); err != nil {
		return apperr.Transient("postgres", err)
	}
	return nil
}
