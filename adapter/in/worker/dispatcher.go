package worker

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Handler routes pool jobs to their processor by job type.
type Handler struct {
	messageProcessor *MessageProcessor
	log              zerolog.Logger
}

// NewHandler creates a new job dispatcher.
func NewHandler(messageProcessor *MessageProcessor, log zerolog.Logger) *Handler {
	return &Handler{
		messageProcessor: messageProcessor,
		log:              log.With().Str("component", "worker_dispatcher").Logger(),
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	h.log.Debug().Str("job_id", msg.ID).Str("job_type", string(msg.Type)).Msg("processing job")

	switch msg.Type {
	case JobProcessMessage:
		return h.messageProcessor.ProcessMessage(ctx, msg)
	default:
		h.log.Warn().Str("job_type", string(msg.Type)).Msg("unknown job type, dropping")
		return nil
	}
}

// ParsePayload decodes a message payload into a typed job struct.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
