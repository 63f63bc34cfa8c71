package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/pkg/apperr"
)

// ReviewHandler exposes the operator actions on stuck messages: listing the
// review queue, resolving with a confirmed type, dismissing, and reprocessing
// failed messages.
type ReviewHandler struct {
	messages domain.InboundMessageRepository
	producer out.MessageProducer
	log      zerolog.Logger
}

// NewReviewHandler creates the review handler.
func NewReviewHandler(messages domain.InboundMessageRepository, producer out.MessageProducer, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		messages: messages,
		producer: producer,
		log:      log.With().Str("component", "review_handler").Logger(),
	}
}

// Register mounts the operator routes.
func (h *ReviewHandler) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/review", h.List)
	api.Post("/review/:id/resolve", h.Resolve)
	api.Post("/review/:id/dismiss", h.Dismiss)
	api.Post("/messages/:id/reprocess", h.Reprocess)
}

// List returns the messages awaiting manual review for a tenant.
func (h *ReviewHandler) List(c *fiber.Ctx) error {
	tenantID, err := TenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	page := GetPaginationParams(c, 50)

	msgs, err := h.messages.ListByStatus(c.Context(), tenantID, domain.MessageManualReview, page.Limit, page.Offset)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"messages": msgs,
		"count":    len(msgs),
	})
}

type resolveRequest struct {
	MessageType string `json:"message_type"`
}

// Resolve pins the operator-confirmed type on a message under review and
// re-queues it. The pinned type makes the next pipeline run skip
// classification entirely.
func (h *ReviewHandler) Resolve(c *fiber.Ctx) error {
	tenantID, err := TenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := PathID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}
	if !domain.ValidMessageType(req.MessageType) {
		return AppErrorResponse(c, apperr.BadRequest("unknown message_type: "+req.MessageType))
	}
	pinned := domain.MessageType(req.MessageType)

	msg, err := h.messages.GetByID(c.Context(), tenantID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if msg.Status != domain.MessageManualReview {
		return AppErrorResponse(c, apperr.InvalidState(string(msg.Status), string(domain.MessagePending)))
	}

	if err := h.messages.ResetForReprocessing(c.Context(), tenantID, id, &pinned); err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.publish(c, tenantID, id); err != nil {
		return AppErrorResponse(c, err)
	}

	h.log.Info().
		Stringer("tenant_id", tenantID).
		Int64("message_id", id).
		Str("pinned_type", req.MessageType).
		Msg("review resolved, message re-queued")
	return SuccessResponse(c, fiber.Map{
		"message_id":  id,
		"pinned_type": req.MessageType,
		"status":      domain.MessagePending,
	})
}

// Dismiss terminally discards a message under review.
func (h *ReviewHandler) Dismiss(c *fiber.Ctx) error {
	tenantID, err := TenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := PathID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.messages.UpdateStatus(c.Context(), tenantID, id, domain.MessageManualReview, domain.MessageDismissed); err != nil {
		return AppErrorResponse(c, err)
	}

	h.log.Info().Stringer("tenant_id", tenantID).Int64("message_id", id).Msg("message dismissed by operator")
	return SuccessResponse(c, fiber.Map{
		"message_id": id,
		"status":     domain.MessageDismissed,
	})
}

// Reprocess resets a finished message to Pending and re-queues it. The
// repository enforces which statuses may be reset.
func (h *ReviewHandler) Reprocess(c *fiber.Ctx) error {
	tenantID, err := TenantID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	id, err := PathID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	msg, err := h.messages.GetByID(c.Context(), tenantID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if !msg.Status.CanReprocess() {
		return AppErrorResponse(c, apperr.InvalidState(string(msg.Status), string(domain.MessagePending)))
	}

	if err := h.messages.ResetForReprocessing(c.Context(), tenantID, id, nil); err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.publish(c, tenantID, id); err != nil {
		return AppErrorResponse(c, err)
	}

	h.log.Info().Stringer("tenant_id", tenantID).Int64("message_id", id).Msg("message re-queued for reprocessing")
	return SuccessResponse(c, fiber.Map{
		"message_id": id,
		"status":     domain.MessagePending,
	})
}

func (h *ReviewHandler) publish(c *fiber.Ctx, tenantID uuid.UUID, id int64) error {
	return h.producer.PublishProcessMessage(c.Context(), &out.ProcessMessageJob{
		TenantID:         tenantID,
		InboundMessageID: id,
		Priority:         true,
	})
}
