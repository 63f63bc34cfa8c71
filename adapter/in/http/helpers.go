// Package http exposes the operator API: health probes and the manual-review
// endpoints that move messages out of ManualReview and Failed.
package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ordersight/pkg/apperr"
)

// =============================================================================
// Response envelope
// =============================================================================

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// APIError carries the structured error payload.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessResponse sends a standard JSON success response.
func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse sends a plain error with the given status.
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse maps an apperr.AppError onto the response envelope.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// Request helpers
// =============================================================================

// TenantID reads the tenant scope from the tenant_id query parameter.
func TenantID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Query("tenant_id")
	if raw == "" {
		return uuid.Nil, apperr.BadRequest("tenant_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("tenant_id must be a UUID")
	}
	return id, nil
}

// PathID parses the :id path parameter.
func PathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("id must be a positive integer")
	}
	return id, nil
}

// PaginationParams holds the common list parameters.
type PaginationParams struct {
	Limit  int
	Offset int
}

// GetPaginationParams extracts limit/offset from the query, capped at 100.
func GetPaginationParams(c *fiber.Ctx, defaultLimit int) PaginationParams {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > 100 {
		limit = 100
	}
	return PaginationParams{
		Limit:  limit,
		Offset: c.QueryInt("offset", 0),
	}
}
