package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/capability"
	"github.com/smallbiznis/contentgate/internal/gate"
	"github.com/smallbiznis/contentgate/internal/identity"
	moderationdomain "github.com/smallbiznis/contentgate/internal/moderation/domain"
	quotadomain "github.com/smallbiznis/contentgate/internal/quota/domain"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/smallbiznis/contentgate/pkg/db"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var quotaErr *gate.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "quota_exceeded",
			Message: quotaErr.Error(),
			Details: map[string]any{
				"quota": map[string]any{
					"action":    quotaErr.Action,
					"used":      quotaErr.Used,
					"limit":     quotaErr.Limit,
					"resets_at": quotaErr.PeriodEnd,
				},
			},
		}
	}

	var approvalErr *gate.NotApprovedError
	if errors.As(err, &approvalErr) {
		return http.StatusConflict, errorPayload{
			Type:    "not_approved",
			Message: approvalErr.Error(),
			Details: map[string]any{"status": approvalErr.Status},
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, capability.ErrInvalidCapability):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, subdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "submission cannot make that transition from its current status",
		}
	case errors.Is(err, subdomain.ErrAlreadyExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, subdomain.ErrNotFound),
		errors.Is(err, quotadomain.ErrEventNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isUnavailable(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service temporarily unavailable, retry later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && payload.Type == "service_unavailable" {
		code = db.ClassifyError(err)
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, subdomain.ErrInvalidKind),
		errors.Is(err, subdomain.ErrInvalidStatus),
		errors.Is(err, subdomain.ErrInvalidOwner),
		errors.Is(err, subdomain.ErrInvalidID),
		errors.Is(err, subdomain.ErrReasonRequired),
		errors.Is(err, moderationdomain.ErrInvalidTimeRange),
		errors.Is(err, moderationdomain.ErrInvalidPage),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, quotadomain.ErrInvalidUserID),
		errors.Is(err, tier.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, db.ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, gate.ErrCapabilityUnavailable)
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "reason_required":
		return "reason"
	case "invalid_submission_id":
		return "id"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "reason_required":
		return "a reason is required"
	case "invalid_time_range":
		return "created_from must not be after created_to"
	default:
		return "invalid value"
	}
}
