package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/registry/internal/registryerr"
	"gorm.io/gorm"
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
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate_limited")
	ErrInternal     = errors.New("internal_error")
)

var kindStatus = map[registryerr.Kind]int{
	registryerr.KindValidation:   http.StatusBadRequest,
	registryerr.KindConflict:     http.StatusConflict,
	registryerr.KindPrecondition: http.StatusPreconditionFailed,
	registryerr.KindNotFound:     http.StatusNotFound,
	registryerr.KindForbidden:    http.StatusForbidden,
}

var kindType = map[registryerr.Kind]string{
	registryerr.KindValidation:   "validation_error",
	registryerr.KindConflict:     "conflict",
	registryerr.KindPrecondition: "precondition_failed",
	registryerr.KindNotFound:     "not_found",
	registryerr.KindForbidden:    "forbidden",
}

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
	internal := errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
	if err == nil {
		return http.StatusInternalServerError, internal
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "invalid_request",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if rerr, ok := registryerr.As(err); ok {
		status, known := kindStatus[rerr.Kind]
		if !known {
			return http.StatusInternalServerError, internal
		}
		return status, errorPayload{
			Type:    kindType[rerr.Kind],
			Code:    rerr.Code,
			Message: rerr.Message,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, internal
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog reduces err to a kind and code safe for request logs.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case asValidationErrors(err) != nil:
		return string(registryerr.KindValidation), "invalid_request"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "rate_limited"
	}
	if rerr, ok := registryerr.As(err); ok {
		return string(rerr.Kind), rerr.Code
	}
	return string(registryerr.KindInternal), "internal_error"
}
