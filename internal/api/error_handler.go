package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/moderation"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 处理 handler 通过 c.Error 留下的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		HandleServiceError(c, err)
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// StatusFor 服务层错误对应的 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, moderation.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, moderation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, moderation.ErrAlreadyInProgress), errors.Is(err, moderation.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, moderation.ErrValidation), errors.Is(err, moderation.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, moderation.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError 将服务层错误写为统一的错误响应
func HandleServiceError(c *gin.Context, err error) {
	status := StatusFor(err)

	var confirm *moderation.NeedsConfirmationError
	if errors.As(err, &confirm) {
		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: T(c, "error.needs_confirmation"),
			Detail:  err.Error(),
			Data: gin.H{
				"page_id":                 confirm.PageID,
				"conflicting_workflow_id": confirm.ConflictingWorkflowID,
			},
		})
		return
	}

	var key string
	switch status {
	case http.StatusForbidden:
		key = "error.forbidden"
	case http.StatusNotFound:
		key = "error.not_found"
	case http.StatusConflict:
		key = "error.conflict"
	case http.StatusBadRequest:
		key = "error.bad_request"
	case http.StatusUnprocessableEntity:
		key = "error.invalid_transition"
	default:
		key = "error.internal_error"
		GetLogger().WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	Error(c, status, T(c, key), err.Error())
}
