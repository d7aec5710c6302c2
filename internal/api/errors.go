// Package api serves an engine session over HTTP: queue and scan control,
// state snapshots, preview pictures and a websocket state stream.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// errorMapping pairs an engine sentinel with its HTTP status and code.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{eErrors.ErrHandleClosed, http.StatusServiceUnavailable, "session_closed"},
	{eErrors.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{eErrors.ErrTitleNotFound, http.StatusNotFound, "title_not_found"},
	{eErrors.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
	{eErrors.ErrPreviewOutOfRange, http.StatusNotFound, "preview_out_of_range"},
	{eErrors.ErrWorkObjectNotFound, http.StatusBadRequest, "unknown_work_object"},
	{eErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{eErrors.ErrNoReader, http.StatusUnprocessableEntity, "no_reader"},
	{eErrors.ErrDecodeFailed, http.StatusInternalServerError, "decode_failed"},
	{eErrors.ErrCancelled, http.StatusRequestTimeout, "cancelled"},
}

// statusFor returns the HTTP status and error code for err.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondWithError sends a structured error response and logs it at a
// severity matching the status.
func respondWithError(c *gin.Context, logger hclog.Logger, err error) {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	status, code := statusFor(err)
	resp := ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      code,
			Message:   err.Error(),
			Operation: eErrors.GetOperation(err),
			Context:   eErrors.GetDetails(err),
			RequestID: requestID,
		},
	}

	fields := []interface{}{
		"error_code", code,
		"path", c.Request.URL.Path,
		"error", err,
	}
	if requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	c.JSON(status, resp)
}

// respondWithValidationError sends a 400 for a malformed request.
func respondWithValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Error: ErrorDetails{
			Code:      "validation_error",
			Message:   message,
			RequestID: c.GetString("request_id"),
		},
	})
}
