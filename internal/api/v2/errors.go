package api

import (
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

const correlationKey = "correlation_id"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlationId"` // Unique identifier for tracking this error
	// ScanID is set when a pipeline failure left a scan in requires_attention.
	ScanID string `json:"scanId,omitempty"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := http.StatusText(code)
	if errorStr == "" && err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a unique identifier for error tracking using cryptographic randomness
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// StatusForError maps an error category to its HTTP status. This is the only
// place the mapping lives.
func StatusForError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryLimit:
		return http.StatusRequestEntityTooLarge
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryForbidden:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryImageDecode:
		return http.StatusUnprocessableEntity
	case errors.CategoryInference, errors.CategoryModelInit, errors.CategoryModelLoad, errors.CategoryBroadcast:
		return http.StatusServiceUnavailable
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal details of server-side failures.
func publicMessage(err error, code int) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprint(he.Message)
	}
	if code == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

// HandleError renders err with the status its category maps to.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	return c.writeError(ctx, err, "")
}

// HandlePipelineError renders a pipeline failure that persisted scanID as failed.
func (c *Controller) HandlePipelineError(ctx echo.Context, err error, scanID string) error {
	return c.writeError(ctx, err, scanID)
}

func (c *Controller) writeError(ctx echo.Context, err error, scanID string) error {
	code := StatusForError(err)
	resp := NewErrorResponse(err, publicMessage(err, code), code)
	resp.ScanID = scanID
	if cid, ok := ctx.Get(correlationKey).(string); ok && cid != "" {
		resp.CorrelationID = cid
	} else {
		ctx.Set(correlationKey, resp.CorrelationID)
	}

	category := string(errors.CategoryOf(err))
	fields := []logger.Field{
		logger.CorrelationID(resp.CorrelationID),
		logger.Int("code", code),
		logger.String("category", category),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.Error(err),
	}
	if scanID != "" {
		fields = append(fields, logger.ScanID(scanID))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("api error", fields...)
	} else {
		c.logger.Debug("api error", fields...)
	}
	if c.metrics != nil {
		if category == "" {
			category = "http"
		}
		c.metrics.HTTP.RecordError(ctx.Path(), category)
	}

	if ctx.Response().Committed {
		return nil
	}
	return ctx.JSON(code, resp)
}

// HTTPErrorHandler renders errors returned outside the controller's handlers,
// such as unmatched routes and body limit rejections, in the same shape.
func (c *Controller) HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	if werr := c.writeError(ctx, err, ""); werr != nil {
		c.logger.Warn("failed to write error response", logger.Error(werr))
	}
}
