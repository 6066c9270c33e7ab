package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/internal/service"
	"github.com/septivank/utility-billing-worker/internal/validator"
)

// RequestIDKey is the header carrying the caller's request id
const RequestIDKey = "X-Request-ID"

// Error codes
const (
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	ErrCodeNotFound   = "ERR_NOT_FOUND"
	ErrCodeConflict   = "ERR_CONFLICT"
	ErrCodeValidation = "ERR_VALIDATION"
	ErrCodeInternal   = "ERR_INTERNAL"
)

// Response is the envelope of every API response
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func getRequestID(c *gin.Context) string {
	return c.GetHeader(RequestIDKey)
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data, RequestID: getRequestID(c)})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		RequestID: getRequestID(c),
	})
}

// statusFor maps domain errors to an HTTP status and error code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, repository.ErrDuplicateReading),
		errors.Is(err, service.ErrAlreadyPaid):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, validator.ErrInvalidReading),
		errors.Is(err, validator.ErrInvalidArgument),
		errors.Is(err, service.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
