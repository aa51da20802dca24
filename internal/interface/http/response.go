package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyhub/study-companion/internal/domain/shared"
)

const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeUnavailable  = "unavailable"
	codeRateLimited  = "rate_limited"
	codeInternal     = "internal"
)

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// respondError maps a domain error onto a status code and the envelope.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := classify(err)

	message := http.StatusText(status)
	var de *shared.DomainError
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		message = de.Message
	}
	writeError(c, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, codeBadRequest
	case shared.IsUnauthorized(err):
		return http.StatusUnauthorized, codeUnauthorized
	case shared.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case shared.IsAlreadyExists(err), errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, codeConflict
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
