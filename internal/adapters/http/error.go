package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"mercato/internal/transfers"
	"mercato/internal/transfers/saga"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the envelope of every non-2xx reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	SagaID  string `json:"sagaId,omitempty"`
}

// WriteError writes the error envelope and aborts the chain.
func WriteError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

func writeServiceError(c *gin.Context, sagaID string, err error) {
	statusCode, code := mapTransferError(err)
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: err.Error(), SagaID: sagaID},
	})
}

func mapTransferError(err error) (int, string) {
	switch {
	case errors.Is(err, transfers.ErrInvalidTransfer):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, saga.ErrNotFound):
		return http.StatusNotFound, "TRANSFER_NOT_FOUND"
	case errors.Is(err, transfers.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "DISPATCH_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
