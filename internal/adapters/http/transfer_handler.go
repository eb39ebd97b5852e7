package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mercato/internal/transfers"
	"mercato/internal/transfers/saga"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransferService defines the behavior needed by the HTTP adapter.
type TransferService interface {
	Submit(ctx context.Context, cmd transfers.SubmitCommand) (string, error)
	Query(ctx context.Context, sagaID string) (saga.Record, error)
}

// identifier accepts ids sent either as JSON strings or numbers.
type identifier string

func (i *identifier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = identifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("identifier must be a string or a number")
	}
	*i = identifier(n.String())
	return nil
}

type submitTransferRequest struct {
	PlayerID    identifier       `json:"playerId"`
	FromOrgID   identifier       `json:"fromOrgId"`
	ToOrgID     identifier       `json:"toOrgId"`
	TransferFee *decimal.Decimal `json:"transferFee" binding:"required"`
}

type submitTransferResponse struct {
	SagaID  string `json:"sagaId"`
	Message string `json:"message"`
}

// TransferView is the status projection returned by GET /transfers/:sagaId.
type TransferView struct {
	SagaID       string          `json:"sagaId"`
	PlayerID     string          `json:"playerId"`
	FromOrgID    string          `json:"fromOrgId"`
	ToOrgID      string          `json:"toOrgId"`
	TransferFee  decimal.Decimal `json:"transferFee"`
	State        saga.State      `json:"state"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TransferHandler serves the transfer submission and status endpoints.
type TransferHandler struct {
	service TransferService
}

func NewTransferHandler(service TransferService) *TransferHandler {
	return &TransferHandler{service: service}
}

// Submit handles POST /transfers.
func (h *TransferHandler) Submit(c *gin.Context) {
	var req submitTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid transfer request: "+err.Error())
		return
	}

	sagaID, err := h.service.Submit(c.Request.Context(), transfers.SubmitCommand{
		PlayerID:    string(req.PlayerID),
		FromOrgID:   string(req.FromOrgID),
		ToOrgID:     string(req.ToOrgID),
		TransferFee: *req.TransferFee,
	})
	if err != nil {
		writeServiceError(c, sagaID, err)
		return
	}

	c.JSON(http.StatusAccepted, submitTransferResponse{
		SagaID:  sagaID,
		Message: "transfer started",
	})
}

// Get handles GET /transfers/:sagaId.
func (h *TransferHandler) Get(c *gin.Context) {
	rec, err := h.service.Query(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		writeServiceError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, TransferView{
		SagaID:       rec.SagaID,
		PlayerID:     rec.PlayerID,
		FromOrgID:    rec.FromOrgID,
		ToOrgID:      rec.ToOrgID,
		TransferFee:  rec.TransferFee,
		State:        rec.State,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}
