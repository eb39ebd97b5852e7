package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mercato/internal/transfers"
	"mercato/internal/transfers/saga"

	"github.com/shopspring/decimal"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type SubmitTransferRequest struct {
	PlayerID    string `json:"playerId"`
	FromOrgID   string `json:"fromOrgId"`
	ToOrgID     string `json:"toOrgId"`
	TransferFee string `json:"transferFee"`
}

type SubmitTransferResponse struct {
	SagaID  string `json:"sagaId"`
	Message string `json:"message"`
}

type GetTransferRequest struct {
	SagaID string `json:"sagaId"`
}

// Transfer is the status projection of a saga.
type Transfer struct {
	SagaID       string                 `json:"sagaId"`
	PlayerID     string                 `json:"playerId"`
	FromOrgID    string                 `json:"fromOrgId"`
	ToOrgID      string                 `json:"toOrgId"`
	TransferFee  string                 `json:"transferFee"`
	State        string                 `json:"state"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CreatedAt    *timestamppb.Timestamp `json:"createdAt"`
	UpdatedAt    *timestamppb.Timestamp `json:"updatedAt"`
}

// TransferService defines the behavior needed by the gRPC adapter.
type TransferService interface {
	Submit(ctx context.Context, cmd transfers.SubmitCommand) (string, error)
	Query(ctx context.Context, sagaID string) (saga.Record, error)
}

// TransferServer adapts TransferService to gRPC.
type TransferServer struct {
	service TransferService
}

// NewTransferServer constructs a TransferServer.
func NewTransferServer(svc TransferService) *TransferServer {
	return &TransferServer{service: svc}
}

// SubmitTransfer starts a saga and returns its id without waiting for it.
func (s *TransferServer) SubmitTransfer(ctx context.Context, req *SubmitTransferRequest) (*SubmitTransferResponse, error) {
	fee, err := parseFee(req.TransferFee)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	sagaID, err := s.service.Submit(ctx, transfers.SubmitCommand{
		PlayerID:    req.PlayerID,
		FromOrgID:   req.FromOrgID,
		ToOrgID:     req.ToOrgID,
		TransferFee: fee,
	})
	if err != nil {
		return nil, submitError(err, sagaID)
	}

	return &SubmitTransferResponse{
		SagaID:  sagaID,
		Message: "transfer started",
	}, nil
}

// GetTransfer returns the current saga projection.
func (s *TransferServer) GetTransfer(ctx context.Context, req *GetTransferRequest) (*Transfer, error) {
	if strings.TrimSpace(req.SagaID) == "" {
		return nil, status.Error(codes.InvalidArgument, "sagaId is required")
	}
	rec, err := s.service.Query(ctx, req.SagaID)
	if err != nil {
		return nil, mapTransferError(err)
	}
	return toTransfer(rec), nil
}

func toTransfer(rec saga.Record) *Transfer {
	return &Transfer{
		SagaID:       rec.SagaID,
		PlayerID:     rec.PlayerID,
		FromOrgID:    rec.FromOrgID,
		ToOrgID:      rec.ToOrgID,
		TransferFee:  rec.TransferFee.String(),
		State:        string(rec.State),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    timestamppb.New(rec.CreatedAt),
		UpdatedAt:    timestamppb.New(rec.UpdatedAt),
	}
}

func parseFee(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, errors.New("transferFee is required")
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("transferFee: %w", err)
	}
	return fee, nil
}

// submitError keeps the saga id on the status when the saga was persisted
// but its first request could not be dispatched, so the caller can poll it.
func submitError(err error, sagaID string) error {
	mapped := mapTransferError(err)
	if sagaID == "" {
		return mapped
	}
	st := status.Convert(mapped)
	withID, derr := status.New(st.Code(), fmt.Sprintf("%s (sagaId %s)", st.Message(), sagaID)).
		WithDetails(&errdetails.ErrorInfo{
			Reason:   "SAGA_NOT_DISPATCHED",
			Domain:   serviceName,
			Metadata: map[string]string{"sagaId": sagaID},
		})
	if derr != nil {
		return mapped
	}
	return withID.Err()
}

// SagaIDFromError extracts the saga id attached by SubmitTransfer to a
// failed call, if any.
func SagaIDFromError(err error) (string, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return "", false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetMetadata()["sagaId"] != "" {
			return info.GetMetadata()["sagaId"], true
		}
	}
	return "", false
}

func mapTransferError(err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, transfers.ErrInvalidTransfer) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if errors.Is(err, saga.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, transfers.ErrCircuitOpen) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
