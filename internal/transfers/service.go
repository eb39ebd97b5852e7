package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercato/internal/transfers/saga"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransfer marks a submission rejected before any saga exists.
var ErrInvalidTransfer = errors.New("invalid transfer")

// FeeScale is the number of decimal places a fee may carry. Fees are stored
// as NUMERIC(20, 2), so finer or larger values are refused at submission.
const FeeScale = 2

var maxFee = decimal.New(1, 18)

// SubmitCommand carries the inputs of a new transfer.
type SubmitCommand struct {
	PlayerID    string          `validate:"required"`
	FromOrgID   string          `validate:"required"`
	ToOrgID     string          `validate:"required,nefield=FromOrgID"`
	TransferFee decimal.Decimal `validate:"-"`
}

// Service is the submission and status façade over the coordinator.
type Service struct {
	store       saga.Store
	coordinator *Coordinator
	validate    *validator.Validate
	logger      zerolog.Logger
	newID       func() string
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(store saga.Store, coordinator *Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		coordinator: coordinator,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "transfer-service").Logger(),
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// Submit validates the command, persists a STARTED saga and emits its first
// step. It returns without waiting for the saga to finish.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (string, error) {
	cmd.PlayerID = strings.TrimSpace(cmd.PlayerID)
	cmd.FromOrgID = strings.TrimSpace(cmd.FromOrgID)
	cmd.ToOrgID = strings.TrimSpace(cmd.ToOrgID)

	if err := s.validateCommand(cmd); err != nil {
		return "", err
	}

	record := saga.New(s.newID(), cmd.PlayerID, cmd.FromOrgID, cmd.ToOrgID, cmd.TransferFee, s.now())
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create saga: %w", err)
	}

	s.logger.Info().
		Str("saga_id", record.SagaID).
		Str("player_id", record.PlayerID).
		Str("from_org_id", record.FromOrgID).
		Str("to_org_id", record.ToOrgID).
		Str("transfer_fee", record.TransferFee.String()).
		Msg("transfer saga started")

	if err := s.coordinator.Start(ctx, record); err != nil {
		return record.SagaID, err
	}
	return record.SagaID, nil
}

// Query returns the current record; saga.ErrNotFound when unknown.
func (s *Service) Query(ctx context.Context, sagaID string) (saga.Record, error) {
	sagaID = strings.TrimSpace(sagaID)
	if sagaID == "" {
		return saga.Record{}, saga.ErrNotFound
	}
	return s.store.Get(ctx, sagaID)
}

func (s *Service) validateCommand(cmd SubmitCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "nefield" {
				return fmt.Errorf("%w: fromOrgId and toOrgId must differ", ErrInvalidTransfer)
			}
			return fmt.Errorf("%w: %s is required", ErrInvalidTransfer, fieldName(fe.Field()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidTransfer, err)
	}
	fee := cmd.TransferFee
	if fee.IsNegative() {
		return fmt.Errorf("%w: transferFee must be >= 0", ErrInvalidTransfer)
	}
	if !fee.Equal(fee.Truncate(FeeScale)) {
		return fmt.Errorf("%w: transferFee allows at most %d decimal places", ErrInvalidTransfer, FeeScale)
	}
	if fee.GreaterThanOrEqual(maxFee) {
		return fmt.Errorf("%w: transferFee must be below %s", ErrInvalidTransfer, maxFee)
	}
	return nil
}

func fieldName(field string) string {
	switch field {
	case "PlayerID":
		return "playerId"
	case "FromOrgID":
		return "fromOrgId"
	case "ToOrgID":
		return "toOrgId"
	default:
		return field
	}
}
