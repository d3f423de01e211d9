package payments

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/observability"
	"github.com/example/car-relay/internal/storage"
)

// Split is the commission computation, fixed once at intent-creation time.
// Amounts are integer agorot so the split never loses fractions.
type Split struct {
	AmountMinor     int64
	CommissionMinor int64
	DriverMinor     int64
}

func ComputeSplit(price float64, commissionPercent float64) Split {
	amount := int64(math.Round(price * 100))
	commission := int64(math.Round(float64(amount) * commissionPercent / 100))
	return Split{
		AmountMinor:     amount,
		CommissionMinor: commission,
		DriverMinor:     amount - commission,
	}
}

type Service struct {
	gateway           Gateway
	payments          storage.PaymentStore
	requests          storage.RequestStore
	profiles          storage.ProfileStore
	commissionPercent float64
	currency          string
	logger            *slog.Logger
}

func NewService(gateway Gateway, payments storage.PaymentStore, requests storage.RequestStore,
	profiles storage.ProfileStore, commissionPercent float64, currency string, logger *slog.Logger) *Service {
	return &Service{
		gateway:           gateway,
		payments:          payments,
		requests:          requests,
		profiles:          profiles,
		commissionPercent: commissionPercent,
		currency:          currency,
		logger:            logger,
	}
}

// CreateIntentForSelection is invoked after a driver is selected. It is
// best-effort from the engine's perspective: the selection has already
// committed, so failures here are logged and retried by the customer hitting
// the intent endpoint again, never rolled back into the request lifecycle.
func (s *Service) CreateIntentForSelection(ctx context.Context, requestID, customerID, driverID string, price float64) (*models.Payment, error) {
	if existing, err := s.payments.GetPayment(ctx, requestID); err == nil {
		return existing, nil
	}

	split := ComputeSplit(price, s.commissionPercent)
	ref, err := s.gateway.Hold(ctx, split.AmountMinor, s.currency, map[string]string{
		"request_id":  requestID,
		"customer_id": customerID,
		"driver_id":   driverID,
	})
	if err != nil {
		return nil, apperr.Unavailable(err, "payment intent creation failed")
	}

	now := time.Now()
	pm := &models.Payment{
		RequestID:        requestID,
		IntentRef:        ref,
		Amount:           price,
		CommissionAmount: float64(split.CommissionMinor) / 100,
		DriverAmount:     float64(split.DriverMinor) / 100,
		Status:           models.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.payments.CreatePayment(ctx, pm); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// a concurrent intent creation won; release our hold
			if cerr := s.gateway.Cancel(ctx, ref); cerr != nil {
				s.logger.Warn("orphan intent cancel failed", "intent_ref", ref, "error", cerr)
			}
			return s.payments.GetPayment(ctx, requestID)
		}
		return nil, apperr.Unavailable(err, "payment persist failed")
	}
	return pm, nil
}

// Capture is the one synchronous payment call: only the owning customer may
// capture, only once, and its failure surfaces to the caller. A successful
// capture increments the driver's completed-job counter.
func (s *Service) Capture(ctx context.Context, customerID, requestID string) (*models.Payment, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("request %s not found", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "request lookup failed")
	}
	if req.CustomerID != customerID {
		return nil, apperr.Forbidden("only the request owner may capture the payment")
	}

	pm, err := s.payments.GetPayment(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("no payment for request %s", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "payment lookup failed")
	}
	if pm.Status == models.PaymentCaptured {
		return nil, apperr.InvalidState("payment already captured")
	}

	if err := s.gateway.Capture(ctx, pm.IntentRef); err != nil {
		return nil, apperr.Unavailable(err, "payment capture failed")
	}
	if _, err := s.payments.SetPaymentStatus(ctx, requestID, pm.Status, models.PaymentCaptured); err != nil {
		return nil, apperr.Unavailable(err, "payment status update failed")
	}
	observability.PaymentsCaptured.Inc()

	if req.SelectedDriverID != "" {
		if err := s.profiles.IncrementTotalJobs(ctx, req.SelectedDriverID); err != nil {
			// stats only; the capture itself already succeeded
			s.logger.Warn("total_jobs increment failed", "driver_id", req.SelectedDriverID, "error", err)
		}
	}
	return s.payments.GetPayment(ctx, requestID)
}

// HandleIntentFailed records a gateway-reported failure (webhook). The
// request's status is deliberately left untouched; recovery is an admin
// action.
func (s *Service) HandleIntentFailed(ctx context.Context, intentRef string) error {
	err := s.payments.MarkFailedByIntent(ctx, intentRef)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("no payment for intent %s", intentRef)
	}
	if err != nil {
		return apperr.Unavailable(err, "payment failure update failed")
	}
	return nil
}

func (s *Service) GetForRequest(ctx context.Context, requestID string) (*models.Payment, error) {
	pm, err := s.payments.GetPayment(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("no payment for request %s", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "payment lookup failed")
	}
	return pm, nil
}

// Earnings sums the captured driver amounts for a driver.
func (s *Service) Earnings(ctx context.Context, driverID string) (float64, error) {
	total, err := s.payments.SumCapturedDriverAmount(ctx, driverID)
	if err != nil {
		return 0, apperr.Unavailable(err, "earnings query failed")
	}
	return total, nil
}
