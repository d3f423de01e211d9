package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/observability"
	"github.com/example/car-relay/internal/storage"
)

type CreateRequestInput struct {
	PickupAddress      string     `json:"pickup_address"`
	DestinationAddress string     `json:"destination_address"`
	ReturnAddress      string     `json:"return_address"`
	PickupDatetime     time.Time  `json:"pickup_datetime"`
	MaxReturnDatetime  *time.Time `json:"max_return_datetime,omitempty"`
	CarModel           string     `json:"car_model"`
	CarPlateNumber     string     `json:"car_plate_number"`
	Notes              string     `json:"notes,omitempty"`
}

func (in *CreateRequestInput) validate() error {
	for _, f := range []struct{ name, v string }{
		{"pickup_address", in.PickupAddress},
		{"destination_address", in.DestinationAddress},
		{"return_address", in.ReturnAddress},
		{"car_model", in.CarModel},
		{"car_plate_number", in.CarPlateNumber},
	} {
		if strings.TrimSpace(f.v) == "" {
			return apperr.Validation("%s is required", f.name)
		}
	}
	if in.PickupDatetime.IsZero() {
		return apperr.Validation("pickup_datetime is required")
	}
	if in.MaxReturnDatetime != nil && in.MaxReturnDatetime.Before(in.PickupDatetime) {
		return apperr.Validation("max_return_datetime must not precede pickup_datetime")
	}
	return nil
}

// CreateRequest opens a new service request owned by the customer. Input is
// validated before any state is touched.
func (e *Engine) CreateRequest(ctx context.Context, customerID string, in CreateRequestInput) (*models.ServiceRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := e.requireActor(ctx, customerID, models.RoleCustomer); err != nil {
		return nil, err
	}

	ts := now()
	r := &models.ServiceRequest{
		ID:                 uuid.NewString(),
		CustomerID:         customerID,
		PickupAddress:      strings.TrimSpace(in.PickupAddress),
		DestinationAddress: strings.TrimSpace(in.DestinationAddress),
		ReturnAddress:      strings.TrimSpace(in.ReturnAddress),
		PickupDatetime:     in.PickupDatetime,
		MaxReturnDatetime:  in.MaxReturnDatetime,
		CarModel:           strings.TrimSpace(in.CarModel),
		CarPlateNumber:     strings.TrimSpace(in.CarPlateNumber),
		Notes:              in.Notes,
		Status:             models.StatusOpen,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if err := e.store.CreateRequest(ctx, r); err != nil {
		return nil, apperr.Unavailable(err, "request persist failed")
	}
	observability.RequestsCreated.Inc()
	e.notifier.Emit(notify.Event{
		Type:      notify.EventRequestCreated,
		RequestID: r.ID,
		Data:      map[string]string{"customer_id": customerID, "car_model": r.CarModel},
	})
	return r, nil
}

// GetRequest applies per-role visibility: customers see their own requests,
// the selected driver sees the job, verified drivers see anything still open,
// admins see everything.
func (e *Engine) GetRequest(ctx context.Context, actorID, requestID string) (*models.ServiceRequest, error) {
	u, err := e.getActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch u.Role {
	case models.RoleAdmin:
		return r, nil
	case models.RoleCustomer:
		if r.CustomerID != actorID {
			return nil, apperr.Forbidden("not your request")
		}
		return r, nil
	case models.RoleDriver:
		if r.SelectedDriverID == actorID {
			return r, nil
		}
		if r.Status == models.StatusOpen || r.Status == models.StatusBidding {
			if err := e.requireVerifiedDriver(ctx, actorID); err != nil {
				return nil, err
			}
			return r, nil
		}
		return nil, apperr.Forbidden("request is not visible to you")
	default:
		return nil, apperr.Forbidden("unknown role %q", u.Role)
	}
}

func (e *Engine) ListMyRequests(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	if _, err := e.requireActor(ctx, customerID, models.RoleCustomer); err != nil {
		return nil, err
	}
	out, err := e.store.ListRequestsByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperr.Unavailable(err, "request list failed")
	}
	return out, nil
}

// ListOpenJobs is the driver-facing queue; it sits behind the verification
// gate.
func (e *Engine) ListOpenJobs(ctx context.Context, driverID string) ([]models.ServiceRequest, error) {
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	if err := e.requireVerifiedDriver(ctx, driverID); err != nil {
		return nil, err
	}
	out, err := e.store.ListOpenRequests(ctx)
	if err != nil {
		return nil, apperr.Unavailable(err, "job list failed")
	}
	return out, nil
}

func (e *Engine) ListMyJobs(ctx context.Context, driverID string) ([]models.ServiceRequest, error) {
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	out, err := e.store.ListRequestsByDriver(ctx, driverID)
	if err != nil {
		return nil, apperr.Unavailable(err, "job list failed")
	}
	return out, nil
}

// SelectDriver picks exactly one bid and locks in the driver. The bid flag
// and the request fields commit together or not at all; under concurrent
// selections exactly one caller wins and the loser gets InvalidTransition.
func (e *Engine) SelectDriver(ctx context.Context, customerID, requestID, bidID string) (*models.SelectionResult, error) {
	if _, err := e.requireActor(ctx, customerID, models.RoleCustomer); err != nil {
		return nil, err
	}
	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.CustomerID != customerID {
		return nil, apperr.Forbidden("not your request")
	}

	bid, err := e.store.SelectBid(ctx, requestID, bidID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("bid %s not found on request %s", bidID, requestID)
	}
	if errors.Is(err, storage.ErrRequestClosed) {
		cur, gerr := e.getRequest(ctx, requestID)
		if gerr != nil {
			return nil, gerr
		}
		observability.TransitionRejected.WithLabelValues(string(cur.Status), string(models.StatusDriverSelected)).Inc()
		return nil, apperr.InvalidTransition(string(cur.Status), string(models.StatusDriverSelected))
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "selection failed")
	}

	observability.DriversSelected.Inc()
	observability.Transitions.WithLabelValues(string(r.Status), string(models.StatusDriverSelected)).Inc()

	ev := notify.Event{
		Type:      notify.EventDriverSelected,
		RequestID: requestID,
		Data:      map[string]string{"driver_id": bid.DriverID},
	}
	e.notifier.Emit(ev)
	e.notifier.PushToDriver(bid.DriverID, ev)

	// Payment intent creation is fire-and-forget: the selection already
	// committed and must not be blocked or rolled back by the collaborator.
	if e.payments != nil {
		go func(driverID string, price float64) {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := e.payments.CreateIntentForSelection(pctx, requestID, customerID, driverID, price); err != nil {
				e.logger.Warn("payment intent creation failed", "request_id", requestID, "error", err)
			}
		}(bid.DriverID, bid.Price)
	}

	return &models.SelectionResult{DriverID: bid.DriverID, Price: bid.Price}, nil
}

// UpdateJobStatus is the selected driver's execution sub-lifecycle:
// DRIVER_SELECTED -> IN_PROGRESS -> COMPLETED.
func (e *Engine) UpdateJobStatus(ctx context.Context, driverID, requestID string, target models.RequestStatus) error {
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return err
	}
	var from models.RequestStatus
	switch target {
	case models.StatusInProgress:
		from = models.StatusDriverSelected
	case models.StatusCompleted:
		from = models.StatusInProgress
	default:
		return apperr.Validation("target status must be IN_PROGRESS or COMPLETED")
	}

	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if r.SelectedDriverID != driverID {
		return apperr.Forbidden("you are not the selected driver for this request")
	}
	return e.completeOrAdvance(ctx, requestID, from, target)
}

// CancelRequest is only legal while no driver is locked in.
func (e *Engine) CancelRequest(ctx context.Context, customerID, requestID string) error {
	if err := e.requireOwner(ctx, customerID, requestID); err != nil {
		return err
	}
	return e.advance(ctx, requestID,
		[]models.RequestStatus{models.StatusOpen, models.StatusBidding}, models.StatusCancelled)
}

// CompleteRequest is the customer-side finalize trigger; it shares the
// IN_PROGRESS -> COMPLETED edge with the driver's UpdateJobStatus.
func (e *Engine) CompleteRequest(ctx context.Context, customerID, requestID string) error {
	if err := e.requireOwner(ctx, customerID, requestID); err != nil {
		return err
	}
	return e.completeOrAdvance(ctx, requestID, models.StatusInProgress, models.StatusCompleted)
}

// completeOrAdvance applies from->to, but when to is COMPLETED and another
// trigger already completed the request, the second caller gets an idempotent
// success (first-writer-wins).
func (e *Engine) completeOrAdvance(ctx context.Context, requestID string, from, to models.RequestStatus) error {
	changed, err := e.store.AdvanceStatus(ctx, requestID, []models.RequestStatus{from}, to)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("request %s not found", requestID)
	}
	if err != nil {
		return apperr.Unavailable(err, "status update failed")
	}
	if changed {
		observability.Transitions.WithLabelValues(string(from), string(to)).Inc()
		e.notifier.Emit(notify.Event{
			Type:      notify.EventStatusChanged,
			RequestID: requestID,
			Data:      map[string]string{"status": string(to)},
		})
		return nil
	}
	cur, err := e.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if to == models.StatusCompleted && cur.Status == models.StatusCompleted {
		return nil
	}
	observability.TransitionRejected.WithLabelValues(string(cur.Status), string(to)).Inc()
	return apperr.InvalidTransition(string(cur.Status), string(to))
}

func (e *Engine) requireOwner(ctx context.Context, customerID, requestID string) error {
	if _, err := e.requireActor(ctx, customerID, models.RoleCustomer); err != nil {
		return err
	}
	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if r.CustomerID != customerID {
		return apperr.Forbidden("not your request")
	}
	return nil
}

// Stats is the admin dashboard's simple counts/sums.
type Stats struct {
	TotalUsers           int     `json:"total_users"`
	TotalDrivers         int     `json:"total_drivers"`
	PendingVerifications int     `json:"pending_verifications"`
	ActiveJobs           int     `json:"active_jobs"`
	CompletedJobs        int     `json:"completed_jobs"`
	TotalRevenue         float64 `json:"total_revenue"`
}

func (e *Engine) Stats(ctx context.Context, adminID string) (*Stats, error) {
	if _, err := e.requireActor(ctx, adminID, models.RoleAdmin); err != nil {
		return nil, err
	}
	var (
		st  Stats
		err error
	)
	if st.TotalUsers, err = countAllUsers(ctx, e.store); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	if st.TotalDrivers, err = e.store.CountUsersByRole(ctx, models.RoleDriver); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	if st.PendingVerifications, err = e.store.CountProfilesByVerification(ctx, models.VerificationPending); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	if st.ActiveJobs, err = e.store.CountRequestsByStatus(ctx, models.StatusDriverSelected, models.StatusInProgress); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	if st.CompletedJobs, err = e.store.CountRequestsByStatus(ctx, models.StatusCompleted); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	if st.TotalRevenue, err = e.store.SumCapturedCommission(ctx); err != nil {
		return nil, apperr.Unavailable(err, "stats query failed")
	}
	return &st, nil
}

func countAllUsers(ctx context.Context, users storage.UserStore) (int, error) {
	all, err := users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
