package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/observability"
	"github.com/example/car-relay/internal/storage"
)

const maxBidMessageLen = 500

type SubmitBidInput struct {
	RequestID           string    `json:"request_id"`
	Price               float64   `json:"price"`
	EstimatedReturnTime time.Time `json:"estimated_return_time"`
	Message             string    `json:"message,omitempty"`
}

// SubmitBid places a verified driver's offer on an open request. The first
// bid advances OPEN -> BIDDING; a second submit while already BIDDING is a
// no-op on the status.
func (e *Engine) SubmitBid(ctx context.Context, driverID string, in SubmitBidInput) (*models.Bid, error) {
	if in.Price <= 0 {
		return nil, apperr.Validation("price must be positive")
	}
	if in.EstimatedReturnTime.IsZero() {
		return nil, apperr.Validation("estimated_return_time is required")
	}
	if len(in.Message) > maxBidMessageLen {
		return nil, apperr.Validation("message exceeds %d characters", maxBidMessageLen)
	}
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	if err := e.requireVerifiedDriver(ctx, driverID); err != nil {
		return nil, err
	}

	ts := now()
	b := &models.Bid{
		ID:                  uuid.NewString(),
		RequestID:           in.RequestID,
		DriverID:            driverID,
		Price:               in.Price,
		EstimatedReturnTime: in.EstimatedReturnTime,
		Message:             in.Message,
		CreatedAt:           ts,
		UpdatedAt:           ts,
	}
	err := e.store.InsertBid(ctx, b)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.NotFound("request %s not found", in.RequestID)
	case errors.Is(err, storage.ErrRequestClosed):
		cur, gerr := e.getRequest(ctx, in.RequestID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, apperr.InvalidTransition(string(cur.Status), string(models.StatusBidding))
	case errors.Is(err, storage.ErrDuplicate):
		return nil, apperr.Validation("you already have a bid on this request")
	case err != nil:
		return nil, apperr.Unavailable(err, "bid persist failed")
	}

	observability.BidsSubmitted.Inc()
	e.notifier.Emit(notify.Event{
		Type:      notify.EventBidSubmitted,
		RequestID: in.RequestID,
		Data:      map[string]string{"driver_id": driverID, "bid_id": b.ID},
	})
	return b, nil
}

type UpdateBidInput struct {
	Price               *float64   `json:"price,omitempty"`
	EstimatedReturnTime *time.Time `json:"estimated_return_time,omitempty"`
	Message             *string    `json:"message,omitempty"`
}

// UpdateBid lets the owning driver adjust an unselected bid.
func (e *Engine) UpdateBid(ctx context.Context, driverID, bidID string, in UpdateBidInput) (*models.Bid, error) {
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	b, err := e.getBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if b.DriverID != driverID {
		return nil, apperr.Forbidden("not your bid")
	}
	if b.IsSelected {
		return nil, apperr.InvalidState("selected bids are immutable")
	}
	if in.Price != nil {
		if *in.Price <= 0 {
			return nil, apperr.Validation("price must be positive")
		}
		b.Price = *in.Price
	}
	if in.EstimatedReturnTime != nil {
		if in.EstimatedReturnTime.IsZero() {
			return nil, apperr.Validation("estimated_return_time must be a valid time")
		}
		b.EstimatedReturnTime = *in.EstimatedReturnTime
	}
	if in.Message != nil {
		if len(*in.Message) > maxBidMessageLen {
			return nil, apperr.Validation("message exceeds %d characters", maxBidMessageLen)
		}
		b.Message = *in.Message
	}
	// The store re-checks is_selected at commit; the read above only gives
	// the caller a friendly early answer.
	if err := e.store.UpdateBid(ctx, b); err != nil {
		switch {
		case errors.Is(err, storage.ErrBidSelected):
			return nil, apperr.InvalidState("selected bids are immutable")
		case errors.Is(err, storage.ErrNotFound):
			return nil, apperr.NotFound("bid %s not found", bidID)
		}
		return nil, apperr.Unavailable(err, "bid update failed")
	}
	return e.getBid(ctx, bidID)
}

// WithdrawBid deletes an unselected bid. The request stays in BIDDING even if
// this was the last bid.
func (e *Engine) WithdrawBid(ctx context.Context, driverID, bidID string) error {
	if _, err := e.requireActor(ctx, driverID, models.RoleDriver); err != nil {
		return err
	}
	b, err := e.getBid(ctx, bidID)
	if err != nil {
		return err
	}
	if b.DriverID != driverID {
		return apperr.Forbidden("not your bid")
	}
	if b.IsSelected {
		return apperr.InvalidState("selected bids cannot be withdrawn")
	}
	// The delete is conditional on the bid still being unselected: a
	// selection committing after the read above makes it fail, never
	// removing the row a Payment or Review hangs off.
	if err := e.store.DeleteBid(ctx, bidID); err != nil {
		switch {
		case errors.Is(err, storage.ErrBidSelected):
			return apperr.InvalidState("selected bids cannot be withdrawn")
		case errors.Is(err, storage.ErrNotFound):
			return apperr.NotFound("bid %s not found", bidID)
		}
		return apperr.Unavailable(err, "bid delete failed")
	}
	return nil
}

// ListBidsForRequest shows the owning customer (or an admin) all offers,
// cheapest first.
func (e *Engine) ListBidsForRequest(ctx context.Context, actorID, requestID string) ([]models.Bid, error) {
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
	case models.RoleCustomer:
		if r.CustomerID != actorID {
			return nil, apperr.Forbidden("not your request")
		}
	default:
		return nil, apperr.Forbidden("bids are visible to the request owner only")
	}
	out, err := e.store.ListBidsForRequest(ctx, requestID)
	if err != nil {
		return nil, apperr.Unavailable(err, "bid list failed")
	}
	return out, nil
}

func (e *Engine) getBid(ctx context.Context, bidID string) (*models.Bid, error) {
	b, err := e.store.GetBid(ctx, bidID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("bid %s not found", bidID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "bid lookup failed")
	}
	return b, nil
}
