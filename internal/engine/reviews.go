package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/storage"
)

type SubmitReviewInput struct {
	Rating     int    `json:"rating"`
	ReviewText string `json:"review_text,omitempty"`
}

// SubmitReview rates the selected driver of a completed request, at most once
// per request. The driver's average rating is recomputed as the mean over all
// their reviews, never maintained incrementally, so concurrent insert order
// cannot drift it.
func (e *Engine) SubmitReview(ctx context.Context, customerID, requestID string, in SubmitReviewInput) (*models.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
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
	if r.Status != models.StatusCompleted {
		return nil, apperr.InvalidState("only completed requests can be reviewed")
	}
	if r.SelectedDriverID == "" {
		return nil, apperr.InvalidState("request has no selected driver")
	}

	rv := &models.Review{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		CustomerID: customerID,
		DriverID:   r.SelectedDriverID,
		Rating:     in.Rating,
		ReviewText: in.ReviewText,
		CreatedAt:  now(),
	}
	// Uniqueness is enforced by the store, not a pre-check, closing the
	// check-then-act race on double submission.
	if err := e.store.InsertReview(ctx, rv); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.InvalidState("request already reviewed")
		}
		return nil, apperr.Unavailable(err, "review persist failed")
	}

	avg, _, err := e.store.AverageRatingForDriver(ctx, r.SelectedDriverID)
	if err != nil {
		return nil, apperr.Unavailable(err, "rating aggregation failed")
	}
	if err := e.store.SetRatingAvg(ctx, r.SelectedDriverID, avg); err != nil {
		return nil, apperr.Unavailable(err, "rating update failed")
	}
	return rv, nil
}

// GetRequestReview fetches the single review of a request; visible to the
// request's participants and admins.
func (e *Engine) GetRequestReview(ctx context.Context, actorID, requestID string) (*models.Review, error) {
	u, err := e.getActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleAdmin && r.CustomerID != actorID && r.SelectedDriverID != actorID {
		return nil, apperr.Forbidden("not a participant of this request")
	}
	rv, err := e.store.GetReviewByRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("request %s has no review", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "review lookup failed")
	}
	return rv, nil
}

func (e *Engine) ListDriverReviews(ctx context.Context, driverID string) ([]models.Review, error) {
	out, err := e.store.ListReviewsByDriver(ctx, driverID)
	if err != nil {
		return nil, apperr.Unavailable(err, "review list failed")
	}
	return out, nil
}
