// Package engine is the bidding and selection core: the only component that
// mutates requests and bids. It enforces the lifecycle
// OPEN -> BIDDING -> DRIVER_SELECTED -> IN_PROGRESS -> COMPLETED, with
// CANCELLED reachable from OPEN/BIDDING only.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/identity"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/observability"
	"github.com/example/car-relay/internal/payments"
	"github.com/example/car-relay/internal/storage"
)

type Store interface {
	storage.RequestStore
	storage.BidStore
	storage.ReviewStore
	storage.ProfileStore
	storage.UserStore
	storage.PaymentStore
}

type Engine struct {
	store    Store
	gate     identity.Gate
	payments *payments.Service // optional; nil skips intent creation
	notifier notify.Notifier
	logger   *slog.Logger
}

func New(store Store, gate identity.Gate, pay *payments.Service, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{store: store, gate: gate, payments: pay, notifier: notifier, logger: logger}
}

// getActor resolves the acting user. Unknown and suspended actors read as
// Forbidden, never NotFound, so probing cannot distinguish the two.
func (e *Engine) getActor(ctx context.Context, userID string) (*models.User, error) {
	u, err := e.gate.GetUser(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Forbidden("unknown actor")
		}
		return nil, err
	}
	if u.Suspended {
		return nil, apperr.Forbidden("account suspended")
	}
	return u, nil
}

// requireActor additionally dispatches on the closed role set.
func (e *Engine) requireActor(ctx context.Context, userID string, role models.Role) (*models.User, error) {
	u, err := e.getActor(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch u.Role {
	case models.RoleCustomer, models.RoleDriver, models.RoleAdmin:
		if u.Role != role {
			return nil, apperr.Forbidden("operation requires the %s role", role)
		}
	default:
		return nil, apperr.Forbidden("unknown role %q", u.Role)
	}
	return u, nil
}

// requireVerifiedDriver is the verification gate: drivers see the job queue
// and place bids only once an admin has verified them.
func (e *Engine) requireVerifiedDriver(ctx context.Context, driverID string) error {
	status, err := e.gate.GetVerificationStatus(ctx, driverID)
	if err != nil {
		return err
	}
	if status != models.VerificationVerified {
		return apperr.NotVerified("driver is not verified (status %s)", status)
	}
	return nil
}

func (e *Engine) getRequest(ctx context.Context, requestID string) (*models.ServiceRequest, error) {
	r, err := e.store.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("request %s not found", requestID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "request lookup failed")
	}
	return r, nil
}

// advance applies a conditional transition and records it. When the
// precondition fails it re-reads the request to name the current status in
// the error.
func (e *Engine) advance(ctx context.Context, requestID string, from []models.RequestStatus, to models.RequestStatus) error {
	changed, err := e.store.AdvanceStatus(ctx, requestID, from, to)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("request %s not found", requestID)
	}
	if err != nil {
		return apperr.Unavailable(err, "status update failed")
	}
	if !changed {
		r, err := e.getRequest(ctx, requestID)
		if err != nil {
			return err
		}
		observability.TransitionRejected.WithLabelValues(string(r.Status), string(to)).Inc()
		return apperr.InvalidTransition(string(r.Status), string(to))
	}
	observability.Transitions.WithLabelValues(transitionFrom(from), string(to)).Inc()
	e.notifier.Emit(notify.Event{
		Type:      notify.EventStatusChanged,
		RequestID: requestID,
		Data:      map[string]string{"status": string(to)},
	})
	return nil
}

func transitionFrom(from []models.RequestStatus) string {
	if len(from) == 1 {
		return string(from[0])
	}
	return "ANY"
}

func now() time.Time { return time.Now() }
