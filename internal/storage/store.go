package storage

import (
	"context"
	"errors"

	"github.com/example/car-relay/internal/models"
)

// Sentinel errors shared by all store implementations. The engine maps these
// onto its own taxonomy; stores never import the error package themselves.
var (
	ErrNotFound      = errors.New("storage: not found")
	ErrRequestClosed = errors.New("storage: request not open for this operation")
	ErrDuplicate     = errors.New("storage: unique constraint violated")
	ErrBidSelected   = errors.New("storage: bid is selected and immutable")
)

// RequestStore holds service-request records and their status.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)

	// AdvanceStatus applies from->to only if the request is still in one of
	// the from statuses, and reports whether a row changed. The precondition
	// is re-evaluated at commit, not at read time.
	AdvanceStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error)

	ListRequestsByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error)
	ListRequestsByDriver(ctx context.Context, driverID string) ([]models.ServiceRequest, error)
	// ListOpenRequests returns OPEN/BIDDING requests with no selected driver,
	// newest first: the job queue shown to verified drivers.
	ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error)
	CountRequestsByStatus(ctx context.Context, statuses ...models.RequestStatus) (int, error)
}

// BidStore holds bids tied to a request, each owned by exactly one driver.
// The two multi-row operations (InsertBid, SelectBid) are atomic: their status
// checks and writes commit together or not at all.
type BidStore interface {
	// InsertBid creates the bid and advances the request OPEN->BIDDING in the
	// same transaction. Fails ErrNotFound (request absent), ErrRequestClosed
	// (request past BIDDING, e.g. a concurrent cancel won), or ErrDuplicate
	// (this driver already bid on this request).
	InsertBid(ctx context.Context, b *models.Bid) error

	GetBid(ctx context.Context, id string) (*models.Bid, error)

	// UpdateBid and DeleteBid refuse to touch a selected bid: the write is
	// conditional on is_selected still being false at commit, so a selection
	// landing after the caller's read cannot be mutated away. Both fail
	// ErrBidSelected in that case.
	UpdateBid(ctx context.Context, b *models.Bid) error
	DeleteBid(ctx context.Context, id string) error

	ListBidsForRequest(ctx context.Context, requestID string) ([]models.Bid, error)

	// SelectBid marks the bid selected and moves the request to
	// DRIVER_SELECTED with selected_driver_id set, in one transaction
	// conditioned on the request still being OPEN/BIDDING. Fails ErrNotFound
	// when the bid does not belong to the request (or was withdrawn) and
	// ErrRequestClosed when a concurrent selection or cancel won.
	SelectBid(ctx context.Context, requestID, bidID string) (*models.Bid, error)
}

// PaymentStore holds at most one payment per request.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, requestID string) (*models.Payment, error)
	// SetPaymentStatus moves from->to conditionally, reporting whether a row changed.
	SetPaymentStatus(ctx context.Context, requestID string, from, to models.PaymentStatus) (bool, error)
	MarkFailedByIntent(ctx context.Context, intentRef string) error
	SumCapturedDriverAmount(ctx context.Context, driverID string) (float64, error)
	SumCapturedCommission(ctx context.Context) (float64, error)
}

// ReviewStore enforces review-per-request uniqueness at the storage layer so
// the check-then-act race cannot slip a second review in.
type ReviewStore interface {
	InsertReview(ctx context.Context, rv *models.Review) error // ErrDuplicate on second review
	GetReviewByRequest(ctx context.Context, requestID string) (*models.Review, error)
	ListReviewsByDriver(ctx context.Context, driverID string) ([]models.Review, error)
	// AverageRatingForDriver recomputes the mean over all reviews; it is
	// never maintained incrementally.
	AverageRatingForDriver(ctx context.Context, driverID string) (float64, int, error)
}

// UserStore and ProfileStore back the identity service.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SetSuspended(ctx context.Context, id string, suspended bool) error
	ListUsers(ctx context.Context) ([]models.User, error)
	CountUsersByRole(ctx context.Context, role models.Role) (int, error)
}

type ProfileStore interface {
	// UpsertProfile creates or replaces the editable fields and resets the
	// verification status to PENDING_VERIFICATION (resubmission path).
	UpsertProfile(ctx context.Context, p *models.DriverProfile) error
	GetProfile(ctx context.Context, userID string) (*models.DriverProfile, error)
	SetVerification(ctx context.Context, userID string, status models.VerificationStatus, reason string) error
	SetRatingAvg(ctx context.Context, userID string, avg float64) error
	IncrementTotalJobs(ctx context.Context, userID string) error
	ListProfilesByVerification(ctx context.Context, status models.VerificationStatus) ([]models.DriverProfile, error)
	CountProfilesByVerification(ctx context.Context, status models.VerificationStatus) (int, error)
}

// Store is the full persistence surface wired at process start.
type Store interface {
	RequestStore
	BidStore
	PaymentStore
	ReviewStore
	UserStore
	ProfileStore
}
