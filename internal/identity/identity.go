// Package identity is the verification gate: it exposes a user's role and,
// for drivers, a verification status. The engine only reads from it; the
// administrative transitions live on Service and are gated to the admin role
// at the HTTP layer.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/storage"
)

// Gate is the read-only dependency the engine consumes.
type Gate interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetVerificationStatus(ctx context.Context, driverID string) (models.VerificationStatus, error)
}

type Service struct {
	users    storage.UserStore
	profiles storage.ProfileStore
	cache    *redis.Client // optional; nil disables caching
	cacheTTL time.Duration
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewService(users storage.UserStore, profiles storage.ProfileStore, cache *redis.Client, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{users: users, profiles: profiles, cache: cache, cacheTTL: 5 * time.Minute, notifier: notifier, logger: logger}
}

func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "identity lookup failed")
	}
	return u, nil
}

// GetVerificationStatus resolves a driver's verification status, consulting
// the Redis cache first. A driver with no profile counts as unverified.
func (s *Service) GetVerificationStatus(ctx context.Context, driverID string) (models.VerificationStatus, error) {
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, verifyKey(driverID)).Result(); err == nil && v != "" {
			return models.VerificationStatus(v), nil
		}
	}
	p, err := s.profiles.GetProfile(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.VerificationPending, nil
	}
	if err != nil {
		return "", apperr.Unavailable(err, "verification lookup failed")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, verifyKey(driverID), string(p.VerificationStatus), s.cacheTTL).Err(); err != nil {
			s.logger.Debug("verification cache set failed", "driver_id", driverID, "error", err)
		}
	}
	return p.VerificationStatus, nil
}

func (s *Service) GetProfile(ctx context.Context, driverID string) (*models.DriverProfile, error) {
	p, err := s.profiles.GetProfile(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("driver profile %s not found", driverID)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "profile lookup failed")
	}
	return p, nil
}

// PublicProfile is the customer-facing view of a driver: reputation fields
// only, no verification internals.
type PublicProfile struct {
	UserID    string  `json:"user_id"`
	City      string  `json:"city"`
	Bio       string  `json:"bio,omitempty"`
	RatingAvg float64 `json:"rating_avg"`
	TotalJobs int     `json:"total_jobs"`
}

func (s *Service) GetPublicProfile(ctx context.Context, driverID string) (*PublicProfile, error) {
	p, err := s.GetProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return &PublicProfile{
		UserID:    p.UserID,
		City:      p.City,
		Bio:       p.Bio,
		RatingAvg: p.RatingAvg,
		TotalJobs: p.TotalJobs,
	}, nil
}

// UpsertProfile is the driver (re)submission path: it always resets the
// verification status to PENDING_VERIFICATION, which is what makes REJECTED
// re-enterable.
func (s *Service) UpsertProfile(ctx context.Context, driverID, city, bio string) (*models.DriverProfile, error) {
	if city == "" {
		return nil, apperr.Validation("city is required")
	}
	if err := s.profiles.UpsertProfile(ctx, &models.DriverProfile{UserID: driverID, City: city, Bio: bio}); err != nil {
		return nil, apperr.Unavailable(err, "profile upsert failed")
	}
	s.invalidate(ctx, driverID)
	return s.GetProfile(ctx, driverID)
}

// VerifyDriver applies the admin decision. Only PENDING_VERIFICATION profiles
// can be decided; a rejection carries a reason.
func (s *Service) VerifyDriver(ctx context.Context, driverID string, approve bool, reason string) (*models.DriverProfile, error) {
	p, err := s.GetProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if p.VerificationStatus != models.VerificationPending {
		return nil, apperr.InvalidTransition(string(p.VerificationStatus), "decision")
	}
	status := models.VerificationVerified
	if !approve {
		status = models.VerificationRejected
		if reason == "" {
			return nil, apperr.Validation("rejection requires a reason")
		}
	} else {
		reason = ""
	}
	if err := s.profiles.SetVerification(ctx, driverID, status, reason); err != nil {
		return nil, apperr.Unavailable(err, "verification update failed")
	}
	s.invalidate(ctx, driverID)

	evType := notify.EventDriverVerified
	data := map[string]string{"driver_id": driverID}
	if !approve {
		evType = notify.EventDriverRejected
		data["reason"] = reason
	}
	ev := notify.Event{Type: evType, Data: data}
	s.notifier.Emit(ev)
	s.notifier.PushToDriver(driverID, ev)

	return s.GetProfile(ctx, driverID)
}

func (s *Service) ListPendingDrivers(ctx context.Context) ([]models.DriverProfile, error) {
	out, err := s.profiles.ListProfilesByVerification(ctx, models.VerificationPending)
	if err != nil {
		return nil, apperr.Unavailable(err, "pending driver list failed")
	}
	return out, nil
}

func (s *Service) SuspendUser(ctx context.Context, userID string, suspend bool) error {
	err := s.users.SetSuspended(ctx, userID, suspend)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return apperr.Unavailable(err, "suspend update failed")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, driverID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, verifyKey(driverID)).Err(); err != nil {
		s.logger.Debug("verification cache invalidate failed", "driver_id", driverID, "error", err)
	}
}

func verifyKey(id string) string { return "driver:verify:" + id }
