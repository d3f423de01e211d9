package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, st, nil, nil, logger), st
}

func TestVerificationLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// no profile yet: unverified, not an error
	status, err := svc.GetVerificationStatus(ctx, "d1")
	if err != nil {
		t.Fatalf("status without profile: %v", err)
	}
	if status != models.VerificationPending {
		t.Fatalf("status = %s, want PENDING_VERIFICATION", status)
	}

	p, err := svc.UpsertProfile(ctx, "d1", "Tel Aviv", "ten years of driving")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p.VerificationStatus != models.VerificationPending {
		t.Fatalf("fresh profile status = %s", p.VerificationStatus)
	}

	p, err = svc.VerifyDriver(ctx, "d1", true, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.VerificationStatus != models.VerificationVerified {
		t.Fatalf("status = %s, want VERIFIED", p.VerificationStatus)
	}

	// a decided profile cannot be decided again
	if _, err := svc.VerifyDriver(ctx, "d1", false, "changed my mind"); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("double decision: expected invalid transition, got %v", err)
	}
}

func TestRejectionAndResubmission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpsertProfile(ctx, "d1", "Haifa", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// rejection without a reason is refused
	if _, err := svc.VerifyDriver(ctx, "d1", false, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("reasonless rejection: expected validation, got %v", err)
	}

	p, err := svc.VerifyDriver(ctx, "d1", false, "license expired")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.VerificationStatus != models.VerificationRejected || p.RejectionReason != "license expired" {
		t.Fatalf("rejected profile = %+v", p)
	}

	// resubmitting resets to pending and clears the reason
	p, err = svc.UpsertProfile(ctx, "d1", "Haifa", "renewed license attached")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if p.VerificationStatus != models.VerificationPending {
		t.Fatalf("resubmitted status = %s, want PENDING_VERIFICATION", p.VerificationStatus)
	}
	if p.RejectionReason != "" {
		t.Fatalf("resubmission kept reason %q", p.RejectionReason)
	}
}

func TestUpsertProfile_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.UpsertProfile(context.Background(), "d1", "", "bio"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("missing city: expected validation, got %v", err)
	}
}

func TestVerifyDriver_NoProfile(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.VerifyDriver(context.Background(), "ghost", true, ""); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSuspendUser(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	st.CreateUser(ctx, &models.User{ID: "u1", Role: models.RoleCustomer})

	if err := svc.SuspendUser(ctx, "u1", true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	u, err := svc.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Suspended {
		t.Fatal("user not suspended")
	}

	if err := svc.SuspendUser(ctx, "u1", false); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	if err := svc.SuspendUser(ctx, "ghost", true); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("unknown user: expected not found, got %v", err)
	}
}

func TestListPendingDrivers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3"} {
		if _, err := svc.UpsertProfile(ctx, id, "Tel Aviv", ""); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if _, err := svc.VerifyDriver(ctx, "d2", true, ""); err != nil {
		t.Fatalf("approve d2: %v", err)
	}

	pending, err := svc.ListPendingDrivers(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, p := range pending {
		if p.UserID == "d2" {
			t.Fatal("verified driver still listed as pending")
		}
	}
}
