package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/car-relay/internal/models"
)

func seedRequest(t *testing.T, m *MemoryStore, id string, status models.RequestStatus) {
	t.Helper()
	if err := m.CreateRequest(context.Background(), &models.ServiceRequest{
		ID:         id,
		CustomerID: "c1",
		Status:     status,
		CreatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("seed request %s: %v", id, err)
	}
}

func TestAdvanceStatus_Conditional(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)

	changed, err := m.AdvanceStatus(ctx, "r1", []models.RequestStatus{models.StatusOpen, models.StatusBidding}, models.StatusCancelled)
	if err != nil || !changed {
		t.Fatalf("advance from OPEN: changed=%v err=%v", changed, err)
	}

	// precondition no longer holds: reports false, not an error
	changed, err = m.AdvanceStatus(ctx, "r1", []models.RequestStatus{models.StatusOpen}, models.StatusBidding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("advance succeeded against a failed precondition")
	}

	if _, err := m.AdvanceStatus(ctx, "ghost", []models.RequestStatus{models.StatusOpen}, models.StatusBidding); err != ErrNotFound {
		t.Fatalf("missing request: expected ErrNotFound, got %v", err)
	}
}

func TestInsertBid_AdvancesAndGuards(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)

	if err := m.InsertBid(ctx, &models.Bid{ID: "b1", RequestID: "r1", DriverID: "d1", Price: 100}); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	r, _ := m.GetRequest(ctx, "r1")
	if r.Status != models.StatusBidding {
		t.Fatalf("after first bid status = %s, want BIDDING", r.Status)
	}

	// same driver again
	if err := m.InsertBid(ctx, &models.Bid{ID: "b2", RequestID: "r1", DriverID: "d1", Price: 90}); err != ErrDuplicate {
		t.Fatalf("duplicate driver bid: expected ErrDuplicate, got %v", err)
	}

	// another driver while BIDDING is fine
	if err := m.InsertBid(ctx, &models.Bid{ID: "b3", RequestID: "r1", DriverID: "d2", Price: 80}); err != nil {
		t.Fatalf("second driver bid: %v", err)
	}

	// closed request
	seedRequest(t, m, "r2", models.StatusCancelled)
	if err := m.InsertBid(ctx, &models.Bid{ID: "b4", RequestID: "r2", DriverID: "d1", Price: 80}); err != ErrRequestClosed {
		t.Fatalf("bid on cancelled: expected ErrRequestClosed, got %v", err)
	}

	if err := m.InsertBid(ctx, &models.Bid{ID: "b5", RequestID: "ghost", DriverID: "d1", Price: 80}); err != ErrNotFound {
		t.Fatalf("bid on missing request: expected ErrNotFound, got %v", err)
	}
}

func TestSelectBid_Atomicity(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)
	m.InsertBid(ctx, &models.Bid{ID: "b1", RequestID: "r1", DriverID: "d1", Price: 100})
	m.InsertBid(ctx, &models.Bid{ID: "b2", RequestID: "r1", DriverID: "d2", Price: 90})

	b, err := m.SelectBid(ctx, "r1", "b2")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !b.IsSelected {
		t.Fatal("returned bid not flagged selected")
	}
	r, _ := m.GetRequest(ctx, "r1")
	if r.Status != models.StatusDriverSelected || r.SelectedDriverID != "d2" {
		t.Fatalf("request after select: status=%s selected=%s", r.Status, r.SelectedDriverID)
	}

	// the request is closed now; a second selection loses
	if _, err := m.SelectBid(ctx, "r1", "b1"); err != ErrRequestClosed {
		t.Fatalf("second select: expected ErrRequestClosed, got %v", err)
	}

	// bid belonging to another request
	seedRequest(t, m, "r2", models.StatusOpen)
	if _, err := m.SelectBid(ctx, "r2", "b1"); err != ErrNotFound {
		t.Fatalf("foreign bid: expected ErrNotFound, got %v", err)
	}
}

func TestSelectBid_ConcurrentSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)
	bidIDs := []string{"b1", "b2", "b3", "b4"}
	for i, id := range bidIDs {
		m.InsertBid(ctx, &models.Bid{ID: id, RequestID: "r1", DriverID: "d" + id, Price: float64(100 + i)})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(bidIDs))
	for i, id := range bidIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = m.SelectBid(ctx, "r1", id)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if err != ErrRequestClosed {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestSelectedBid_Immutable(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)
	m.InsertBid(ctx, &models.Bid{ID: "b1", RequestID: "r1", DriverID: "d1", Price: 100})
	if _, err := m.SelectBid(ctx, "r1", "b1"); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := m.DeleteBid(ctx, "b1"); err != ErrBidSelected {
		t.Fatalf("delete selected: expected ErrBidSelected, got %v", err)
	}
	if _, err := m.GetBid(ctx, "b1"); err != nil {
		t.Fatalf("selected bid row is gone: %v", err)
	}

	if err := m.UpdateBid(ctx, &models.Bid{ID: "b1", Price: 1}); err != ErrBidSelected {
		t.Fatalf("update selected: expected ErrBidSelected, got %v", err)
	}
	b, _ := m.GetBid(ctx, "b1")
	if b.Price != 100 {
		t.Fatalf("selected bid price mutated to %v", b.Price)
	}
}

func TestListOpenRequests_ExcludesClosed(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "open", models.StatusOpen)
	seedRequest(t, m, "bidding", models.StatusBidding)
	seedRequest(t, m, "cancelled", models.StatusCancelled)
	seedRequest(t, m, "done", models.StatusCompleted)

	out, err := m.ListOpenRequests(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("open requests = %d, want 2", len(out))
	}
	for _, r := range out {
		if r.Status != models.StatusOpen && r.Status != models.StatusBidding {
			t.Fatalf("closed request %s leaked into the queue", r.ID)
		}
	}
}

func TestListBidsForRequest_CheapestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusOpen)
	m.InsertBid(ctx, &models.Bid{ID: "b1", RequestID: "r1", DriverID: "d1", Price: 300})
	m.InsertBid(ctx, &models.Bid{ID: "b2", RequestID: "r1", DriverID: "d2", Price: 100})
	m.InsertBid(ctx, &models.Bid{ID: "b3", RequestID: "r1", DriverID: "d3", Price: 200})

	out, _ := m.ListBidsForRequest(ctx, "r1")
	if len(out) != 3 {
		t.Fatalf("bids = %d, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Price < out[i-1].Price {
			t.Fatalf("bids not ordered by price: %v then %v", out[i-1].Price, out[i].Price)
		}
	}
}

func TestReviewUniqueness_Concurrent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.InsertReview(ctx, &models.Review{
				ID: "rv", RequestID: "r1", CustomerID: "c1", DriverID: "d1", Rating: 5,
			})
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
		} else if err != ErrDuplicate {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
}

func TestAverageRatingForDriver(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for i, rating := range []int{5, 3, 4} {
		m.InsertReview(ctx, &models.Review{
			ID: "rv", RequestID: string(rune('a' + i)), DriverID: "d1", Rating: rating,
		})
	}
	avg, n, err := m.AverageRatingForDriver(ctx, "d1")
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if n != 3 || avg != 4.0 {
		t.Fatalf("avg=%v n=%d, want 4.0 over 3", avg, n)
	}

	avg, n, _ = m.AverageRatingForDriver(ctx, "nobody")
	if n != 0 || avg != 0 {
		t.Fatalf("no reviews: avg=%v n=%d", avg, n)
	}
}

func TestPaymentStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRequest(t, m, "r1", models.StatusDriverSelected)

	pm := &models.Payment{RequestID: "r1", IntentRef: "pi_1", Amount: 100, CommissionAmount: 15, DriverAmount: 85, Status: models.PaymentPending}
	if err := m.CreatePayment(ctx, pm); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreatePayment(ctx, pm); err != ErrDuplicate {
		t.Fatalf("second payment: expected ErrDuplicate, got %v", err)
	}

	changed, err := m.SetPaymentStatus(ctx, "r1", models.PaymentPending, models.PaymentCaptured)
	if err != nil || !changed {
		t.Fatalf("capture transition: changed=%v err=%v", changed, err)
	}
	changed, _ = m.SetPaymentStatus(ctx, "r1", models.PaymentPending, models.PaymentCaptured)
	if changed {
		t.Fatal("conditional update fired twice")
	}

	if err := m.MarkFailedByIntent(ctx, "pi_unknown"); err != ErrNotFound {
		t.Fatalf("unknown intent: expected ErrNotFound, got %v", err)
	}
}

func TestSumCapturedDriverAmount(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.CreateRequest(ctx, &models.ServiceRequest{ID: "r1", SelectedDriverID: "d1", Status: models.StatusCompleted})
	m.CreateRequest(ctx, &models.ServiceRequest{ID: "r2", SelectedDriverID: "d1", Status: models.StatusCompleted})
	m.CreateRequest(ctx, &models.ServiceRequest{ID: "r3", SelectedDriverID: "d2", Status: models.StatusCompleted})
	m.CreatePayment(ctx, &models.Payment{RequestID: "r1", IntentRef: "pi_1", DriverAmount: 85, Status: models.PaymentCaptured})
	m.CreatePayment(ctx, &models.Payment{RequestID: "r2", IntentRef: "pi_2", DriverAmount: 40, Status: models.PaymentPending})
	m.CreatePayment(ctx, &models.Payment{RequestID: "r3", IntentRef: "pi_3", DriverAmount: 60, Status: models.PaymentCaptured})

	total, err := m.SumCapturedDriverAmount(ctx, "d1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 85 {
		t.Fatalf("d1 earnings = %v, want 85 (pending excluded)", total)
	}
}
