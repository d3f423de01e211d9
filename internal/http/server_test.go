package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/car-relay/internal/engine"
	"github.com/example/car-relay/internal/identity"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/payments"
	"github.com/example/car-relay/internal/storage"
)

type stubGateway struct{ n int }

func (s *stubGateway) Hold(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	s.n++
	return "pi_stub", nil
}
func (s *stubGateway) Capture(ctx context.Context, intentRef string) error { return nil }
func (s *stubGateway) Cancel(ctx context.Context, intentRef string) error  { return nil }

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ident := identity.NewService(st, st, nil, nil, logger)
	pay := payments.NewService(&stubGateway{}, st, st, st, 15, "ils", logger)
	eng := engine.New(st, ident, nil, nil, logger)
	return NewServer(eng, ident, pay, notify.NewWSRegistry(), logger), st
}

func do(t *testing.T, srv *Server, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if actor != "" {
		req.Header.Set("X-User-ID", actor)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func seedUsers(t *testing.T, st *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	st.CreateUser(ctx, &models.User{ID: "c1", Role: models.RoleCustomer})
	st.CreateUser(ctx, &models.User{ID: "d1", Role: models.RoleDriver})
	st.CreateUser(ctx, &models.User{ID: "a1", Role: models.RoleAdmin})
	st.UpsertProfile(ctx, &models.DriverProfile{UserID: "d1", City: "Tel Aviv"})
	st.SetVerification(ctx, "d1", models.VerificationVerified, "")
}

const validRequestBody = `{
	"pickup_address": "1 Rothschild Blvd, Tel Aviv",
	"destination_address": "Central Garage, Holon",
	"return_address": "1 Rothschild Blvd, Tel Aviv",
	"pickup_datetime": "2026-09-01T09:00:00Z",
	"car_model": "Mazda 3",
	"car_plate_number": "123-45-678"
}`

func TestCreateRequest_HTTP(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)

	w := do(t, srv, "POST", "/api/v1/requests", "c1", validRequestBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var r models.ServiceRequest
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != models.StatusOpen || r.CustomerID != "c1" {
		t.Fatalf("created request = %+v", r)
	}
}

func TestErrorMapping_HTTP(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)
	ctx := context.Background()

	created := do(t, srv, "POST", "/api/v1/requests", "c1", validRequestBody)
	var r models.ServiceRequest
	json.Unmarshal(created.Body.Bytes(), &r)

	cases := []struct {
		name       string
		method     string
		path       string
		actor      string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"validation", "POST", "/api/v1/requests", "c1", `{"pickup_address":""}`, 400, "VALIDATION_ERROR"},
		{"bad json", "POST", "/api/v1/requests", "c1", `{`, 400, "VALIDATION_ERROR"},
		{"not found", "GET", "/api/v1/requests/nope", "c1", "", 404, "NOT_FOUND"},
		{"forbidden role", "POST", "/api/v1/requests", "d1", validRequestBody, 403, "FORBIDDEN"},
		{"unknown actor", "GET", "/api/v1/requests/" + r.ID, "ghost", "", 403, "FORBIDDEN"},
		{"admin gate", "GET", "/api/v1/admin/stats", "c1", "", 403, "FORBIDDEN"},
	}
	for _, c := range cases {
		w := do(t, srv, c.method, c.path, c.actor, c.body)
		if w.Code != c.wantStatus {
			t.Fatalf("%s: status = %d, want %d (body %s)", c.name, w.Code, c.wantStatus, w.Body.String())
		}
		var eb errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &eb); err != nil {
			t.Fatalf("%s: decode error body: %v", c.name, err)
		}
		if eb.Error.Kind != c.wantKind {
			t.Fatalf("%s: kind = %s, want %s", c.name, eb.Error.Kind, c.wantKind)
		}
	}

	// unverified driver hitting the job queue reads as 403 NOT_VERIFIED
	st.CreateUser(ctx, &models.User{ID: "d2", Role: models.RoleDriver})
	w := do(t, srv, "GET", "/api/v1/jobs", "d2", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("unverified jobs: status = %d", w.Code)
	}
	var eb errorBody
	json.Unmarshal(w.Body.Bytes(), &eb)
	if eb.Error.Kind != "NOT_VERIFIED" {
		t.Fatalf("unverified jobs: kind = %s", eb.Error.Kind)
	}

	// conflict on an illegal transition
	bid := do(t, srv, "POST", "/api/v1/bids", "d1",
		`{"request_id":"`+r.ID+`","price":120,"estimated_return_time":"2026-09-02T09:00:00Z"}`)
	if bid.Code != http.StatusCreated {
		t.Fatalf("bid: status = %d, body %s", bid.Code, bid.Body.String())
	}
	var b models.Bid
	json.Unmarshal(bid.Body.Bytes(), &b)
	sel := do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/select", "c1", `{"bid_id":"`+b.ID+`"}`)
	if sel.Code != http.StatusOK {
		t.Fatalf("select: status = %d, body %s", sel.Code, sel.Body.String())
	}
	w = do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/cancel", "c1", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("late cancel: status = %d, want 409", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &eb)
	if eb.Error.Kind != "INVALID_TRANSITION" {
		t.Fatalf("late cancel: kind = %s", eb.Error.Kind)
	}
}

func TestDriverFlow_HTTP(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)

	created := do(t, srv, "POST", "/api/v1/requests", "c1", validRequestBody)
	var r models.ServiceRequest
	json.Unmarshal(created.Body.Bytes(), &r)

	jobs := do(t, srv, "GET", "/api/v1/jobs", "d1", "")
	if jobs.Code != http.StatusOK {
		t.Fatalf("jobs: status = %d", jobs.Code)
	}
	var queue []models.ServiceRequest
	json.Unmarshal(jobs.Body.Bytes(), &queue)
	if len(queue) != 1 || queue[0].ID != r.ID {
		t.Fatalf("queue = %+v", queue)
	}

	bid := do(t, srv, "POST", "/api/v1/bids", "d1",
		`{"request_id":"`+r.ID+`","price":120,"estimated_return_time":"2026-09-02T09:00:00Z","message":"back by morning"}`)
	if bid.Code != http.StatusCreated {
		t.Fatalf("bid: status = %d, body %s", bid.Code, bid.Body.String())
	}
	var b models.Bid
	json.Unmarshal(bid.Body.Bytes(), &b)

	sel := do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/select", "c1", `{"bid_id":"`+b.ID+`"}`)
	if sel.Code != http.StatusOK {
		t.Fatalf("select: status = %d, body %s", sel.Code, sel.Body.String())
	}
	var res models.SelectionResult
	json.Unmarshal(sel.Body.Bytes(), &res)
	if res.DriverID != "d1" || res.Price != 120 {
		t.Fatalf("selection = %+v", res)
	}

	for _, target := range []string{"IN_PROGRESS", "COMPLETED"} {
		w := do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/status", "d1", `{"status":"`+target+`"}`)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status %s: code = %d, body %s", target, w.Code, w.Body.String())
		}
	}

	rev := do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/reviews", "c1", `{"rating":5,"review_text":"flawless"}`)
	if rev.Code != http.StatusCreated {
		t.Fatalf("review: status = %d, body %s", rev.Code, rev.Body.String())
	}

	list := do(t, srv, "GET", "/api/v1/drivers/d1/reviews", "c1", "")
	if list.Code != http.StatusOK {
		t.Fatalf("driver reviews: status = %d", list.Code)
	}
	var reviews []models.Review
	json.Unmarshal(list.Body.Bytes(), &reviews)
	if len(reviews) != 1 || reviews[0].Rating != 5 {
		t.Fatalf("reviews = %+v", reviews)
	}
}

func TestPublicReads_HTTP(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)
	ctx := context.Background()
	st.CreateUser(ctx, &models.User{ID: "c2", Role: models.RoleCustomer})

	created := do(t, srv, "POST", "/api/v1/requests", "c1", validRequestBody)
	var r models.ServiceRequest
	json.Unmarshal(created.Body.Bytes(), &r)

	// no review yet
	w := do(t, srv, "GET", "/api/v1/requests/"+r.ID+"/review", "c1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("review before completion: status = %d", w.Code)
	}

	bid := do(t, srv, "POST", "/api/v1/bids", "d1",
		`{"request_id":"`+r.ID+`","price":120,"estimated_return_time":"2026-09-02T09:00:00Z"}`)
	var b models.Bid
	json.Unmarshal(bid.Body.Bytes(), &b)
	do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/select", "c1", `{"bid_id":"`+b.ID+`"}`)
	do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/status", "d1", `{"status":"IN_PROGRESS"}`)
	do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/status", "d1", `{"status":"COMPLETED"}`)
	rev := do(t, srv, "POST", "/api/v1/requests/"+r.ID+"/reviews", "c1", `{"rating":4,"review_text":"solid"}`)
	if rev.Code != http.StatusCreated {
		t.Fatalf("review: status = %d, body %s", rev.Code, rev.Body.String())
	}

	// owner and selected driver can read the request's review
	for _, actor := range []string{"c1", "d1"} {
		w = do(t, srv, "GET", "/api/v1/requests/"+r.ID+"/review", actor, "")
		if w.Code != http.StatusOK {
			t.Fatalf("review as %s: status = %d, body %s", actor, w.Code, w.Body.String())
		}
	}
	var got models.Review
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Rating != 4 || got.DriverID != "d1" {
		t.Fatalf("review = %+v", got)
	}

	// an unrelated customer cannot
	w = do(t, srv, "GET", "/api/v1/requests/"+r.ID+"/review", "c2", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("review as outsider: status = %d", w.Code)
	}

	// the public driver profile carries reputation, not verification internals
	w = do(t, srv, "GET", "/api/v1/drivers/d1/profile", "c2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("public profile: status = %d", w.Code)
	}
	var pub identity.PublicProfile
	if err := json.Unmarshal(w.Body.Bytes(), &pub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pub.UserID != "d1" || pub.City != "Tel Aviv" || pub.RatingAvg != 4 {
		t.Fatalf("public profile = %+v", pub)
	}
	var raw map[string]any
	json.Unmarshal(w.Body.Bytes(), &raw)
	if _, leaked := raw["verification_status"]; leaked {
		t.Fatal("public profile leaks verification status")
	}

	w = do(t, srv, "GET", "/api/v1/drivers/nobody/profile", "c2", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing profile: status = %d", w.Code)
	}
}

func TestAdminFlow_HTTP(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)
	ctx := context.Background()
	st.CreateUser(ctx, &models.User{ID: "d2", Role: models.RoleDriver})

	w := do(t, srv, "PUT", "/api/v1/driver/profile", "d2", `{"city":"Haifa","bio":"night shifts"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert profile: status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "GET", "/api/v1/admin/drivers/pending", "a1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("pending: status = %d", w.Code)
	}
	var pending []models.DriverProfile
	json.Unmarshal(w.Body.Bytes(), &pending)
	if len(pending) != 1 || pending[0].UserID != "d2" {
		t.Fatalf("pending = %+v", pending)
	}

	w = do(t, srv, "POST", "/api/v1/admin/drivers/d2/verify", "a1", `{"approve":false,"reason":"missing insurance"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reject: status = %d, body %s", w.Code, w.Body.String())
	}
	var p models.DriverProfile
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.VerificationStatus != models.VerificationRejected {
		t.Fatalf("profile = %+v", p)
	}

	w = do(t, srv, "POST", "/api/v1/admin/users/d2/suspend", "a1", `{"suspend":true}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("suspend: status = %d", w.Code)
	}
	u, _ := st.GetUser(ctx, "d2")
	if !u.Suspended {
		t.Fatal("user not suspended")
	}

	w = do(t, srv, "GET", "/api/v1/admin/stats", "a1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d", w.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv, st := newTestServer(t)
	seedUsers(t, st)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "test-rid")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
