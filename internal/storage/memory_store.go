package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/car-relay/internal/models"
)

// MemoryStore is the in-process fallback and the fake used by tests. A single
// mutex gives it the same atomicity guarantees the Postgres transactions do.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*models.ServiceRequest
	bids     map[string]*models.Bid
	payments map[string]*models.Payment // keyed by request ID
	reviews  map[string]*models.Review  // keyed by request ID
	users    map[string]*models.User
	profiles map[string]*models.DriverProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.ServiceRequest),
		bids:     make(map[string]*models.Bid),
		payments: make(map[string]*models.Payment),
		reviews:  make(map[string]*models.Review),
		users:    make(map[string]*models.User),
		profiles: make(map[string]*models.DriverProfile),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AdvanceStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if !statusIn(r.Status, from) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ListRequestsByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.CustomerID == customerID {
			out = append(out, *r)
		}
	}
	sortRequestsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListRequestsByDriver(ctx context.Context, driverID string) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.SelectedDriverID == driverID {
			out = append(out, *r)
		}
	}
	sortRequestsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if (r.Status == models.StatusOpen || r.Status == models.StatusBidding) && r.SelectedDriverID == "" {
			out = append(out, *r)
		}
	}
	sortRequestsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) CountRequestsByStatus(ctx context.Context, statuses ...models.RequestStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if statusIn(r.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertBid(ctx context.Context, b *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[b.RequestID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.StatusOpen && r.Status != models.StatusBidding {
		return ErrRequestClosed
	}
	for _, existing := range m.bids {
		if existing.RequestID == b.RequestID && existing.DriverID == b.DriverID {
			return ErrDuplicate
		}
	}
	cp := *b
	m.bids[b.ID] = &cp
	if r.Status == models.StatusOpen {
		r.Status = models.StatusBidding
		r.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBid(ctx context.Context, b *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bids[b.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.IsSelected {
		return ErrBidSelected
	}
	cur.Price = b.Price
	cur.EstimatedReturnTime = b.EstimatedReturnTime
	cur.Message = b.Message
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteBid(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return ErrNotFound
	}
	if b.IsSelected {
		return ErrBidSelected
	}
	delete(m.bids, id)
	return nil
}

func (m *MemoryStore) ListBidsForRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bid
	for _, b := range m.bids {
		if b.RequestID == requestID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (m *MemoryStore) SelectBid(ctx context.Context, requestID, bidID string) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := m.bids[bidID]
	if !ok || b.RequestID != requestID {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusOpen && r.Status != models.StatusBidding {
		return nil, ErrRequestClosed
	}
	b.IsSelected = true
	b.UpdatedAt = time.Now()
	r.SelectedDriverID = b.DriverID
	r.Status = models.StatusDriverSelected
	r.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.RequestID]; ok {
		return ErrDuplicate
	}
	cp := *p
	m.payments[p.RequestID] = &cp
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, requestID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SetPaymentStatus(ctx context.Context, requestID string, from, to models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkFailedByIntent(ctx context.Context, intentRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentRef == intentRef {
			p.Status = models.PaymentFailed
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) SumCapturedDriverAmount(ctx context.Context, driverID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, p := range m.payments {
		if p.Status != models.PaymentCaptured {
			continue
		}
		if r, ok := m.requests[p.RequestID]; ok && r.SelectedDriverID == driverID {
			total += p.DriverAmount
		}
	}
	return total, nil
}

func (m *MemoryStore) SumCapturedCommission(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, p := range m.payments {
		if p.Status == models.PaymentCaptured {
			total += p.CommissionAmount
		}
	}
	return total, nil
}

func (m *MemoryStore) InsertReview(ctx context.Context, rv *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[rv.RequestID]; ok {
		return ErrDuplicate
	}
	cp := *rv
	m.reviews[rv.RequestID] = &cp
	return nil
}

func (m *MemoryStore) GetReviewByRequest(ctx context.Context, requestID string) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv, ok := m.reviews[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rv
	return &cp, nil
}

func (m *MemoryStore) ListReviewsByDriver(ctx context.Context, driverID string) ([]models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Review
	for _, rv := range m.reviews {
		if rv.DriverID == driverID {
			out = append(out, *rv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AverageRatingForDriver(ctx context.Context, driverID string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum, n int
	for _, rv := range m.reviews {
		if rv.DriverID == driverID {
			sum += rv.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) SetSuspended(ctx context.Context, id string, suspended bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Suspended = suspended
	return nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountUsersByRole(ctx context.Context, role models.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpsertProfile(ctx context.Context, p *models.DriverProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.profiles[p.UserID]
	if !ok {
		cp := *p
		cp.VerificationStatus = models.VerificationPending
		cp.UpdatedAt = time.Now()
		m.profiles[p.UserID] = &cp
		return nil
	}
	cur.City = p.City
	cur.Bio = p.Bio
	cur.VerificationStatus = models.VerificationPending
	cur.RejectionReason = ""
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SetVerification(ctx context.Context, userID string, status models.VerificationStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.VerificationStatus = status
	p.RejectionReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetRatingAvg(ctx context.Context, userID string, avg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.RatingAvg = avg
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementTotalJobs(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.TotalJobs++
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListProfilesByVerification(ctx context.Context, status models.VerificationStatus) ([]models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DriverProfile
	for _, p := range m.profiles {
		if p.VerificationStatus == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) CountProfilesByVerification(ctx context.Context, status models.VerificationStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.profiles {
		if p.VerificationStatus == status {
			n++
		}
	}
	return n, nil
}

func statusIn(s models.RequestStatus, set []models.RequestStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func sortRequestsNewestFirst(rs []models.ServiceRequest) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}
