package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/car-relay/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the handle for migrations only.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_requests(
			id, customer_id, pickup_address, destination_address, return_address,
			pickup_datetime, max_return_datetime, car_model, car_plate_number,
			notes, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.CustomerID, r.PickupAddress, r.DestinationAddress, r.ReturnAddress,
		r.PickupDatetime, r.MaxReturnDatetime, r.CarModel, r.CarPlateNumber,
		r.Notes, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

const requestColumns = `id, customer_id, pickup_address, destination_address, return_address,
	pickup_datetime, max_return_datetime, car_model, car_plate_number, notes,
	status, COALESCE(selected_driver_id, ''), created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	err := row.Scan(&r.ID, &r.CustomerID, &r.PickupAddress, &r.DestinationAddress, &r.ReturnAddress,
		&r.PickupDatetime, &r.MaxReturnDatetime, &r.CarModel, &r.CarPlateNumber, &r.Notes,
		&r.Status, &r.SelectedDriverID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) AdvanceStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)`,
		to, time.Now(), id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish missing row from failed precondition
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM service_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
	}
	return n > 0, nil
}

func (p *PostgresStore) listRequests(ctx context.Context, where string, args ...any) ([]models.ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM service_requests `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListRequestsByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	return p.listRequests(ctx, `WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (p *PostgresStore) ListRequestsByDriver(ctx context.Context, driverID string) ([]models.ServiceRequest, error) {
	return p.listRequests(ctx, `WHERE selected_driver_id = $1 ORDER BY updated_at DESC`, driverID)
}

func (p *PostgresStore) ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	return p.listRequests(ctx, `WHERE status IN ('OPEN','BIDDING') AND selected_driver_id IS NULL ORDER BY created_at DESC`)
}

func (p *PostgresStore) CountRequestsByStatus(ctx context.Context, statuses ...models.RequestStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_requests WHERE status = ANY($1)`,
		pq.Array(statusStrings(statuses))).Scan(&n)
	return n, err
}

func (p *PostgresStore) InsertBid(ctx context.Context, b *models.Bid) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the request row so a concurrent cancel cannot slip between the
	// status check and the insert, leaving an orphaned bid.
	var status models.RequestStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM service_requests WHERE id = $1 FOR UPDATE`, b.RequestID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.StatusOpen && status != models.StatusBidding {
		return ErrRequestClosed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bids(id, request_id, driver_id, price, estimated_return_time, message, is_selected, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.RequestID, b.DriverID, b.Price, b.EstimatedReturnTime, b.Message, b.IsSelected, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return mapPQError(err)
	}

	if status == models.StatusOpen {
		if _, err := tx.ExecContext(ctx, `
			UPDATE service_requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			models.StatusBidding, time.Now(), b.RequestID, models.StatusOpen); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const bidColumns = `id, request_id, driver_id, price, estimated_return_time, COALESCE(message, ''), is_selected, created_at, updated_at`

func scanBid(row interface{ Scan(...any) error }) (*models.Bid, error) {
	var b models.Bid
	err := row.Scan(&b.ID, &b.RequestID, &b.DriverID, &b.Price, &b.EstimatedReturnTime, &b.Message, &b.IsSelected, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	return scanBid(row)
}

func (p *PostgresStore) UpdateBid(ctx context.Context, b *models.Bid) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bids SET price = $1, estimated_return_time = $2, message = $3, updated_at = $4
		WHERE id = $5 AND NOT is_selected`,
		b.Price, b.EstimatedReturnTime, b.Message, time.Now(), b.ID)
	if err != nil {
		return err
	}
	return p.requireUnselectedRow(ctx, res, b.ID)
}

func (p *PostgresStore) DeleteBid(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM bids WHERE id = $1 AND NOT is_selected`, id)
	if err != nil {
		return err
	}
	return p.requireUnselectedRow(ctx, res, id)
}

// requireUnselectedRow distinguishes the two ways a NOT is_selected write can
// miss: the bid is gone, or a concurrent selection committed after the
// caller's read.
func (p *PostgresStore) requireUnselectedRow(ctx context.Context, res sql.Result, bidID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var selected bool
	err = p.db.QueryRowContext(ctx, `SELECT is_selected FROM bids WHERE id = $1`, bidID).Scan(&selected)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if selected {
		return ErrBidSelected
	}
	return ErrNotFound
}

func (p *PostgresStore) ListBidsForRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE request_id = $1 ORDER BY price ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SelectBid(ctx context.Context, requestID, bidID string) (*models.Bid, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := scanBid(tx.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id = $1 AND request_id = $2 FOR UPDATE`, bidID, requestID))
	if err != nil {
		return nil, err
	}

	// The precondition is enforced by this conditional update, not by an
	// earlier read: the losing transaction of a double selection sees zero
	// rows here and aborts.
	res, err := tx.ExecContext(ctx, `
		UPDATE service_requests SET status = $1, selected_driver_id = $2, updated_at = $3
		WHERE id = $4 AND status IN ('OPEN','BIDDING')`,
		models.StatusDriverSelected, b.DriverID, time.Now(), requestID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRequestClosed
	}

	if _, err := tx.ExecContext(ctx, `UPDATE bids SET is_selected = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), bidID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	b.IsSelected = true
	return b, nil
}

func (p *PostgresStore) CreatePayment(ctx context.Context, pm *models.Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments(request_id, intent_ref, amount, commission_amount, driver_amount, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		pm.RequestID, pm.IntentRef, pm.Amount, pm.CommissionAmount, pm.DriverAmount, pm.Status, pm.CreatedAt, pm.UpdatedAt)
	return mapPQError(err)
}

func (p *PostgresStore) GetPayment(ctx context.Context, requestID string) (*models.Payment, error) {
	var pm models.Payment
	err := p.db.QueryRowContext(ctx, `
		SELECT request_id, intent_ref, amount, commission_amount, driver_amount, status, created_at, updated_at
		FROM payments WHERE request_id = $1`, requestID).
		Scan(&pm.RequestID, &pm.IntentRef, &pm.Amount, &pm.CommissionAmount, &pm.DriverAmount, &pm.Status, &pm.CreatedAt, &pm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (p *PostgresStore) SetPaymentStatus(ctx context.Context, requestID string, from, to models.PaymentStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = $2 WHERE request_id = $3 AND status = $4`,
		to, time.Now(), requestID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) MarkFailedByIntent(ctx context.Context, intentRef string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = $2 WHERE intent_ref = $3`,
		models.PaymentFailed, time.Now(), intentRef)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) SumCapturedDriverAmount(ctx context.Context, driverID string) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.driver_amount), 0)
		FROM payments p JOIN service_requests r ON r.id = p.request_id
		WHERE p.status = 'CAPTURED' AND r.selected_driver_id = $1`, driverID).Scan(&total)
	return total, err
}

func (p *PostgresStore) SumCapturedCommission(ctx context.Context) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(commission_amount), 0) FROM payments WHERE status = 'CAPTURED'`).Scan(&total)
	return total, err
}

func (p *PostgresStore) InsertReview(ctx context.Context, rv *models.Review) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reviews(id, request_id, customer_id, driver_id, rating, review_text, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rv.ID, rv.RequestID, rv.CustomerID, rv.DriverID, rv.Rating, rv.ReviewText, rv.CreatedAt)
	return mapPQError(err)
}

func (p *PostgresStore) GetReviewByRequest(ctx context.Context, requestID string) (*models.Review, error) {
	var rv models.Review
	err := p.db.QueryRowContext(ctx, `
		SELECT id, request_id, customer_id, driver_id, rating, COALESCE(review_text, ''), created_at
		FROM reviews WHERE request_id = $1`, requestID).
		Scan(&rv.ID, &rv.RequestID, &rv.CustomerID, &rv.DriverID, &rv.Rating, &rv.ReviewText, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (p *PostgresStore) ListReviewsByDriver(ctx context.Context, driverID string) ([]models.Review, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, request_id, customer_id, driver_id, rating, COALESCE(review_text, ''), created_at
		FROM reviews WHERE driver_id = $1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.RequestID, &rv.CustomerID, &rv.DriverID, &rv.Rating, &rv.ReviewText, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AverageRatingForDriver(ctx context.Context, driverID string) (float64, int, error) {
	var avg sql.NullFloat64
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT AVG(rating), COUNT(*) FROM reviews WHERE driver_id = $1`, driverID).Scan(&avg, &n)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, n, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users(id, name, email, role, suspended, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Name, u.Email, u.Role, u.Suspended, u.CreatedAt)
	return mapPQError(err)
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, suspended, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Suspended, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) SetSuspended(ctx context.Context, id string, suspended bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET suspended = $1 WHERE id = $2`, suspended, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, role, suspended, created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Suspended, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountUsersByRole(ctx context.Context, role models.Role) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = $1`, role).Scan(&n)
	return n, err
}

func (p *PostgresStore) UpsertProfile(ctx context.Context, pr *models.DriverProfile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_profiles(user_id, city, bio, verification_status, rejection_reason, rating_avg, total_jobs, updated_at)
		VALUES($1,$2,$3,$4,'',0,0,$5)
		ON CONFLICT (user_id) DO UPDATE SET
			city = EXCLUDED.city, bio = EXCLUDED.bio,
			verification_status = $4, rejection_reason = '', updated_at = $5`,
		pr.UserID, pr.City, pr.Bio, models.VerificationPending, time.Now())
	return err
}

func (p *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.DriverProfile, error) {
	var pr models.DriverProfile
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, city, COALESCE(bio, ''), verification_status, COALESCE(rejection_reason, ''), rating_avg, total_jobs, updated_at
		FROM driver_profiles WHERE user_id = $1`, userID).
		Scan(&pr.UserID, &pr.City, &pr.Bio, &pr.VerificationStatus, &pr.RejectionReason, &pr.RatingAvg, &pr.TotalJobs, &pr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) SetVerification(ctx context.Context, userID string, status models.VerificationStatus, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE driver_profiles SET verification_status = $1, rejection_reason = $2, updated_at = $3 WHERE user_id = $4`,
		status, reason, time.Now(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) SetRatingAvg(ctx context.Context, userID string, avg float64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE driver_profiles SET rating_avg = $1, updated_at = $2 WHERE user_id = $3`, avg, time.Now(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) IncrementTotalJobs(ctx context.Context, userID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE driver_profiles SET total_jobs = total_jobs + 1, updated_at = $1 WHERE user_id = $2`, time.Now(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) ListProfilesByVerification(ctx context.Context, status models.VerificationStatus) ([]models.DriverProfile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, city, COALESCE(bio, ''), verification_status, COALESCE(rejection_reason, ''), rating_avg, total_jobs, updated_at
		FROM driver_profiles WHERE verification_status = $1 ORDER BY updated_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DriverProfile
	for rows.Next() {
		var pr models.DriverProfile
		if err := rows.Scan(&pr.UserID, &pr.City, &pr.Bio, &pr.VerificationStatus, &pr.RejectionReason, &pr.RatingAvg, &pr.TotalJobs, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountProfilesByVerification(ctx context.Context, status models.VerificationStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM driver_profiles WHERE verification_status = $1`, status).Scan(&n)
	return n, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrDuplicate
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return err
}

func statusStrings(in []models.RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
