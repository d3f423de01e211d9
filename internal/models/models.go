package models

import "time"

// Role is a closed set; authorization never compares raw strings outside this package.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleDriver   Role = "DRIVER"
	RoleAdmin    Role = "ADMIN"
)

type RequestStatus string

const (
	StatusOpen           RequestStatus = "OPEN"
	StatusBidding        RequestStatus = "BIDDING"
	StatusDriverSelected RequestStatus = "DRIVER_SELECTED"
	StatusInProgress     RequestStatus = "IN_PROGRESS"
	StatusCompleted      RequestStatus = "COMPLETED"
	StatusCancelled      RequestStatus = "CANCELLED"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING_VERIFICATION"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentCaptured PaymentStatus = "CAPTURED"
	PaymentFailed   PaymentStatus = "FAILED"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Suspended bool      `json:"suspended"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceRequest is a customer's posted need to relocate a vehicle.
// Prices are in ILS; Stripe amounts are agorot.
type ServiceRequest struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	PickupAddress      string        `json:"pickup_address"`
	DestinationAddress string        `json:"destination_address"`
	ReturnAddress      string        `json:"return_address"`
	PickupDatetime     time.Time     `json:"pickup_datetime"`
	MaxReturnDatetime  *time.Time    `json:"max_return_datetime,omitempty"`
	CarModel           string        `json:"car_model"`
	CarPlateNumber     string        `json:"car_plate_number"`
	Notes              string        `json:"notes,omitempty"`
	Status             RequestStatus `json:"status"`
	SelectedDriverID   string        `json:"selected_driver_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Bid is a driver's price/time offer against a request. Once selected it is
// immutable and anchors the Payment and Review rows.
type Bid struct {
	ID                  string    `json:"id"`
	RequestID           string    `json:"request_id"`
	DriverID            string    `json:"driver_id"`
	Price               float64   `json:"price"`
	EstimatedReturnTime time.Time `json:"estimated_return_time"`
	Message             string    `json:"message,omitempty"`
	IsSelected          bool      `json:"is_selected"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Payment is 1:1 with a request; amounts are fixed at intent creation.
type Payment struct {
	RequestID        string        `json:"request_id"`
	IntentRef        string        `json:"intent_ref"`
	Amount           float64       `json:"amount"`
	CommissionAmount float64       `json:"commission_amount"`
	DriverAmount     float64       `json:"driver_amount"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type Review struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	CustomerID string    `json:"customer_id"`
	DriverID   string    `json:"driver_id"`
	Rating     int       `json:"rating"` // 1..5
	ReviewText string    `json:"review_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type DriverProfile struct {
	UserID             string             `json:"user_id"`
	City               string             `json:"city"`
	Bio                string             `json:"bio,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
	RatingAvg          float64            `json:"rating_avg"`
	TotalJobs          int                `json:"total_jobs"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// SelectionResult is returned by SelectDriver: the winning driver and locked price.
type SelectionResult struct {
	DriverID string  `json:"driver_id"`
	Price    float64 `json:"price"`
}
