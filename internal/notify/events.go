package notify

import "time"

// Event types emitted by the engine. The notifier consumer turns these into
// customer/driver emails; the WebSocket registry pushes the driver-facing
// ones live.
const (
	EventRequestCreated = "request.created"
	EventBidSubmitted   = "bid.submitted"
	EventDriverSelected = "driver.selected"
	EventStatusChanged  = "request.status_changed"
	EventDriverVerified = "driver.verified"
	EventDriverRejected = "driver.rejected"
)

// Event is the domain event crossing the async task boundary. Engine logic
// never depends on its delivery.
type Event struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	At        time.Time         `json:"at"`
	Data      map[string]string `json:"data,omitempty"`
}
