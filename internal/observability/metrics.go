package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "car_relay", Name: "requests_created_total", Help: "Service requests created"})
	BidsSubmitted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "car_relay", Name: "bids_submitted_total", Help: "Bids submitted by drivers"})
	DriversSelected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "car_relay", Name: "drivers_selected_total", Help: "Successful driver selections"})
	PaymentsCaptured = promauto.NewCounter(prometheus.CounterOpts{Namespace: "car_relay", Name: "payments_captured_total", Help: "Payments captured"})

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "car_relay", Name: "request_transitions_total", Help: "Request status transitions applied"},
		[]string{"from", "to"},
	)
	TransitionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "car_relay", Name: "request_transitions_rejected_total", Help: "Transitions rejected by the state machine"},
		[]string{"from", "to"},
	)

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "car_relay", Name: "notify_failures_total", Help: "Best-effort notification publishes that failed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "car_relay", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "car_relay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
