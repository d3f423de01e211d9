package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/car-relay/internal/apperr"
	"github.com/example/car-relay/internal/engine"
	"github.com/example/car-relay/internal/identity"
	"github.com/example/car-relay/internal/models"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/payments"
)

type Server struct {
	Engine   *engine.Engine
	Identity *identity.Service
	Payments *payments.Service
	WSReg    *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(eng *engine.Engine, id *identity.Service, pay *payments.Service, ws *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Engine: eng, Identity: id, Payments: pay, WSReg: ws, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	// customer side
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/my", s.handleListMyRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/bids", s.handleListBids).Methods("GET")
	api.HandleFunc("/requests/{id}/select", s.handleSelectDriver).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleCompleteRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/reviews", s.handleSubmitReview).Methods("POST")
	api.HandleFunc("/requests/{id}/review", s.handleGetRequestReview).Methods("GET")

	// driver side
	api.HandleFunc("/requests/{id}/status", s.handleUpdateJobStatus).Methods("POST")
	api.HandleFunc("/bids", s.handleSubmitBid).Methods("POST")
	api.HandleFunc("/bids/{id}", s.handleUpdateBid).Methods("PATCH")
	api.HandleFunc("/bids/{id}", s.handleWithdrawBid).Methods("DELETE")
	api.HandleFunc("/jobs", s.handleListOpenJobs).Methods("GET")
	api.HandleFunc("/jobs/my", s.handleListMyJobs).Methods("GET")
	api.HandleFunc("/driver/profile", s.handleUpsertProfile).Methods("PUT")
	api.HandleFunc("/driver/profile", s.handleGetMyProfile).Methods("GET")
	api.HandleFunc("/driver/earnings", s.handleEarnings).Methods("GET")
	api.HandleFunc("/drivers/{id}/reviews", s.handleDriverReviews).Methods("GET")
	api.HandleFunc("/drivers/{id}/profile", s.handlePublicProfile).Methods("GET")

	// payments
	api.HandleFunc("/payments/{requestId}/capture", s.handleCapturePayment).Methods("POST")
	api.HandleFunc("/payments/{requestId}", s.handleGetPayment).Methods("GET")

	// admin
	api.HandleFunc("/admin/drivers/pending", s.handleListPendingDrivers).Methods("GET")
	api.HandleFunc("/admin/drivers/{id}/verify", s.handleVerifyDriver).Methods("POST")
	api.HandleFunc("/admin/users/{id}/suspend", s.handleSuspendUser).Methods("POST")
	api.HandleFunc("/admin/stats", s.handleStats).Methods("GET")

	// gateway webhook relay
	s.mux.HandleFunc("/internal/payments/failed", s.handlePaymentFailed).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actorID reads the authenticated subject set by the identity edge (reverse
// proxy / auth middleware outside this core).
func actorID(r *http.Request) string { return r.Header.Get("X-User-ID") }

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

// requireAdmin gates the identity-service administrative endpoints.
func (s *Server) requireAdmin(r *http.Request) error {
	u, err := s.Identity.GetUser(r.Context(), actorID(r))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.Forbidden("unknown actor")
		}
		return err
	}
	if u.Role != models.RoleAdmin || u.Suspended {
		return apperr.Forbidden("admin role required")
	}
	return nil
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var body errorBody
	var e *apperr.Error
	status := http.StatusInternalServerError
	if errors.As(err, &e) {
		body.Error.Kind = string(e.Kind)
		body.Error.Message = e.Message
		status = statusForKind(e.Kind)
	} else {
		body.Error.Kind = string(apperr.KindDependencyUnavailable)
		body.Error.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden, apperr.KindNotVerified:
		return http.StatusForbidden
	case apperr.KindInvalidTransition, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
