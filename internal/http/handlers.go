package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/car-relay/internal/engine"
	"github.com/example/car-relay/internal/models"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateRequestInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := s.Engine.CreateRequest(r.Context(), actorID(r), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListMyRequests(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.ListMyRequests(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.GetRequest(r.Context(), actorID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.ListBidsForRequest(r.Context(), actorID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSelectDriver(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BidID string `json:"bid_id"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.Engine.SelectDriver(r.Context(), actorID(r), mux.Vars(r)["id"], in.BidID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.CancelRequest(r.Context(), actorID(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.CompleteRequest(r.Context(), actorID(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var in engine.SubmitReviewInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	rv, err := s.Engine.SubmitReview(r.Context(), actorID(r), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Engine.UpdateJobStatus(r.Context(), actorID(r), mux.Vars(r)["id"], in.Status); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var in engine.SubmitBidInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.Engine.SubmitBid(r.Context(), actorID(r), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBid(w http.ResponseWriter, r *http.Request) {
	var in engine.UpdateBidInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.Engine.UpdateBid(r.Context(), actorID(r), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.WithdrawBid(r.Context(), actorID(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListOpenJobs(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.ListOpenJobs(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMyJobs(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.ListMyJobs(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		City string `json:"city"`
		Bio  string `json:"bio,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.Identity.UpsertProfile(r.Context(), actorID(r), in.City, in.Bio)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetMyProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Identity.GetProfile(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	total, err := s.Payments.Earnings(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"total": total})
}

func (s *Server) handleDriverReviews(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.ListDriverReviews(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequestReview(w http.ResponseWriter, r *http.Request) {
	rv, err := s.Engine.GetRequestReview(r.Context(), actorID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Identity.GetPublicProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCapturePayment(w http.ResponseWriter, r *http.Request) {
	pm, err := s.Payments.Capture(r.Context(), actorID(r), mux.Vars(r)["requestId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	pm, err := s.Payments.GetForRequest(r.Context(), mux.Vars(r)["requestId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

func (s *Server) handlePaymentFailed(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IntentRef string `json:"intent_ref"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Payments.HandleIntentFailed(r.Context(), in.IntentRef); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleListPendingDrivers(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.Identity.ListPendingDrivers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyDriver(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, err)
		return
	}
	var in struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.Identity.VerifyDriver(r.Context(), mux.Vars(r)["id"], in.Approve, in.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuspendUser(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, err)
		return
	}
	var in struct {
		Suspend bool `json:"suspend"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Identity.SuspendUser(r.Context(), mux.Vars(r)["id"], in.Suspend); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Stats(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
