// Package httpapi exposes the engine over HTTP: admin lifecycle
// operations, bid submission, dashboard aggregates and a websocket
// event feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/bidchain/attest"
	"github.com/cloudx-io/bidchain/core"
	"github.com/cloudx-io/bidchain/engine"
	"github.com/cloudx-io/bidchain/store"
)

// Server routes HTTP requests to the engine.
type Server struct {
	eng *engine.Engine
	log zerolog.Logger
}

// NewServer builds a Server around eng.
func NewServer(eng *engine.Engine, logger zerolog.Logger) *Server {
	return &Server{eng: eng, log: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/auctions", s.handleCreateListing).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id}/bids", s.handleSubmitBid).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{id}/bids", s.handleBidHistory).Methods(http.MethodGet)

	r.HandleFunc("/admin/auctions", s.handleListAuctions).Methods(http.MethodGet)
	r.HandleFunc("/admin/auctions/{id}", s.handleGetAuction).Methods(http.MethodGet)
	r.HandleFunc("/admin/auctions/{id}/approve", s.transition(s.eng.Approve)).Methods(http.MethodPost)
	r.HandleFunc("/admin/auctions/{id}/reject", s.handleReject).Methods(http.MethodPost)
	r.HandleFunc("/admin/auctions/{id}/deploy", s.transition(s.eng.Deploy)).Methods(http.MethodPost)
	r.HandleFunc("/admin/auctions/{id}/start", s.transition(s.eng.Start)).Methods(http.MethodPost)
	r.HandleFunc("/admin/auctions/{id}/end", s.transition(s.eng.End)).Methods(http.MethodPost)
	r.HandleFunc("/admin/auctions/{id}/settle", s.handleSettle).Methods(http.MethodPost)

	r.HandleFunc("/admin/dashboard/stats", s.handleDashboardStats).Methods(http.MethodGet)
	r.HandleFunc("/admin/dashboard/volume-by-month", s.handleVolumeByMonth).Methods(http.MethodGet)
	r.HandleFunc("/admin/dashboard/status-counts", s.handleStatusCounts).Methods(http.MethodGet)
	r.HandleFunc("/admin/dashboard/top-bidders", s.handleTopBidders).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)

	return r
}

type createListingRequest struct {
	Title      string    `json:"title"`
	SellerID   uuid.UUID `json:"seller_id"`
	StartPrice int64     `json:"start_price"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	a, err := s.eng.CreateListing(r.Context(), req.Title, req.SellerID, req.StartPrice, req.StartTime, req.EndTime)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var sb attest.SignedBid
	if err := json.NewDecoder(r.Body).Decode(&sb); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if sb.AuctionID != id {
		s.writeError(w, &core.ValidationError{Field: "auction_id", Reason: "does not match path"})
		return
	}
	res, err := s.eng.SubmitBid(r.Context(), &sb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleBidHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.eng.GetAuction(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	bids := s.eng.History(id)
	if bids == nil {
		bids = []core.Bid{}
	}
	s.writeJSON(w, http.StatusOK, bids)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	var f store.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := core.AuctionStatus(raw)
		if !status.Valid() {
			s.writeError(w, &core.ValidationError{Field: "status", Reason: "unknown status"})
			return
		}
		f.Status = &status
	}
	views, err := s.eng.ListAuctions(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paginate(views, r))
}

type auctionDetail struct {
	Auction *engine.AuctionView `json:"auction"`
	Bids    []core.Bid          `json:"bids"`
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.eng.GetAuction(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	bids := s.eng.History(id)
	if bids == nil {
		bids = []core.Bid{}
	}
	s.writeJSON(w, http.StatusOK, auctionDetail{Auction: v, Bids: bids})
}

// transition wraps the single-argument lifecycle operations.
func (s *Server) transition(op func(ctx context.Context, id uuid.UUID) (*core.Auction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		a, err := op(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, a)
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	a, err := s.eng.Reject(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.eng.Settle(r.Context(), id)
	if errors.Is(err, core.ErrNoBids) {
		// Not a failure: the auction reached its terminal no-winner state.
		s.writeJSON(w, http.StatusOK, a)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.DashboardStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVolumeByMonth(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, &core.ValidationError{Field: "year", Reason: "must be an integer"})
			return
		}
		year = y
	}
	months, err := s.eng.VolumeByMonth(r.Context(), year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, months)
}

func (s *Server) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.eng.StatusCounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleTopBidders(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, &core.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	top, err := s.eng.TopBidders(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, top)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, &core.ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	return id, nil
}

func paginate[T any](items []T, r *http.Request) []T {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
