package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cardroom/settled/internal/handid"
	"github.com/cardroom/settled/internal/settle"
	"github.com/cardroom/settled/internal/store"
)

// PoolReader exposes the reserve pool balances for the read-only endpoints.
type PoolReader interface {
	Pools(ctx context.Context) (store.PoolBalances, error)
}

// Server exposes the settlement core over an internal HTTP/JSON API. It is
// consumed by the game engine, never by end users.
type Server struct {
	distributor *settle.Distributor
	pools       PoolReader
	monitor     SettlementMonitor
	feed        *Feed
	logger      *log.Logger
	httpServer  *http.Server
}

// New creates a server. The monitor may be nil.
func New(addr string, distributor *settle.Distributor, pools PoolReader, monitor SettlementMonitor, logger *log.Logger) *Server {
	s := &Server{
		distributor: distributor,
		pools:       pools,
		feed:        NewFeed(logger),
		logger:      logger.WithPrefix("server"),
	}
	s.monitor = NewMultiSettlementMonitor(monitor, s.feed)

	mux := http.NewServeMux()
	mux.HandleFunc("/internal/hands/settle", s.handleSettle)
	mux.HandleFunc("/internal/hands/refund", s.handleRefund)
	mux.HandleFunc("/internal/pools", s.handlePools)
	mux.HandleFunc("/ws", s.feed.Handler)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.feed.Close()
	return s.httpServer.Shutdown(ctx)
}

type winnerShareRequest struct {
	UserID string `json:"userId"`
	Share  int64  `json:"share"`
}

type settleRequest struct {
	HandID  string               `json:"handId"`
	TableID string               `json:"tableId"`
	Pot     int64                `json:"pot"`
	Winners []winnerShareRequest `json:"winners"`
}

type payoutResponse struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

type settleResponse struct {
	OK           bool             `json:"ok"`
	Error        string           `json:"error,omitempty"`
	HandID       string           `json:"handId,omitempty"`
	Pot          int64            `json:"pot,omitempty"`
	Rake         int64            `json:"rake,omitempty"`
	Treasury     int64            `json:"treasury,omitempty"`
	Jackpot      int64            `json:"jackpot,omitempty"`
	WinnerAmount int64            `json:"winnerAmount,omitempty"`
	Unclaimed    int64            `json:"unclaimed,omitempty"`
	Payouts      []payoutResponse `json:"payouts,omitempty"`
}

type betRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

type refundRequest struct {
	HandID  string       `json:"handId"`
	TableID string       `json:"tableId"`
	Bets    []betRequest `json:"bets"`
}

type refundResponse struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	HandID  string           `json:"handId,omitempty"`
	Refunds []payoutResponse `json:"refunds,omitempty"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, settleResponse{Error: "invalid request body"})
		return
	}
	if err := handid.Validate(req.HandID); err != nil {
		writeJSON(w, http.StatusBadRequest, settleResponse{Error: fmt.Sprintf("invalid hand ID: %v", err)})
		return
	}
	if req.TableID == "" {
		writeJSON(w, http.StatusBadRequest, settleResponse{Error: "tableId is required"})
		return
	}

	winners := make([]settle.WinnerShare, 0, len(req.Winners))
	for _, win := range req.Winners {
		winners = append(winners, settle.WinnerShare{UserID: win.UserID, Share: win.Share})
	}

	settlement, err := s.distributor.DistributePot(r.Context(), req.HandID, req.TableID, req.Pot, winners)
	if err != nil {
		status, msg := statusForError(err)
		s.logger.Warn("settlement rejected", "hand", req.HandID, "status", status, "error", err)
		writeJSON(w, status, settleResponse{Error: msg})
		return
	}

	s.monitor.OnHandSettled(settlement)

	resp := settleResponse{
		OK:           true,
		HandID:       settlement.HandID,
		Pot:          settlement.Pot,
		Rake:         settlement.Rake,
		Treasury:     settlement.Treasury,
		Jackpot:      settlement.Jackpot,
		WinnerAmount: settlement.Winner,
		Unclaimed:    settlement.Unclaimed,
	}
	for _, p := range settlement.Payouts {
		resp.Payouts = append(resp.Payouts, payoutResponse{UserID: p.UserID, Amount: p.Amount})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, refundResponse{Error: "invalid request body"})
		return
	}
	if err := handid.Validate(req.HandID); err != nil {
		writeJSON(w, http.StatusBadRequest, refundResponse{Error: fmt.Sprintf("invalid hand ID: %v", err)})
		return
	}
	if req.TableID == "" {
		writeJSON(w, http.StatusBadRequest, refundResponse{Error: "tableId is required"})
		return
	}

	bets := make([]settle.Bet, 0, len(req.Bets))
	for _, b := range req.Bets {
		bets = append(bets, settle.Bet{UserID: b.UserID, Amount: b.Amount})
	}

	refund, err := s.distributor.ReturnBets(r.Context(), req.HandID, req.TableID, bets)
	if err != nil {
		status, msg := statusForError(err)
		s.logger.Warn("refund rejected", "hand", req.HandID, "status", status, "error", err)
		writeJSON(w, status, refundResponse{Error: msg})
		return
	}

	s.monitor.OnHandCancelled(refund)

	resp := refundResponse{OK: true, HandID: refund.HandID}
	for _, p := range refund.Refunds {
		resp.Refunds = append(resp.Refunds, payoutResponse{UserID: p.UserID, Amount: p.Amount})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	balances, err := s.pools.Pools(r.Context())
	if err != nil {
		s.logger.Error("failed to load pools", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

// statusForError maps the core error taxonomy onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, settle.ErrInvalidAmount):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, settle.ErrAlreadySettled):
		return http.StatusConflict, err.Error()
	case errors.Is(err, settle.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "persistence error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
