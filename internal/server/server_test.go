package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/settled/internal/handid"
	"github.com/cardroom/settled/internal/settle"
	"github.com/cardroom/settled/internal/store"
)

// memLedger is an in-memory settle.Ledger for exercising the HTTP surface.
type memLedger struct {
	settlements map[string]*settle.Settlement
	refunds     map[string]*settle.Refund
}

func newMemLedger() *memLedger {
	return &memLedger{
		settlements: make(map[string]*settle.Settlement),
		refunds:     make(map[string]*settle.Refund),
	}
}

func (m *memLedger) terminal(handID string) bool {
	_, ok := m.settlements[handID]
	if !ok {
		_, ok = m.refunds[handID]
	}
	return ok
}

func (m *memLedger) ApplySettlement(_ context.Context, s *settle.Settlement) error {
	if m.terminal(s.HandID) {
		return settle.ErrAlreadySettled
	}
	m.settlements[s.HandID] = s
	return nil
}

func (m *memLedger) ApplyRefund(_ context.Context, r *settle.Refund) error {
	if m.terminal(r.HandID) {
		return settle.ErrAlreadySettled
	}
	m.refunds[r.HandID] = r
	return nil
}

type staticPools struct {
	balances store.PoolBalances
}

func (p staticPools) Pools(context.Context) (store.PoolBalances, error) {
	return p.balances, nil
}

// recordingMonitor captures monitor callbacks.
type recordingMonitor struct {
	settled   []*settle.Settlement
	cancelled []*settle.Refund
}

func (m *recordingMonitor) OnHandSettled(s *settle.Settlement) { m.settled = append(m.settled, s) }
func (m *recordingMonitor) OnHandCancelled(r *settle.Refund)   { m.cancelled = append(m.cancelled, r) }

func newTestServer(t *testing.T) (*Server, *memLedger, *recordingMonitor) {
	t.Helper()

	ledger := newMemLedger()
	monitor := &recordingMonitor{}
	logger := log.New(io.Discard)

	policy := settle.RakePolicy{
		RakePercent:          10,
		MinPotForRake:        100,
		MaxRakePerPot:        500,
		JackpotPercentOfRake: 20,
	}
	distributor := settle.NewDistributor(policy, ledger, logger)

	pools := staticPools{balances: store.PoolBalances{
		Treasury:          1200,
		TreasuryUpdatedAt: time.Unix(1700000000, 0).UTC(),
		Jackpot:           300,
		JackpotUpdatedAt:  time.Unix(1700000000, 0).UTC(),
	}}

	return New("localhost:0", distributor, pools, monitor, logger), ledger, monitor
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSettle(t *testing.T) {
	t.Parallel()

	srv, ledger, monitor := newTestServer(t)
	handID := handid.New()

	rec := postJSON(t, srv.Handler(), "/internal/hands/settle", settleRequest{
		HandID:  handID,
		TableID: "table-1",
		Pot:     1000,
		Winners: []winnerShareRequest{
			{UserID: "alice", Share: 1},
			{UserID: "bob", Share: 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.EqualValues(t, 100, resp.Rake)
	require.EqualValues(t, 900, resp.WinnerAmount)
	require.Equal(t, []payoutResponse{
		{UserID: "alice", Amount: 450},
		{UserID: "bob", Amount: 450},
	}, resp.Payouts)

	require.Contains(t, ledger.settlements, handID)
	require.Len(t, monitor.settled, 1)
}

func TestHandleSettleDuplicateConflicts(t *testing.T) {
	t.Parallel()

	srv, _, monitor := newTestServer(t)
	handID := handid.New()

	req := settleRequest{
		HandID:  handID,
		TableID: "table-1",
		Pot:     1000,
		Winners: []winnerShareRequest{{UserID: "alice", Share: 1}},
	}

	rec := postJSON(t, srv.Handler(), "/internal/hands/settle", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, srv.Handler(), "/internal/hands/settle", req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, monitor.settled, 1, "duplicate must not re-notify monitors")
}

func TestHandleSettleValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		req  settleRequest
	}{
		{
			name: "malformed hand ID",
			req:  settleRequest{HandID: "not-a-hand-id", TableID: "t", Pot: 100},
		},
		{
			name: "missing table ID",
			req:  settleRequest{HandID: handid.New(), Pot: 100},
		},
		{
			name: "negative pot",
			req:  settleRequest{HandID: handid.New(), TableID: "t", Pot: -1},
		},
		{
			name: "non-positive share",
			req: settleRequest{
				HandID:  handid.New(),
				TableID: "t",
				Pot:     100,
				Winners: []winnerShareRequest{{UserID: "alice", Share: 0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := postJSON(t, srv.Handler(), "/internal/hands/settle", tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleRefund(t *testing.T) {
	t.Parallel()

	srv, ledger, monitor := newTestServer(t)
	handID := handid.New()

	rec := postJSON(t, srv.Handler(), "/internal/hands/refund", refundRequest{
		HandID:  handID,
		TableID: "table-1",
		Bets: []betRequest{
			{UserID: "u1", Amount: 100},
			{UserID: "u2", Amount: 0},
			{UserID: "u3", Amount: 50},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp refundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, []payoutResponse{
		{UserID: "u1", Amount: 100},
		{UserID: "u3", Amount: 50},
	}, resp.Refunds)

	require.Contains(t, ledger.refunds, handID)
	require.Len(t, monitor.cancelled, 1)
}

func TestHandleRefundAfterSettleConflicts(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	handID := handid.New()

	rec := postJSON(t, srv.Handler(), "/internal/hands/settle", settleRequest{
		HandID:  handID,
		TableID: "table-1",
		Pot:     1000,
		Winners: []winnerShareRequest{{UserID: "alice", Share: 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, srv.Handler(), "/internal/hands/refund", refundRequest{
		HandID:  handID,
		TableID: "table-1",
		Bets:    []betRequest{{UserID: "alice", Amount: 500}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlePools(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/pools", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var balances store.PoolBalances
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balances))
	require.EqualValues(t, 1200, balances.Treasury)
	require.EqualValues(t, 300, balances.Jackpot)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/hands/settle", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
