package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/api"
	"github.com/oddsmith/market-engine/internal/catalog"
	"github.com/oddsmith/market-engine/internal/ledger"
	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/position"
	"github.com/oddsmith/market-engine/internal/pricing"
	"github.com/oddsmith/market-engine/internal/scoring"
	"github.com/oddsmith/market-engine/internal/settle"
	"github.com/oddsmith/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	ms := store.NewMemoryStore()
	led := ledger.New(ms, pricing.NewFixed(d(0.5)), nil, ledger.Config{FeeRate: decimal.Zero})
	cat := catalog.NewService(ms)
	pos := position.NewService(ms)
	eng := settle.NewEngine(ms, led, settle.Config{PayoutUnit: decimal.NewFromInt(1)})
	sc := scoring.NewService(ms)

	svc := api.NewService(cat, led, pos, eng, sc, nil, ms)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createBinaryMarket(t *testing.T, h http.Handler) model.Market {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets", api.CreateMarketRequest{
		Title:    "rain tomorrow",
		Topology: model.TopologyBinary,
		Outcomes: []catalog.OutcomeSpec{
			{Name: "Yes", Side: model.SideYes},
			{Name: "No", Side: model.SideNo},
		},
		CloseTime: time.Now().Add(24 * time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[model.Market](t, rec)
}

func grant(t *testing.T, h http.Handler, userID string, amount float64) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/users/"+userID+"/grant", api.GrantRequest{Amount: d(amount)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndGetMarket(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/markets/"+m.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get market: status %d", rec.Code)
	}
	got := decode[model.Market](t, rec)
	if got.ID != m.ID || got.Status != model.StatusOpen || len(got.Outcomes) != 2 {
		t.Errorf("market = %+v", got)
	}
}

func TestCreateMarket_InvalidTopologyIs400(t *testing.T) {
	h := newRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets", api.CreateMarketRequest{
		Title:     "bad",
		Topology:  model.TopologyBinary,
		Outcomes:  []catalog.OutcomeSpec{{Name: "Yes", Side: model.SideYes}},
		CloseTime: time.Now().Add(time.Hour),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetMarket_UnknownIs404(t *testing.T) {
	h := newRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/markets/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListMarkets_EmptyIsArray(t *testing.T) {
	h := newRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestTradeFlow(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)
	yes := m.Outcomes[0].ID
	grant(t, h, "alice", 100)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID:    "alice",
		OutcomeID: yes,
		Direction: model.DirectionBuy,
		Amount:    d(10),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("trade: status %d body %s", rec.Code, rec.Body.String())
	}
	trade := decode[model.Trade](t, rec)
	if !trade.Shares.Equal(d(10)) || !trade.NetAmount.Equal(d(5)) {
		t.Errorf("trade = %+v, want 10 shares net 5", trade)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/alice/balance", nil)
	balance := decode[map[string]decimal.Decimal](t, rec)
	if !balance["balance"].Equal(d(95)) {
		t.Errorf("balance = %s, want 95", balance["balance"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/alice/positions", nil)
	positions := decode[[]model.Position](t, rec)
	if len(positions) != 1 || !positions[0].Shares.Equal(d(10)) {
		t.Errorf("positions = %+v, want one with 10 shares", positions)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/markets/"+m.ID+"/history", nil)
	history := decode[[]model.Trade](t, rec)
	if len(history) != 1 {
		t.Errorf("history = %d trades, want 1", len(history))
	}
}

func TestTrade_OutcomeMustBelongToMarket(t *testing.T) {
	h := newRouter(t)
	m1 := createBinaryMarket(t, h)
	m2 := createBinaryMarket(t, h)
	grant(t, h, "alice", 100)

	// Outcome from m2 posted against m1's path.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m1.ID+"/trade", api.TradeRequest{
		UserID:    "alice",
		OutcomeID: m2.Outcomes[0].ID,
		Direction: model.DirectionBuy,
		Amount:    d(1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrade_OversellIs409(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID:    "alice",
		OutcomeID: m.Outcomes[0].ID,
		Direction: model.DirectionSell,
		Amount:    d(5),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestTrade_InsufficientFundsIs409(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID:    "pauper",
		OutcomeID: m.Outcomes[0].ID,
		Direction: model.DirectionBuy,
		Amount:    d(10),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestClosePositionEndpoint(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)
	yes := m.Outcomes[0].ID
	grant(t, h, "alice", 100)

	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID: "alice", OutcomeID: yes, Direction: model.DirectionBuy, Amount: d(10),
	})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/users/alice/positions/"+yes+"/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: status %d body %s", rec.Code, rec.Body.String())
	}
	trade := decode[model.Trade](t, rec)
	if trade.Direction != model.DirectionSell || !trade.Shares.Equal(d(10)) {
		t.Errorf("trade = %+v, want full sell of 10", trade)
	}

	// No position left to close.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/users/alice/positions/"+yes+"/close", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-close status = %d, want 409", rec.Code)
	}
}

func TestSettlementFlow(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)
	yes := m.Outcomes[0].ID
	grant(t, h, "alice", 100)

	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID: "alice", OutcomeID: yes, Direction: model.DirectionBuy, Amount: d(10),
	})

	// Settling an open market is a state error.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/markets/"+m.ID+"/settle", api.SettleRequest{
		WinningOutcomeIDs: []string{yes}, ActorID: "admin",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("settle while open: status %d, want 409", rec.Code)
	}

	if rec := doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/close", nil); rec.Code != http.StatusOK {
		t.Fatalf("close: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/markets/"+m.ID+"/settle", api.SettleRequest{
		WinningOutcomeIDs: []string{yes}, ActorID: "admin",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: status %d body %s", rec.Code, rec.Body.String())
	}
	record := decode[model.SettlementRecord](t, rec)
	if record.Voided || record.SettledBy != "admin" {
		t.Errorf("record = %+v", record)
	}

	// 100 − 5 stake + 10 payout.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/alice/balance", nil)
	balance := decode[map[string]decimal.Decimal](t, rec)
	if !balance["balance"].Equal(d(105)) {
		t.Errorf("balance = %s, want 105", balance["balance"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/admin/markets/"+m.ID+"/settlements", nil)
	records := decode[[]model.SettlementRecord](t, rec)
	if len(records) != 1 {
		t.Errorf("settlements = %d, want 1", len(records))
	}
}

func TestVoidEndpoint(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)
	grant(t, h, "alice", 100)
	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID: "alice", OutcomeID: m.Outcomes[0].ID, Direction: model.DirectionBuy, Amount: d(10),
	})
	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/close", nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/markets/"+m.ID+"/void", api.SettleRequest{ActorID: "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("void: status %d body %s", rec.Code, rec.Body.String())
	}
	record := decode[model.SettlementRecord](t, rec)
	if !record.Voided {
		t.Errorf("record not voided: %+v", record)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/alice/balance", nil)
	balance := decode[map[string]decimal.Decimal](t, rec)
	if !balance["balance"].Equal(d(100)) {
		t.Errorf("balance = %s, want refunded 100", balance["balance"])
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)
	yes := m.Outcomes[0].ID
	grant(t, h, "alice", 100)
	grant(t, h, "bob", 100)
	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID: "alice", OutcomeID: yes, Direction: model.DirectionBuy, Amount: d(10),
	})
	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/trade", api.TradeRequest{
		UserID: "bob", OutcomeID: m.Outcomes[1].ID, Direction: model.DirectionBuy, Amount: d(10),
	})
	doJSON(t, h, http.MethodPost, "/api/v1/markets/"+m.ID+"/close", nil)
	doJSON(t, h, http.MethodPost, "/api/v1/admin/markets/"+m.ID+"/settle", api.SettleRequest{
		WinningOutcomeIDs: []string{yes}, ActorID: "admin",
	})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/leaderboard?type=PROFIT_AMOUNT", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: status %d body %s", rec.Code, rec.Body.String())
	}
	entries := decode[[]scoring.Entry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].UserID != "alice" || !entries[0].Score.Equal(d(5)) {
		t.Errorf("first = %+v, want alice profit 5", entries[0])
	}
	if entries[1].UserID != "bob" || !entries[1].Score.Equal(d(-5)) {
		t.Errorf("second = %+v, want bob loss 5", entries[1])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/leaderboard?type=BOGUS", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus type status = %d, want 400", rec.Code)
	}
}

func TestGrant_InvalidAmountIs400(t *testing.T) {
	h := newRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/users/alice/grant", api.GrantRequest{Amount: d(-1)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrade_MalformedBodyIs400(t *testing.T) {
	h := newRouter(t)
	m := createBinaryMarket(t, h)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/markets/%s/trade", m.ID), bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
