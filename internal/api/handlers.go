// Package api provides the HTTP request/response boundary over the core:
// market catalog, trade execution, position queries, settlement, and
// leaderboards. Authorization is the caller's concern — settlement accepts
// a pre-authorized actor id and never checks identity itself.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/catalog"
	"github.com/oddsmith/market-engine/internal/ledger"
	"github.com/oddsmith/market-engine/internal/metrics"
	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/position"
	"github.com/oddsmith/market-engine/internal/risk"
	"github.com/oddsmith/market-engine/internal/scoring"
	"github.com/oddsmith/market-engine/internal/settle"
	"github.com/oddsmith/market-engine/internal/store"
)

// Service wires the core components behind HTTP handlers.
type Service struct {
	catalog   *catalog.Service
	ledger    *ledger.Ledger
	positions *position.Service
	settle    *settle.Engine
	scoring   *scoring.Service
	hub       *Hub
	store     store.Store
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(cat *catalog.Service, led *ledger.Ledger, pos *position.Service, eng *settle.Engine, sc *scoring.Service, hub *Hub, st store.Store) *Service {
	s := &Service{
		catalog:   cat,
		ledger:    led,
		positions: pos,
		settle:    eng,
		scoring:   sc,
		hub:       hub,
		store:     st,
	}
	if hub != nil {
		led.OnAppend = hub.BroadcastTrade
	}
	return s
}

// Routes mounts all handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Post("/markets/{marketID}/close", s.CloseMarket)
	r.Post("/markets/{marketID}/trade", s.Trade)
	r.Get("/markets/{marketID}/history", s.MarketHistory)

	r.Post("/admin/markets/{marketID}/settle", s.Settle)
	r.Post("/admin/markets/{marketID}/void", s.Void)
	r.Get("/admin/markets/{marketID}/settlements", s.SettlementHistory)
	r.Post("/admin/users/{userID}/grant", s.Grant)

	r.Get("/users/{userID}/positions", s.ListPositions)
	r.Get("/users/{userID}/balance", s.Balance)
	r.Post("/users/{userID}/positions/{outcomeID}/close", s.ClosePosition)

	r.Get("/leaderboard", s.Leaderboard)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Title     string                `json:"title"`
	Topology  model.Topology        `json:"topology"`
	Outcomes  []catalog.OutcomeSpec `json:"outcomes"`
	CloseTime time.Time             `json:"close_time"`
}

// TradeRequest is the JSON body for POST /markets/{id}/trade.
type TradeRequest struct {
	UserID     string           `json:"user_id"`
	OutcomeID  string           `json:"outcome_id"`
	Direction  model.Direction  `json:"direction"`
	Amount     decimal.Decimal  `json:"amount"`
	AmountType model.AmountType `json:"amount_type"` // defaults to SHARES
}

// SettleRequest is the JSON body for POST /admin/markets/{id}/settle.
// An empty winning set means "none of the above". Calling settle on an
// already-settled market overwrites the prior result.
type SettleRequest struct {
	WinningOutcomeIDs []string `json:"winning_outcome_ids"`
	ActorID           string   `json:"actor_id"`
}

// GrantRequest is the JSON body for POST /admin/users/{id}/grant.
type GrantRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.catalog.CreateMarket(r.Context(), req.Title, req.Topology, req.Outcomes, req.CloseTime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.catalog.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.catalog.ListMarkets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.catalog.CloseMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// Trade handles POST /api/v1/markets/{marketID}/trade
// Executes against the pricing oracle and returns the trade with
// before/after price.
func (s *Service) Trade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AmountType == "" {
		req.AmountType = model.AmountShares
	}

	marketID := chi.URLParam(r, "marketID")
	market, err := s.store.GetMarketByOutcome(r.Context(), req.OutcomeID)
	if err != nil || market.ID != marketID {
		writeError(w, "outcome does not belong to market", http.StatusBadRequest)
		return
	}

	trade, err := s.ledger.ExecuteTrade(r.Context(), req.UserID, req.OutcomeID, req.Direction, req.Amount, req.AmountType)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// MarketHistory handles GET /api/v1/markets/{marketID}/history
func (s *Service) MarketHistory(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.TradesByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// Settle handles POST /api/v1/admin/markets/{marketID}/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.settle.Settle(r.Context(), chi.URLParam(r, "marketID"), req.WinningOutcomeIDs, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.hub != nil {
		s.hub.BroadcastSettlement(*record)
	}
	writeJSON(w, http.StatusOK, record)
}

// Void handles POST /api/v1/admin/markets/{marketID}/void
func (s *Service) Void(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.settle.Void(r.Context(), chi.URLParam(r, "marketID"), req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.hub != nil {
		s.hub.BroadcastSettlement(*record)
	}
	writeJSON(w, http.StatusOK, record)
}

// SettlementHistory handles GET /api/v1/admin/markets/{marketID}/settlements
func (s *Service) SettlementHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.settle.History(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []model.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Grant handles POST /api/v1/admin/users/{userID}/grant
func (s *Service) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := s.ledger.Grant(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// ListPositions handles GET /api/v1/users/{userID}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.positions.ListPositions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// Balance handles GET /api/v1/users/{userID}/balance
func (s *Service) Balance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := s.ledger.AccountBalance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// ClosePosition handles POST /api/v1/users/{userID}/positions/{outcomeID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	trade, err := s.ledger.ClosePosition(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "outcomeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Leaderboard handles GET /api/v1/leaderboard?type=&from=&to=
// Defaults: type PROFIT_AMOUNT, window from the epoch to now.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	typ := scoring.Type(r.URL.Query().Get("type"))
	if typ == "" {
		typ = scoring.TypeProfitAmount
	}

	window := scoring.Window{To: time.Now().UTC()}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		window.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		window.To = t
	}

	entries, err := s.scoring.Compute(r.Context(), typ, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []scoring.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Error mapping ---

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, model.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, risk.ErrPerOutcomeLimitExceeded), errors.Is(err, risk.ErrPerMarketLimitExceeded):
		return "risk_limit"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}

// writeDomainError maps the error taxonomy onto HTTP statuses: validation
// errors 400, state errors 409, missing entities 404, transient conflicts
// 503, everything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidTopology),
		errors.Is(err, model.ErrInvalidWinningSet),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, scoring.ErrInvalidType):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrMarketNotOpen),
		errors.Is(err, model.ErrMarketNotClosed),
		errors.Is(err, model.ErrInsufficientShares),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrNoPosition),
		errors.Is(err, risk.ErrPerOutcomeLimitExceeded),
		errors.Is(err, risk.ErrPerMarketLimitExceeded):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
