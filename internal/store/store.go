// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// ErrNotFound is returned when a market, outcome, or settlement does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The trades table is append-only,
// keyed by (outcome, sequence) for efficient per-outcome folds.
type Store interface {
	// --- Market catalog ---

	// CreateMarket persists a new market with its outcomes.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market (with outcomes) by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByOutcome retrieves the market owning the given outcome.
	GetMarketByOutcome(ctx context.Context, outcomeID string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketStatus moves a market through OPEN -> CLOSED -> SETTLED.
	UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error

	// UpdateOutcomePools writes an outcome's post-trade pool state and price.
	UpdateOutcomePools(ctx context.Context, outcomeID string, poolFor, poolAgainst, price decimal.Decimal) error

	// SetResolutions writes resolution tags for a market's outcomes.
	SetResolutions(ctx context.Context, marketID string, tags map[string]model.Resolution) error

	// --- Immutable trade ledger ---

	// AppendTrade appends an immutable trade row, assigning its per-outcome
	// sequence number.
	AppendTrade(ctx context.Context, trade *model.Trade) error

	// TradesByOutcome returns all trades for an outcome in sequence order.
	TradesByOutcome(ctx context.Context, outcomeID string) ([]model.Trade, error)

	// TradesByOutcomeUser returns one user's trades for an outcome in
	// sequence order.
	TradesByOutcomeUser(ctx context.Context, outcomeID, userID string) ([]model.Trade, error)

	// TradesByMarket returns all trades for a market in append order.
	TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// TradesByUser returns all trades for a user in append order.
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// TradesInWindow returns all trades with from <= timestamp < to,
	// in (timestamp, outcome, sequence) order.
	TradesInWindow(ctx context.Context, from, to time.Time) ([]model.Trade, error)

	// --- Settlement records ---

	// SaveSettlement marks any current record for the market as superseded
	// and inserts the new current record.
	SaveSettlement(ctx context.Context, record *model.SettlementRecord) error

	// CurrentSettlement returns the market's current settlement record,
	// or ErrNotFound if the market has never been settled.
	CurrentSettlement(ctx context.Context, marketID string) (*model.SettlementRecord, error)

	// SettlementHistory returns all settlement records for a market,
	// superseded ones included, oldest first.
	SettlementHistory(ctx context.Context, marketID string) ([]model.SettlementRecord, error)
}
