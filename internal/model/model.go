// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topology describes how a market's outcomes relate to each other.
type Topology string

const (
	// TopologyBinary markets carry exactly one YES/NO outcome pair.
	TopologyBinary Topology = "BINARY"
	// TopologySingleChoice markets carry mutually exclusive options;
	// at most one outcome can win.
	TopologySingleChoice Topology = "SINGLE_CHOICE"
	// TopologyMultiChoice markets carry independently resolved options;
	// any subset of outcomes can win.
	TopologyMultiChoice Topology = "MULTI_CHOICE"
)

// Market statuses.
type MarketStatus string

const (
	StatusOpen    MarketStatus = "OPEN"
	StatusClosed  MarketStatus = "CLOSED"
	StatusSettled MarketStatus = "SETTLED"
)

// Outcome sides.
type OutcomeSide string

const (
	SideYes    OutcomeSide = "YES"
	SideNo     OutcomeSide = "NO"
	SideOption OutcomeSide = "OPTION"
)

// Resolution tags, set exactly once per settlement (replaced on re-settlement).
type Resolution string

const (
	ResolutionNone    Resolution = ""
	ResolutionWinning Resolution = "WINNING"
	ResolutionLosing  Resolution = "LOSING"
	ResolutionVoid    Resolution = "VOID"
)

// Trade directions.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TradeKind distinguishes user orders from system-generated ledger rows.
type TradeKind string

const (
	KindOrder              TradeKind = "ORDER"
	KindSettlementPayout   TradeKind = "SETTLEMENT_PAYOUT"
	KindSettlementReversal TradeKind = "SETTLEMENT_REVERSAL"
	KindAdjustment         TradeKind = "ADJUSTMENT"
)

// AmountType says whether a trade request is denominated in shares or currency.
type AmountType string

const (
	AmountShares   AmountType = "SHARES"
	AmountCurrency AmountType = "CURRENCY"
)

// Internal ledger accounts. The house reserve takes the opposite side of
// every user row; the fee pool is the only account value can leak into.
const (
	AccountHouse   = "house:reserve"
	AccountFeePool = "house:fees"
)

// Market is the structural description of a question: its topology, status,
// close time, and the set of tradable outcomes it decomposes into.
// Outcome identity is immutable after creation; only resolution tags move.
type Market struct {
	ID        string       `json:"id" db:"id"`
	Title     string       `json:"title" db:"title"`
	Topology  Topology     `json:"topology" db:"topology"`
	Status    MarketStatus `json:"status" db:"status"`
	CloseTime time.Time    `json:"close_time" db:"close_time"`
	Outcomes  []Outcome    `json:"outcomes"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Outcome is a single tradable proposition within a market. PoolFor/PoolAgainst
// are the quantity pools the pricing oracle folds into a quote; Price is the
// last quoted probability for display reads.
type Outcome struct {
	ID          string          `json:"id" db:"id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	Name        string          `json:"name" db:"name"`
	Side        OutcomeSide     `json:"side" db:"side"`
	PoolFor     decimal.Decimal `json:"pool_for" db:"pool_for"`
	PoolAgainst decimal.Decimal `json:"pool_against" db:"pool_against"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Resolution  Resolution      `json:"resolution,omitempty" db:"resolution"`
}

// Trade is an immutable, append-only ledger row. Once created, these are
// never modified or deleted. Sequence is assigned per outcome at append time.
//
// NetAmount = GrossAmount + FeeAmount on BUY (debit) and
// GrossAmount − FeeAmount on SELL (credit).
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	OutcomeID   string          `json:"outcome_id" db:"outcome_id"`
	Kind        TradeKind       `json:"kind" db:"kind"`
	Direction   Direction       `json:"direction" db:"direction"`
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	GrossAmount decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	FeeAmount   decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	NetAmount   decimal.Decimal `json:"net_amount" db:"net_amount"`
	PriceBefore decimal.Decimal `json:"price_before" db:"price_before"`
	PriceAfter  decimal.Decimal `json:"price_after" db:"price_after"`
	Sequence    int64           `json:"sequence" db:"sequence"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// DeltaFor returns the signed balance movement this row causes for the given
// account. Every row is zero-sum across {user, house reserve, fee pool}, so
// conservation over any set of rows holds by construction.
func (t Trade) DeltaFor(account string) decimal.Decimal {
	switch account {
	case t.UserID:
		return t.userDelta()
	case AccountHouse:
		return t.houseDelta()
	case AccountFeePool:
		return t.FeeAmount
	default:
		return decimal.Zero
	}
}

func (t Trade) userDelta() decimal.Decimal {
	switch t.Kind {
	case KindOrder:
		if t.Direction == DirectionBuy {
			return t.NetAmount.Neg()
		}
		return t.NetAmount
	case KindSettlementPayout, KindAdjustment:
		return t.NetAmount
	case KindSettlementReversal:
		return t.NetAmount.Neg()
	}
	return decimal.Zero
}

func (t Trade) houseDelta() decimal.Decimal {
	switch t.Kind {
	case KindOrder:
		if t.Direction == DirectionBuy {
			return t.GrossAmount
		}
		return t.GrossAmount.Neg()
	case KindSettlementPayout, KindAdjustment:
		return t.NetAmount.Neg()
	case KindSettlementReversal:
		return t.NetAmount
	}
	return decimal.Zero
}

// Position is a user's derived holding in one outcome: a weighted-average-cost
// fold over that user's trades. Never stored independently.
type Position struct {
	UserID        string          `json:"user_id"`
	MarketID      string          `json:"market_id"`
	OutcomeID     string          `json:"outcome_id"`
	OutcomeName   string          `json:"outcome_name"`
	Shares        decimal.Decimal `json:"shares"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// SettlementRecord holds the current resolution of a market. Exactly one
// current record exists per settled market; superseded records are retained
// as history for audit.
type SettlementRecord struct {
	ID         string    `json:"id" db:"id"`
	MarketID   string    `json:"market_id" db:"market_id"`
	WinningIDs []string  `json:"winning_outcome_ids"`
	Voided     bool      `json:"voided" db:"voided"`
	SettledBy  string    `json:"settled_by" db:"settled_by"`
	SettledAt  time.Time `json:"settled_at" db:"settled_at"`
	Superseded bool      `json:"superseded" db:"superseded"`
}

// OutcomeByID returns the market's outcome with the given id, or nil.
func (m *Market) OutcomeByID(id string) *Outcome {
	for i := range m.Outcomes {
		if m.Outcomes[i].ID == id {
			return &m.Outcomes[i]
		}
	}
	return nil
}
