// Package ledger is the accounting heart of the engine: it appends immutable
// trade rows and is the single write path that can change a user's currency
// balance or share holdings. Nothing else in the core writes balances.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/metrics"
	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/position"
	"github.com/oddsmith/market-engine/internal/pricing"
	"github.com/oddsmith/market-engine/internal/risk"
	"github.com/oddsmith/market-engine/internal/store"
)

// maxRetries bounds transparent retries of transient conflicts before the
// error is surfaced to the caller.
const maxRetries = 3

// Config carries the injected accounting parameters.
type Config struct {
	// FeeRate is the flat fee rate applied to gross trade amounts.
	FeeRate decimal.Decimal
}

// Ledger executes trades against the pricing oracle and appends the results.
type Ledger struct {
	store     store.Store
	oracle    pricing.Oracle
	positions *position.Service
	limiter   *risk.Limiter
	cfg       Config
	locks     *lockTable
	now       func() time.Time

	// OnAppend, when set, is called after every committed ledger row
	// (trades, payouts, reversals). Used for real-time broadcasts.
	OnAppend func(model.Trade)
}

// New creates a ledger. Pass nil for limiter to disable risk limits.
func New(st store.Store, oracle pricing.Oracle, limiter *risk.Limiter, cfg Config) *Ledger {
	return &Ledger{
		store:     st,
		oracle:    oracle,
		positions: position.NewService(st),
		limiter:   limiter,
		cfg:       cfg,
		locks:     newLockTable(),
		now:       time.Now,
	}
}

// SetClock injects a clock for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ExecuteTrade prices and appends one trade. The requested amount is either
// a share quantity or, for buys, a currency amount converted through the
// oracle. The price read and the ledger append are mutually exclusive with
// other trades on the same outcome.
func (l *Ledger) ExecuteTrade(ctx context.Context, userID, outcomeID string, direction model.Direction, amount decimal.Decimal, amountType model.AmountType) (*model.Trade, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidAmount)
	}
	if direction != model.DirectionBuy && direction != model.DirectionSell {
		return nil, fmt.Errorf("%w: direction must be BUY or SELL", model.ErrInvalidAmount)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, model.ErrInvalidAmount
	}
	if amountType == model.AmountCurrency && direction == model.DirectionSell {
		return nil, fmt.Errorf("%w: sells are denominated in shares", model.ErrInvalidAmount)
	}

	var trade *model.Trade
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		trade, err = l.executeOnce(ctx, userID, outcomeID, direction, amount, amountType)
		if !errors.Is(err, model.ErrConflict) {
			break
		}
	}
	return trade, err
}

func (l *Ledger) executeOnce(ctx context.Context, userID, outcomeID string, direction model.Direction, amount decimal.Decimal, amountType model.AmountType) (*model.Trade, error) {
	// Pre-read outside the locks only to learn which market to lock.
	pre, err := l.store.GetMarketByOutcome(ctx, outcomeID)
	if err != nil {
		return nil, err
	}

	start := l.now()

	marketLock := l.locks.market(pre.ID)
	marketLock.RLock()
	defer marketLock.RUnlock()

	outcomeLock := l.locks.outcome(outcomeID)
	outcomeLock.Lock()
	defer outcomeLock.Unlock()

	// Authoritative re-read under the locks.
	market, err := l.store.GetMarketByOutcome(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.StatusOpen || !l.now().Before(market.CloseTime) {
		return nil, fmt.Errorf("%w: market %s", model.ErrMarketNotOpen, market.ID)
	}

	outcome := market.OutcomeByID(outcomeID)
	if outcome == nil {
		return nil, fmt.Errorf("outcome %s: %w", outcomeID, store.ErrNotFound)
	}
	state := pricing.PoolState{For: outcome.PoolFor, Against: outcome.PoolAgainst}

	shares := amount
	if amountType == model.AmountCurrency {
		shares, err = l.oracle.SharesForSpend(state, amount)
		if err != nil {
			return nil, err
		}
	}

	quote, err := l.oracle.Quote(state, direction, shares)
	if err != nil {
		return nil, err
	}

	fee := quote.Gross.Mul(l.cfg.FeeRate).Round(pricing.PriceScale)
	var net decimal.Decimal
	if direction == model.DirectionBuy {
		net = quote.Gross.Add(fee)
	} else {
		net = quote.Gross.Sub(fee)
	}

	// Live fold under the outcome lock: cannot go stale before the append.
	held, err := l.positions.HeldShares(ctx, userID, outcomeID)
	if err != nil {
		return nil, err
	}

	if direction == model.DirectionSell {
		if shares.GreaterThan(held) {
			return nil, fmt.Errorf("%w: have %s, sell %s", model.ErrInsufficientShares, held, shares)
		}
	} else {
		// The funds check and the append must be mutually exclusive per
		// user: buys on other outcomes hold different outcome locks, and
		// without this a concurrent pair could both pass the check against
		// the same balance and overdraw the account. Innermost lock, so
		// the market -> outcome -> user order holds everywhere.
		userLock := l.locks.user(userID)
		userLock.Lock()
		defer userLock.Unlock()

		balance, err := l.AccountBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if net.GreaterThan(balance) {
			return nil, fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, net, balance)
		}
		marketHeld, err := l.marketHeldShares(ctx, userID, market)
		if err != nil {
			return nil, err
		}
		if err := l.limiter.CheckBuy(held, marketHeld, shares); err != nil {
			return nil, err
		}
	}

	trade := &model.Trade{
		ID:          uuid.New().String(),
		UserID:      userID,
		MarketID:    market.ID,
		OutcomeID:   outcomeID,
		Kind:        model.KindOrder,
		Direction:   direction,
		Shares:      shares,
		GrossAmount: quote.Gross,
		FeeAmount:   fee,
		NetAmount:   net,
		PriceBefore: quote.PriceBefore,
		PriceAfter:  quote.PriceAfter,
		Timestamp:   l.now().UTC(),
	}

	// Append first — the ledger is the source of truth — then the derived
	// pool state.
	if err := l.store.AppendTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("append trade: %w", err)
	}
	if err := l.store.UpdateOutcomePools(ctx, outcomeID, quote.NewState.For, quote.NewState.Against, quote.PriceAfter); err != nil {
		return nil, fmt.Errorf("update pools: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(string(direction)).Inc()
	metrics.TradeLatency.WithLabelValues(string(direction)).Observe(l.now().Sub(start).Seconds())

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"user", userID,
		"outcome", outcomeID,
		"direction", direction,
		"shares", shares.String(),
		"net", net.String(),
		"price_after", quote.PriceAfter.String(),
	)

	if l.OnAppend != nil {
		l.OnAppend(*trade)
	}
	return trade, nil
}

// ClosePosition sells the user's entire holding on one outcome. Sugar for
// ExecuteTrade with the currently held share count.
func (l *Ledger) ClosePosition(ctx context.Context, userID, outcomeID string) (*model.Trade, error) {
	held, err := l.positions.HeldShares(ctx, userID, outcomeID)
	if err != nil {
		return nil, err
	}
	if !held.IsPositive() {
		return nil, fmt.Errorf("%w: user %s outcome %s", model.ErrNoPosition, userID, outcomeID)
	}
	return l.ExecuteTrade(ctx, userID, outcomeID, model.DirectionSell, held, model.AmountShares)
}

// Grant appends an adjustment entry crediting a user's balance (season
// capital, admin credits). The only way funds enter a user account.
func (l *Ledger) Grant(ctx context.Context, userID string, amount decimal.Decimal) (*model.Trade, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, model.ErrInvalidAmount
	}

	trade := &model.Trade{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        model.KindAdjustment,
		Shares:      decimal.Zero,
		GrossAmount: amount,
		FeeAmount:   decimal.Zero,
		NetAmount:   amount,
		Timestamp:   l.now().UTC(),
	}
	if err := l.store.AppendTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("append adjustment: %w", err)
	}

	slog.Info("balance granted", "user", userID, "amount", amount.String())
	if l.OnAppend != nil {
		l.OnAppend(*trade)
	}
	return trade, nil
}

// AccountBalance folds a user's ledger rows into their currency balance.
// Balances are never stored; the ledger is the sole source of truth.
func (l *Ledger) AccountBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	trades, err := l.store.TradesByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, t := range trades {
		balance = balance.Add(t.DeltaFor(userID))
	}
	return balance, nil
}

// marketHeldShares folds the user's aggregate held shares across all
// outcomes of one market, for the risk limiter.
func (l *Ledger) marketHeldShares(ctx context.Context, userID string, market *model.Market) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range market.Outcomes {
		held, err := l.positions.HeldShares(ctx, userID, o.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(held)
	}
	return total, nil
}

// --- Settlement write path ---
//
// The settlement engine is the only other producer of ledger rows. It works
// through the two methods below so the single-write-path invariant holds.

// WithMarketLock runs fn holding the market's exclusive lock: no trade on
// any of the market's outcomes can run concurrently with fn.
func (l *Ledger) WithMarketLock(marketID string, fn func() error) error {
	lock := l.locks.market(marketID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// AppendSettlementEntry appends a settlement payout or reversal row. The
// caller must hold the market lock via WithMarketLock.
func (l *Ledger) AppendSettlementEntry(ctx context.Context, trade *model.Trade) error {
	if trade.Kind != model.KindSettlementPayout && trade.Kind != model.KindSettlementReversal {
		return fmt.Errorf("ledger: kind %s is not a settlement entry", trade.Kind)
	}
	if err := l.store.AppendTrade(ctx, trade); err != nil {
		return err
	}
	if l.OnAppend != nil {
		l.OnAppend(*trade)
	}
	return nil
}
