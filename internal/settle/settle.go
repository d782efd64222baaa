// Package settle resolves closed markets: it validates the winning set
// against the market's topology, pays out holders through the ledger, and
// freezes further trading. Re-settlement is a first-class operation —
// replaying an identical winning set is a no-op, and a different winning
// set reverses the prior payouts before applying new ones.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/ledger"
	"github.com/oddsmith/market-engine/internal/metrics"
	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/position"
	"github.com/oddsmith/market-engine/internal/store"
)

// Config carries the injected settlement parameters.
type Config struct {
	// PayoutUnit is the currency paid per share of a winning outcome.
	PayoutUnit decimal.Decimal
}

// Engine settles markets. All payout and reversal rows go through the
// ledger's settlement write path under the market's exclusive lock.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	cfg    Config
	now    func() time.Time
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, led *ledger.Ledger, cfg Config) *Engine {
	return &Engine{store: st, ledger: led, cfg: cfg, now: time.Now}
}

// SetClock injects a clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Settle resolves a market to the given winning outcome set (empty set =
// "none of the above"). The market must be CLOSED or already SETTLED; the
// actor is pre-authorized by the caller.
func (e *Engine) Settle(ctx context.Context, marketID string, winningIDs []string, actorID string) (*model.SettlementRecord, error) {
	var record *model.SettlementRecord
	err := e.ledger.WithMarketLock(marketID, func() error {
		var err error
		record, err = e.settleLocked(ctx, marketID, winningIDs, actorID, false)
		return err
	})
	return record, err
}

// Void resolves a market as void: every outcome is tagged VOID and each
// holder is refunded the remaining cost basis of their position.
func (e *Engine) Void(ctx context.Context, marketID, actorID string) (*model.SettlementRecord, error) {
	var record *model.SettlementRecord
	err := e.ledger.WithMarketLock(marketID, func() error {
		var err error
		record, err = e.settleLocked(ctx, marketID, nil, actorID, true)
		return err
	})
	return record, err
}

func (e *Engine) settleLocked(ctx context.Context, marketID string, winningIDs []string, actorID string, void bool) (*model.SettlementRecord, error) {
	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status == model.StatusOpen {
		return nil, fmt.Errorf("%w: market %s is OPEN", model.ErrMarketNotClosed, marketID)
	}

	winning, err := validateWinningSet(market, winningIDs)
	if err != nil {
		return nil, err
	}

	// Replay with an identical result is a no-op success, not an error.
	if market.Status == model.StatusSettled {
		current, err := e.store.CurrentSettlement(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if current.Voided == void && sameSet(current.WinningIDs, winning) {
			metrics.SettlementsTotal.WithLabelValues("noop").Inc()
			return current, nil
		}
		// Different result: reverse the prior payouts first, never double-pay.
		if err := e.reverseActivePayouts(ctx, market); err != nil {
			return nil, err
		}
	}

	if err := e.applyPayouts(ctx, market, winning, void); err != nil {
		return nil, err
	}

	tags := make(map[string]model.Resolution, len(market.Outcomes))
	inWinning := toSet(winning)
	for _, o := range market.Outcomes {
		switch {
		case void:
			tags[o.ID] = model.ResolutionVoid
		case inWinning[o.ID]:
			tags[o.ID] = model.ResolutionWinning
		default:
			tags[o.ID] = model.ResolutionLosing
		}
	}
	if err := e.store.SetResolutions(ctx, marketID, tags); err != nil {
		return nil, err
	}

	resettled := market.Status == model.StatusSettled
	if !resettled {
		if err := e.store.UpdateMarketStatus(ctx, marketID, model.StatusSettled); err != nil {
			return nil, err
		}
	}

	record := &model.SettlementRecord{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		WinningIDs: winning,
		Voided:     void,
		SettledBy:  actorID,
		SettledAt:  e.now().UTC(),
	}
	if err := e.store.SaveSettlement(ctx, record); err != nil {
		return nil, err
	}

	result := "settled"
	switch {
	case void:
		result = "voided"
	case resettled:
		result = "resettled"
	}
	metrics.SettlementsTotal.WithLabelValues(result).Inc()

	slog.Info("market settled",
		"market", marketID,
		"winning", winning,
		"voided", void,
		"actor", actorID,
		"resettled", resettled,
	)
	return record, nil
}

// validateWinningSet checks membership and the topology's mutual-exclusion
// rule, returning the deduplicated set.
func validateWinningSet(market *model.Market, winningIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(winningIDs))
	var winning []string
	for _, id := range winningIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if market.OutcomeByID(id) == nil {
			return nil, fmt.Errorf("%w: outcome %s does not belong to market %s",
				model.ErrInvalidWinningSet, id, market.ID)
		}
		winning = append(winning, id)
	}

	if market.Topology == model.TopologySingleChoice && len(winning) > 1 {
		return nil, fmt.Errorf("%w: single-choice market accepts at most one winning outcome, got %d",
			model.ErrInvalidWinningSet, len(winning))
	}
	return winning, nil
}

// reverseActivePayouts appends a reversal row for every payout of the
// market's current settlement, restoring positions and balances to their
// pre-settlement state.
func (e *Engine) reverseActivePayouts(ctx context.Context, market *model.Market) error {
	trades, err := e.store.TradesByMarket(ctx, market.ID)
	if err != nil {
		return err
	}

	// A settlement creates at most one payout per (user, outcome); a
	// reversal cancels the most recent one. Whatever remains unmatched is
	// the active settlement's payout set.
	type key struct{ user, outcome string }
	active := make(map[key][]model.Trade)
	for _, t := range trades {
		k := key{t.UserID, t.OutcomeID}
		switch t.Kind {
		case model.KindSettlementPayout:
			active[k] = append(active[k], t)
		case model.KindSettlementReversal:
			if n := len(active[k]); n > 0 {
				active[k] = active[k][:n-1]
			}
		}
	}

	var payouts []model.Trade
	for _, stack := range active {
		payouts = append(payouts, stack...)
	}
	sort.Slice(payouts, func(i, j int) bool {
		if payouts[i].OutcomeID != payouts[j].OutcomeID {
			return payouts[i].OutcomeID < payouts[j].OutcomeID
		}
		return payouts[i].Sequence < payouts[j].Sequence
	})

	for _, p := range payouts {
		reversal := &model.Trade{
			ID:          uuid.New().String(),
			UserID:      p.UserID,
			MarketID:    p.MarketID,
			OutcomeID:   p.OutcomeID,
			Kind:        model.KindSettlementReversal,
			Shares:      p.Shares,
			GrossAmount: p.GrossAmount,
			FeeAmount:   decimal.Zero,
			NetAmount:   p.NetAmount,
			PriceBefore: p.PriceAfter,
			PriceAfter:  p.PriceBefore,
			Timestamp:   e.now().UTC(),
		}
		if err := e.ledger.AppendSettlementEntry(ctx, reversal); err != nil {
			return fmt.Errorf("reverse payout %s: %w", p.ID, err)
		}
	}

	slog.Info("prior settlement reversed", "market", market.ID, "payouts", len(payouts))
	return nil
}

// applyPayouts appends one payout row per holder per outcome. Winning
// shares pay PayoutUnit each; losing shares pay zero and are extinguished;
// void refunds the position's remaining cost basis.
func (e *Engine) applyPayouts(ctx context.Context, market *model.Market, winning []string, void bool) error {
	inWinning := toSet(winning)
	totalPaid := decimal.Zero

	for _, o := range market.Outcomes {
		trades, err := e.store.TradesByOutcome(ctx, o.ID)
		if err != nil {
			return err
		}

		byUser := make(map[string][]model.Trade)
		var users []string
		for _, t := range trades {
			if _, ok := byUser[t.UserID]; !ok {
				users = append(users, t.UserID)
			}
			byUser[t.UserID] = append(byUser[t.UserID], t)
		}
		sort.Strings(users)

		for _, userID := range users {
			snap := position.Fold(byUser[userID])
			if !snap.Shares.IsPositive() {
				continue
			}

			var net decimal.Decimal
			var terminal decimal.Decimal
			switch {
			case void:
				net = snap.CostBasis
				terminal = o.Price
			case inWinning[o.ID]:
				net = snap.Shares.Mul(e.cfg.PayoutUnit)
				terminal = decimal.NewFromInt(1)
			default:
				net = decimal.Zero
				terminal = decimal.Zero
			}

			payout := &model.Trade{
				ID:          uuid.New().String(),
				UserID:      userID,
				MarketID:    market.ID,
				OutcomeID:   o.ID,
				Kind:        model.KindSettlementPayout,
				Shares:      snap.Shares,
				GrossAmount: net,
				FeeAmount:   decimal.Zero,
				NetAmount:   net,
				PriceBefore: o.Price,
				PriceAfter:  terminal,
				Timestamp:   e.now().UTC(),
			}
			if err := e.ledger.AppendSettlementEntry(ctx, payout); err != nil {
				return fmt.Errorf("payout user %s outcome %s: %w", userID, o.ID, err)
			}
			totalPaid = totalPaid.Add(net)
		}
	}

	metrics.PayoutTotal.WithLabelValues(market.ID).Add(totalPaid.InexactFloat64())
	return nil
}

// History returns the market's settlement records, superseded included.
func (e *Engine) History(ctx context.Context, marketID string) ([]model.SettlementRecord, error) {
	return e.store.SettlementHistory(ctx, marketID)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
