// Package position derives holdings from the trade ledger. A position is
// never stored: it is a fold over one user's trades for one outcome, using
// weighted-average costing — every partial sell removes cost basis in
// proportion to shares sold relative to shares held just before the sell.
package position

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/store"
)

// Snapshot is the result of folding one user's trades for one outcome.
type Snapshot struct {
	Shares      decimal.Decimal
	CostBasis   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// payoutFrame remembers the state a settlement payout extinguished, so a
// later reversal restores the exact pre-settlement position.
type payoutFrame struct {
	shares decimal.Decimal
	cost   decimal.Decimal
	net    decimal.Decimal
}

// Fold replays trades in sequence order into a position snapshot.
func Fold(trades []model.Trade) Snapshot {
	var snap Snapshot
	var stack []payoutFrame

	for _, t := range trades {
		switch t.Kind {
		case model.KindOrder:
			if t.Direction == model.DirectionBuy {
				snap.Shares = snap.Shares.Add(t.Shares)
				snap.CostBasis = snap.CostBasis.Add(t.NetAmount)
				continue
			}
			// Proportional cost removal: removed = cost * sold / held.
			removed := decimal.Zero
			if snap.Shares.IsPositive() {
				removed = snap.CostBasis.Mul(t.Shares).Div(snap.Shares)
			}
			snap.RealizedPnL = snap.RealizedPnL.Add(t.NetAmount.Sub(removed))
			snap.Shares = snap.Shares.Sub(t.Shares)
			snap.CostBasis = snap.CostBasis.Sub(removed)

		case model.KindSettlementPayout:
			stack = append(stack, payoutFrame{
				shares: snap.Shares,
				cost:   snap.CostBasis,
				net:    t.NetAmount,
			})
			snap.RealizedPnL = snap.RealizedPnL.Add(t.NetAmount.Sub(snap.CostBasis))
			snap.Shares = decimal.Zero
			snap.CostBasis = decimal.Zero

		case model.KindSettlementReversal:
			if len(stack) == 0 {
				continue // unmatched reversal, nothing to restore
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			snap.RealizedPnL = snap.RealizedPnL.Sub(f.net.Sub(f.cost))
			snap.Shares = f.shares
			snap.CostBasis = f.cost
		}
	}
	return snap
}

// Service answers position queries over the ledger.
type Service struct {
	store store.Store
}

// NewService creates a position service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// HeldShares returns the user's current shares on one outcome, computed
// from a live fold over prior trades. The ledger calls this inside the
// per-outcome lock for the oversell check, so the result cannot go stale
// across the check-then-act window.
func (s *Service) HeldShares(ctx context.Context, userID, outcomeID string) (decimal.Decimal, error) {
	trades, err := s.store.TradesByOutcomeUser(ctx, outcomeID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return Fold(trades).Shares, nil
}

// GetPosition returns the user's derived position for one outcome, valued
// at the outcome's current price.
func (s *Service) GetPosition(ctx context.Context, userID, outcomeID string) (*model.Position, error) {
	market, err := s.store.GetMarketByOutcome(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.TradesByOutcomeUser(ctx, outcomeID, userID)
	if err != nil {
		return nil, err
	}
	outcome := market.OutcomeByID(outcomeID)
	if outcome == nil {
		return nil, fmt.Errorf("outcome %s: %w", outcomeID, store.ErrNotFound)
	}
	return build(userID, market, outcome, Fold(trades)), nil
}

// ListPositions returns the user's positions across all outcomes they have
// ever traded. Closed positions (zero shares) are included for their
// realized P&L history.
func (s *Service) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	trades, err := s.store.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byOutcome := make(map[string][]model.Trade)
	var order []string
	for _, t := range trades {
		if t.OutcomeID == "" {
			continue // balance adjustments carry no position
		}
		if _, ok := byOutcome[t.OutcomeID]; !ok {
			order = append(order, t.OutcomeID)
		}
		byOutcome[t.OutcomeID] = append(byOutcome[t.OutcomeID], t)
	}

	markets := make(map[string]*model.Market)
	var positions []model.Position
	for _, outcomeID := range order {
		outcomeTrades := byOutcome[outcomeID]
		marketID := outcomeTrades[0].MarketID
		market, ok := markets[marketID]
		if !ok {
			market, err = s.store.GetMarket(ctx, marketID)
			if err != nil {
				return nil, err
			}
			markets[marketID] = market
		}
		outcome := market.OutcomeByID(outcomeID)
		if outcome == nil {
			continue
		}
		positions = append(positions, *build(userID, market, outcome, Fold(outcomeTrades)))
	}
	return positions, nil
}

func build(userID string, market *model.Market, outcome *model.Outcome, snap Snapshot) *model.Position {
	value := snap.Shares.Mul(outcome.Price)
	return &model.Position{
		UserID:        userID,
		MarketID:      market.ID,
		OutcomeID:     outcome.ID,
		OutcomeName:   outcome.Name,
		Shares:        snap.Shares,
		CostBasis:     snap.CostBasis,
		CurrentPrice:  outcome.Price,
		CurrentValue:  value,
		RealizedPnL:   snap.RealizedPnL,
		UnrealizedPnL: value.Sub(snap.CostBasis),
	}
}
