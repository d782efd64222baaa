// Package scoring projects the ledger into seasonal leaderboards. Pure
// aggregation over trades and settlement payouts in a season window; given
// an identical ledger snapshot the output is byte-identical.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/store"
)

// Leaderboard types.
type Type string

const (
	TypeProfitRate   Type = "PROFIT_RATE"
	TypeProfitAmount Type = "PROFIT_AMOUNT"
	TypeLossAmount   Type = "LOSS_AMOUNT"
)

// ErrInvalidType is returned for an unknown leaderboard type.
var ErrInvalidType = fmt.Errorf("scoring: unknown leaderboard type")

// Window is a half-open season interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Entry is one ranked row.
type Entry struct {
	Rank       int             `json:"rank"`
	UserID     string          `json:"user_id"`
	Score      decimal.Decimal `json:"score"`
	AchievedAt time.Time       `json:"achieved_at"`
}

// Service computes leaderboards from the ledger.
type Service struct {
	store store.Store
}

// NewService creates a scoring service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

type userAgg struct {
	profit      decimal.Decimal // net ledger movement from trading and settlement
	capitalBase decimal.Decimal // season-start balance plus in-window grants
	achievedAt  time.Time       // timestamp of the last movement forming the score
}

// Compute aggregates the season window into an ordered list of (user,
// score). Ties break by earliest achievement of the score, then user id,
// so the ordering is stable and deterministic.
func (s *Service) Compute(ctx context.Context, typ Type, window Window) ([]Entry, error) {
	switch typ {
	case TypeProfitRate, TypeProfitAmount, TypeLossAmount:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	// Everything up to the window end; rows before the window form each
	// user's season starting balance.
	trades, err := s.store.TradesInWindow(ctx, time.Time{}, window.To)
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]*userAgg)
	var users []string
	get := func(userID string) *userAgg {
		a, ok := aggs[userID]
		if !ok {
			a = &userAgg{}
			aggs[userID] = a
			users = append(users, userID)
		}
		return a
	}

	for _, t := range trades {
		a := get(t.UserID)
		delta := t.DeltaFor(t.UserID)

		if t.Timestamp.Before(window.From) {
			a.capitalBase = a.capitalBase.Add(delta)
			continue
		}
		if t.Kind == model.KindAdjustment {
			// Season-start rewards and credits grow the capital base,
			// not the profit.
			a.capitalBase = a.capitalBase.Add(delta)
			continue
		}
		a.profit = a.profit.Add(delta)
		if t.Timestamp.After(a.achievedAt) {
			a.achievedAt = t.Timestamp
		}
	}

	var entries []Entry
	for _, userID := range users {
		a := aggs[userID]
		if a.achievedAt.IsZero() {
			continue // no season activity
		}

		var score decimal.Decimal
		switch typ {
		case TypeProfitAmount:
			score = a.profit
		case TypeLossAmount:
			score = a.profit.Neg()
		case TypeProfitRate:
			if !a.capitalBase.IsPositive() {
				continue
			}
			score = a.profit.Div(a.capitalBase).Round(8)
		}
		entries = append(entries, Entry{
			UserID:     userID,
			Score:      score,
			AchievedAt: a.achievedAt,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Score.Equal(entries[j].Score) {
			return entries[i].Score.GreaterThan(entries[j].Score)
		}
		if !entries[i].AchievedAt.Equal(entries[j].AchievedAt) {
			return entries[i].AchievedAt.Before(entries[j].AchievedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
