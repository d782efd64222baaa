package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	trades      []model.Trade
	seq         map[string]int64 // per-outcome sequence counters
	settlements map[string][]model.SettlementRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		seq:         make(map[string]int64),
		settlements: make(map[string][]model.SettlementRecord),
	}
}

func copyMarket(m *model.Market) *model.Market {
	cp := *m
	cp.Outcomes = append([]model.Outcome(nil), m.Outcomes...)
	return &cp
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) GetMarketByOutcome(_ context.Context, outcomeID string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		for i := range m.Outcomes {
			if m.Outcomes[i].ID == outcomeID {
				return copyMarket(m), nil
			}
		}
	}
	return nil, fmt.Errorf("outcome %s: %w", outcomeID, ErrNotFound)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.Before(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id string, status model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) UpdateOutcomePools(_ context.Context, outcomeID string, poolFor, poolAgainst, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.markets {
		for i := range m.Outcomes {
			if m.Outcomes[i].ID == outcomeID {
				m.Outcomes[i].PoolFor = poolFor
				m.Outcomes[i].PoolAgainst = poolAgainst
				m.Outcomes[i].Price = price
				return nil
			}
		}
	}
	return fmt.Errorf("outcome %s: %w", outcomeID, ErrNotFound)
}

func (s *MemoryStore) SetResolutions(_ context.Context, marketID string, tags map[string]model.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	for i := range m.Outcomes {
		if tag, ok := tags[m.Outcomes[i].ID]; ok {
			m.Outcomes[i].Resolution = tag
		}
	}
	return nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[t.OutcomeID]++
	t.Sequence = s.seq[t.OutcomeID]
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) filterTrades(pred func(*model.Trade) bool) []model.Trade {
	var result []model.Trade
	for i := range s.trades {
		if pred(&s.trades[i]) {
			result = append(result, s.trades[i])
		}
	}
	return result
}

func (s *MemoryStore) TradesByOutcome(_ context.Context, outcomeID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterTrades(func(t *model.Trade) bool { return t.OutcomeID == outcomeID }), nil
}

func (s *MemoryStore) TradesByOutcomeUser(_ context.Context, outcomeID, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterTrades(func(t *model.Trade) bool {
		return t.OutcomeID == outcomeID && t.UserID == userID
	}), nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterTrades(func(t *model.Trade) bool { return t.MarketID == marketID }), nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterTrades(func(t *model.Trade) bool { return t.UserID == userID }), nil
}

func (s *MemoryStore) TradesInWindow(_ context.Context, from, to time.Time) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.filterTrades(func(t *model.Trade) bool {
		return !t.Timestamp.Before(from) && t.Timestamp.Before(to)
	})
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.OutcomeID != b.OutcomeID {
			return a.OutcomeID < b.OutcomeID
		}
		return a.Sequence < b.Sequence
	})
	return trades, nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.settlements[rec.MarketID]
	for i := range history {
		history[i].Superseded = true
	}
	cp := *rec
	cp.WinningIDs = append([]string(nil), rec.WinningIDs...)
	s.settlements[rec.MarketID] = append(history, cp)
	return nil
}

func (s *MemoryStore) CurrentSettlement(_ context.Context, marketID string) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.settlements[marketID]
	if len(history) == 0 {
		return nil, fmt.Errorf("settlement for market %s: %w", marketID, ErrNotFound)
	}
	cp := history[len(history)-1]
	cp.WinningIDs = append([]string(nil), cp.WinningIDs...)
	return &cp, nil
}

func (s *MemoryStore) SettlementHistory(_ context.Context, marketID string) ([]model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.SettlementRecord(nil), s.settlements[marketID]...), nil
}
