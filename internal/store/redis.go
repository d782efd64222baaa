package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	if err := s.primary.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) UpdateOutcomePools(ctx context.Context, outcomeID string, poolFor, poolAgainst, price decimal.Decimal) error {
	if err := s.primary.UpdateOutcomePools(ctx, outcomeID, poolFor, poolAgainst, price); err != nil {
		return err
	}
	// Invalidate the owning market; next read re-populates.
	if marketID, err := s.rdb.Get(ctx, outcomeKey(outcomeID)).Result(); err == nil {
		s.rdb.Del(ctx, marketKey(marketID))
	}
	return nil
}

func (s *CachedStore) SetResolutions(ctx context.Context, marketID string, tags map[string]model.Resolution) error {
	if err := s.primary.SetResolutions(ctx, marketID, tags); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(marketID))
	return nil
}

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.AppendTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate the trade-history cache for this user.
	s.rdb.Del(ctx, userTradesKey(t.UserID))
	return nil
}

func (s *CachedStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.primary.SaveSettlement(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(rec.MarketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByOutcome(ctx context.Context, outcomeID string) (*model.Market, error) {
	// Try cache via outcome→marketID mapping.
	marketID, err := s.rdb.Get(ctx, outcomeKey(outcomeID)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketByOutcome(ctx, outcomeID)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, userTradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, userTradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) TradesByOutcome(ctx context.Context, outcomeID string) ([]model.Trade, error) {
	return s.primary.TradesByOutcome(ctx, outcomeID)
}

func (s *CachedStore) TradesByOutcomeUser(ctx context.Context, outcomeID, userID string) ([]model.Trade, error) {
	return s.primary.TradesByOutcomeUser(ctx, outcomeID, userID)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.TradesByMarket(ctx, marketID)
}

func (s *CachedStore) TradesInWindow(ctx context.Context, from, to time.Time) ([]model.Trade, error) {
	return s.primary.TradesInWindow(ctx, from, to)
}

func (s *CachedStore) CurrentSettlement(ctx context.Context, marketID string) (*model.SettlementRecord, error) {
	return s.primary.CurrentSettlement(ctx, marketID)
}

func (s *CachedStore) SettlementHistory(ctx context.Context, marketID string) ([]model.SettlementRecord, error) {
	return s.primary.SettlementHistory(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
	for _, o := range m.Outcomes {
		s.rdb.Set(ctx, outcomeKey(o.ID), m.ID, s.ttl)
	}
}

func marketKey(id string) string       { return fmt.Sprintf("market:%s", id) }
func outcomeKey(id string) string      { return fmt.Sprintf("outcome:%s", id) }
func userTradesKey(uid string) string  { return fmt.Sprintf("usertrades:%s", uid) }
