package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Trade rows are keyed by (outcome_id, sequence).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, title, topology, status, close_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Title, m.Topology, m.Status, m.CloseTime, m.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, o := range m.Outcomes {
		_, err = tx.Exec(ctx,
			`INSERT INTO outcomes (id, market_id, name, side, pool_for, pool_against, price, resolution)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
			o.ID, o.MarketID, o.Name, o.Side,
			o.PoolFor.String(), o.PoolAgainst.String(), o.Price.String(),
			o.Resolution,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) scanMarket(ctx context.Context, query string, arg any) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&m.ID, &m.Title, &m.Topology, &m.Status, &m.CloseTime, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, name, side,
		        pool_for::TEXT, pool_against::TEXT, price::TEXT, resolution
		 FROM outcomes WHERE market_id = $1 ORDER BY id`, m.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Outcome
		var poolFor, poolAgainst, price string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Name, &o.Side,
			&poolFor, &poolAgainst, &price, &o.Resolution); err != nil {
			return nil, err
		}
		o.PoolFor, _ = decimal.NewFromString(poolFor)
		o.PoolAgainst, _ = decimal.NewFromString(poolAgainst)
		o.Price, _ = decimal.NewFromString(price)
		m.Outcomes = append(m.Outcomes, o)
	}
	return &m, rows.Err()
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return s.scanMarket(ctx,
		`SELECT id, title, topology, status, close_time, created_at
		 FROM markets WHERE id = $1`, id)
}

func (s *PostgresStore) GetMarketByOutcome(ctx context.Context, outcomeID string) (*model.Market, error) {
	return s.scanMarket(ctx,
		`SELECT m.id, m.title, m.topology, m.status, m.close_time, m.created_at
		 FROM markets m JOIN outcomes o ON o.market_id = m.id
		 WHERE o.id = $1`, outcomeID)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var markets []model.Market
	for _, id := range ids {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateOutcomePools(ctx context.Context, outcomeID string, poolFor, poolAgainst, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outcomes
		 SET pool_for = $2::NUMERIC, pool_against = $3::NUMERIC, price = $4::NUMERIC
		 WHERE id = $1`,
		outcomeID, poolFor.String(), poolAgainst.String(), price.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outcome %s: %w", outcomeID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetResolutions(ctx context.Context, marketID string, tags map[string]model.Resolution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for outcomeID, tag := range tags {
		_, err := tx.Exec(ctx,
			`UPDATE outcomes SET resolution = $2 WHERE id = $1 AND market_id = $3`,
			outcomeID, tag, marketID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	// Sequence assignment and insert in one transaction so the row is
	// either fully visible or absent to concurrent readers.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO trades
		   (id, user_id, market_id, outcome_id, kind, direction,
		    shares, gross_amount, fee_amount, net_amount,
		    price_before, price_after, sequence, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12::NUMERIC,
		         (SELECT COALESCE(MAX(sequence), 0) + 1 FROM trades WHERE outcome_id = $4),
		         $13)
		 RETURNING sequence`,
		t.ID, t.UserID, t.MarketID, t.OutcomeID, t.Kind, t.Direction,
		t.Shares.String(), t.GrossAmount.String(), t.FeeAmount.String(), t.NetAmount.String(),
		t.PriceBefore.String(), t.PriceAfter.String(),
		t.Timestamp,
	).Scan(&t.Sequence)
	if err != nil {
		return appendErr(err, t.OutcomeID)
	}
	if err := tx.Commit(ctx); err != nil {
		return appendErr(err, t.OutcomeID)
	}
	return nil
}

// appendErr maps sequence contention onto the transient conflict sentinel
// so the ledger's retry loop re-reads and re-prices. Two appends racing on
// the same outcome both compute MAX(sequence)+1; the UNIQUE constraint on
// (outcome_id, sequence) rejects the loser with a unique violation, and
// serializable transactions surface the same race as a serialization
// failure.
func appendErr(err error, outcomeID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "40001") {
		return fmt.Errorf("%w: trade sequence contention on outcome %s", model.ErrConflict, outcomeID)
	}
	return err
}

const tradeColumns = `id, user_id, market_id, outcome_id, kind, direction,
		        shares::TEXT, gross_amount::TEXT, fee_amount::TEXT, net_amount::TEXT,
		        price_before::TEXT, price_after::TEXT, sequence, timestamp`

func (s *PostgresStore) queryTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, gross, fee, net, before, after string

		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &t.OutcomeID, &t.Kind, &t.Direction,
			&shares, &gross, &fee, &net, &before, &after,
			&t.Sequence, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Shares, _ = decimal.NewFromString(shares)
		t.GrossAmount, _ = decimal.NewFromString(gross)
		t.FeeAmount, _ = decimal.NewFromString(fee)
		t.NetAmount, _ = decimal.NewFromString(net)
		t.PriceBefore, _ = decimal.NewFromString(before)
		t.PriceAfter, _ = decimal.NewFromString(after)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) TradesByOutcome(ctx context.Context, outcomeID string) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE outcome_id = $1 ORDER BY sequence`, outcomeID)
}

func (s *PostgresStore) TradesByOutcomeUser(ctx context.Context, outcomeID, userID string) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE outcome_id = $1 AND user_id = $2 ORDER BY sequence`, outcomeID, userID)
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE market_id = $1 ORDER BY timestamp, outcome_id, sequence`, marketID)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 ORDER BY timestamp, outcome_id, sequence`, userID)
}

func (s *PostgresStore) TradesInWindow(ctx context.Context, from, to time.Time) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE timestamp >= $1 AND timestamp < $2
		 ORDER BY timestamp, outcome_id, sequence`, from, to)
}

func (s *PostgresStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE settlements SET superseded = TRUE WHERE market_id = $1 AND NOT superseded`,
		rec.MarketID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO settlements (id, market_id, winning_outcome_ids, voided, settled_by, settled_at, superseded)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		rec.ID, rec.MarketID, rec.WinningIDs, rec.Voided, rec.SettledBy, rec.SettledAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CurrentSettlement(ctx context.Context, marketID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, winning_outcome_ids, voided, settled_by, settled_at, superseded
		 FROM settlements WHERE market_id = $1 AND NOT superseded`, marketID).
		Scan(&rec.ID, &rec.MarketID, &rec.WinningIDs, &rec.Voided,
			&rec.SettledBy, &rec.SettledAt, &rec.Superseded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement for market %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) SettlementHistory(ctx context.Context, marketID string) ([]model.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, winning_outcome_ids, voided, settled_by, settled_at, superseded
		 FROM settlements WHERE market_id = $1 ORDER BY settled_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SettlementRecord
	for rows.Next() {
		var rec model.SettlementRecord
		if err := rows.Scan(&rec.ID, &rec.MarketID, &rec.WinningIDs, &rec.Voided,
			&rec.SettledBy, &rec.SettledAt, &rec.Superseded); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
