// Package catalog manages the structural description of markets: topology
// validation at creation, the OPEN -> CLOSED transition, and lookups.
// Outcome identity is immutable after creation; only the settlement engine
// moves resolution tags.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/store"
)

// OutcomeSpec describes one outcome at market creation.
type OutcomeSpec struct {
	Name string            `json:"name"`
	Side model.OutcomeSide `json:"side"`
}

// Service creates, closes, and looks up markets.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a catalog service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// NewServiceWithClock creates a catalog service with an injected clock.
func NewServiceWithClock(st store.Store, now func() time.Time) *Service {
	return &Service{store: st, now: now}
}

// validateTopology checks the outcome count/shape against the topology.
func validateTopology(topology model.Topology, outcomes []OutcomeSpec) error {
	switch topology {
	case model.TopologyBinary:
		if len(outcomes) != 2 {
			return fmt.Errorf("%w: binary market needs exactly one yes/no pair, got %d outcomes",
				model.ErrInvalidTopology, len(outcomes))
		}
		var yes, no int
		for _, o := range outcomes {
			switch o.Side {
			case model.SideYes:
				yes++
			case model.SideNo:
				no++
			default:
				return fmt.Errorf("%w: binary outcomes must be YES or NO", model.ErrInvalidTopology)
			}
		}
		if yes != 1 || no != 1 {
			return fmt.Errorf("%w: binary market needs one YES and one NO outcome", model.ErrInvalidTopology)
		}
	case model.TopologySingleChoice:
		if len(outcomes) < 2 {
			return fmt.Errorf("%w: single-choice market needs at least two options, got %d",
				model.ErrInvalidTopology, len(outcomes))
		}
		for _, o := range outcomes {
			if o.Side != model.SideOption {
				return fmt.Errorf("%w: single-choice outcomes must be OPTION", model.ErrInvalidTopology)
			}
		}
	case model.TopologyMultiChoice:
		if len(outcomes) < 1 {
			return fmt.Errorf("%w: multi-choice market needs at least one option", model.ErrInvalidTopology)
		}
		for _, o := range outcomes {
			if o.Side != model.SideOption {
				return fmt.Errorf("%w: multi-choice outcomes must be OPTION", model.ErrInvalidTopology)
			}
		}
	default:
		return fmt.Errorf("%w: unknown topology %q", model.ErrInvalidTopology, topology)
	}
	return nil
}

// CreateMarket validates the outcome set against the topology and persists
// a new OPEN market. All outcomes start at price 0.5 with empty pools.
func (s *Service) CreateMarket(ctx context.Context, title string, topology model.Topology, outcomes []OutcomeSpec, closeTime time.Time) (*model.Market, error) {
	if err := validateTopology(topology, outcomes); err != nil {
		return nil, err
	}
	if !closeTime.After(s.now()) {
		return nil, fmt.Errorf("%w: close time must be in the future", model.ErrInvalidTopology)
	}

	half := decimal.NewFromFloat(0.5)
	market := &model.Market{
		ID:        uuid.New().String(),
		Title:     title,
		Topology:  topology,
		Status:    model.StatusOpen,
		CloseTime: closeTime.UTC(),
		CreatedAt: s.now().UTC(),
	}
	for _, spec := range outcomes {
		market.Outcomes = append(market.Outcomes, model.Outcome{
			ID:          uuid.New().String(),
			MarketID:    market.ID,
			Name:        spec.Name,
			Side:        spec.Side,
			PoolFor:     decimal.Zero,
			PoolAgainst: decimal.Zero,
			Price:       half,
		})
	}

	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"id", market.ID,
		"topology", topology,
		"outcomes", len(market.Outcomes),
		"close_time", market.CloseTime,
	)
	return market, nil
}

// CloseMarket transitions OPEN -> CLOSED. Trading is rejected for any
// market not in OPEN state, so closing is the point after which no new
// trades are accepted.
func (s *Service) CloseMarket(ctx context.Context, marketID string) (*model.Market, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: market %s is %s", model.ErrMarketNotOpen, marketID, market.Status)
	}
	if err := s.store.UpdateMarketStatus(ctx, marketID, model.StatusClosed); err != nil {
		return nil, err
	}
	market.Status = model.StatusClosed

	slog.Info("market closed", "id", marketID)
	return market, nil
}

// GetMarket returns a market with its outcomes.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	return s.store.GetMarket(ctx, marketID)
}

// ListMarkets returns all markets.
func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.store.ListMarkets(ctx)
}
