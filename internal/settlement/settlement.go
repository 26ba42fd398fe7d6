// Package settlement implements the Settlement Service of spec §4.4: the
// CLOSED -> RESOLVED transition that cancels every resting order, releases
// escrow, and pays out winning positions. Every position payout in
// ResolveMarket runs against the same *gorm.DB transaction handle inside
// which the resting-order cancellations and the final status update also
// run, since spec §4.4 step 3 requires the whole resolution to "commit in a
// single transaction scoped to the market" — position payouts are therefore
// applied one at a time on that shared handle rather than fanned out onto a
// worker pool (a *sql.Tx is bound to one connection; concurrent writers on
// it race instead of gaining anything).
package settlement

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// Service owns market resolution and closure (spec §4.4). It does not run
// a worker loop of its own: ResolveMarket/CloseMarket are invoked directly
// by the admin control plane (internal/adminrpc) and by the REST admin
// routes (internal/api); Service itself does not serialize those calls.
type Service struct {
	store    *ledger.Store
	registry *book.Registry
	bus      broadcast.Bus
	logger   *zap.Logger
}

// New builds a Service.
func New(store *ledger.Store, registry *book.Registry, bus broadcast.Bus, logger *zap.Logger) (*Service, error) {
	return &Service{store: store, registry: registry, bus: bus, logger: logger}, nil
}

// Close is a no-op kept so callers can defer/Cleanup it uniformly with
// other collaborators that do own releasable resources.
func (s *Service) Close() {}

// CloseMarket transitions a market from OPEN to CLOSED: no further orders
// are admitted, but resting orders and escrow are untouched until
// resolution (spec §4.4 step 0, spec §6 Commands: CloseMarket).
func (s *Service) CloseMarket(ctx context.Context, marketID uuid.UUID) error {
	return s.store.Tx(ctx, func(tx *gorm.DB) error {
		m, err := s.store.GetMarket(tx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketOpen {
			return xerrors.New(xerrors.CodeMarketNotOpen)
		}
		if err := s.store.UpdateMarketStatus(tx, marketID, domain.MarketClosed, nil); err != nil {
			return err
		}
		return s.store.Events().Append(ctx, tx, &ledger.Envelope{
			MarketID: marketID, Kind: domain.EventMarketClosed, Sequence: s.nextSeq(marketID),
		})
	})
}

// ResolveMarket implements spec §4.4: cancel all resting orders releasing
// their escrow, pay out every position in the winning outcome at $1.00 per
// share, zero every position, and mark the market RESOLVED — all inside a
// single market-scoped transaction (spec §4.4 "the whole operation commits
// or none of it does").
func (s *Service) ResolveMarket(ctx context.Context, marketID uuid.UUID, outcome domain.Outcome) error {
	b, _ := s.registry.Lookup(marketID)

	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		m, err := s.store.GetMarket(tx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketClosed {
			return xerrors.New(xerrors.CodeMarketNotOpen)
		}

		orders, err := s.store.OpenOrdersForMarket(tx, marketID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if err := s.cancelForResolution(ctx, tx, marketID, o); err != nil {
				return err
			}
		}

		positions, err := s.store.PositionsForMarket(tx, marketID)
		if err != nil {
			return err
		}
		if err := s.payout(ctx, tx, marketID, outcome, positions); err != nil {
			return err
		}

		if err := s.store.UpdateMarketStatus(tx, marketID, domain.MarketResolved, &outcome); err != nil {
			return err
		}
		return s.store.Events().Append(ctx, tx, &ledger.Envelope{
			MarketID: marketID, Kind: domain.EventMarketResolved, Sequence: s.nextSeq(marketID), Data: outcome,
		})
	})
	if err != nil {
		return err
	}

	if b != nil {
		s.registry.Teardown(marketID)
	}
	if s.bus != nil {
		s.bus.Publish(ctx, broadcast.MarketTradesTopic(marketID), domain.EventMarketResolved, outcome)
	}
	return nil
}

func (s *Service) cancelForResolution(ctx context.Context, tx *gorm.DB, marketID uuid.UUID, o ledger.Order) error {
	remaining := o.Remaining()
	if o.Side == domain.Buy {
		if err := s.store.ReleaseFunds(tx, o.UserID, o.Price.Cost(remaining)); err != nil {
			return err
		}
	} else {
		if err := s.store.ReleaseCommittedShares(tx, o.UserID, marketID, o.Outcome, remaining); err != nil {
			return err
		}
	}
	if err := s.store.UpdateOrderProgress(tx, o.ID, o.Filled, domain.StatusCancelled); err != nil {
		return err
	}
	return s.store.Events().Append(ctx, tx, &ledger.Envelope{
		OrderID: o.ID, MarketID: marketID, UserID: o.UserID,
		Kind: domain.EventCancelled, Sequence: s.nextSeq(marketID), Data: domain.CancelReasonMarketResolved,
	})
}

// payout credits winning-share holders and zeroes every position (spec
// §4.4 steps 2-3: "credit winning outcome holders $1.00 per share; zero
// every position"), one position at a time on tx. The loop stays
// sequential on purpose: tx is the single transaction the whole resolution
// commits in, and a *sql.Tx is bound to one connection, so concurrent
// writers on it would race rather than parallelize anything.
func (s *Service) payout(ctx context.Context, tx *gorm.DB, marketID uuid.UUID, outcome domain.Outcome, positions []ledger.Position) error {
	for _, pos := range positions {
		if err := s.payoutOne(ctx, tx, marketID, outcome, pos); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) payoutOne(ctx context.Context, tx *gorm.DB, marketID uuid.UUID, outcome domain.Outcome, pos ledger.Position) error {
	if pos.Outcome == outcome && pos.Quantity > 0 {
		payout := money.OneDollar.Cost(pos.Quantity)
		if err := s.store.CreditAvailable(tx, pos.UserID, payout); err != nil {
			return err
		}
	}
	return s.store.ZeroPosition(tx, pos.UserID, marketID, pos.Outcome)
}

// CancelMarket implements the operator-initiated cancellation path (spec
// §3 MarketStatus CANCELLED): every resting order is released exactly as
// on resolution, but no payout occurs since there was no winning outcome.
func (s *Service) CancelMarket(ctx context.Context, marketID uuid.UUID) error {
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		m, err := s.store.GetMarket(tx, marketID)
		if err != nil {
			return err
		}
		if m.Status == domain.MarketResolved || m.Status == domain.MarketCancelled {
			return xerrors.New(xerrors.CodeMarketNotOpen)
		}
		orders, err := s.store.OpenOrdersForMarket(tx, marketID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if err := s.cancelForResolution(ctx, tx, marketID, o); err != nil {
				return err
			}
		}
		positions, err := s.store.PositionsForMarket(tx, marketID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if err := s.store.ZeroPosition(tx, pos.UserID, marketID, pos.Outcome); err != nil {
				return err
			}
		}
		if err := s.store.UpdateMarketStatus(tx, marketID, domain.MarketCancelled, nil); err != nil {
			return err
		}
		return s.store.Events().Append(ctx, tx, &ledger.Envelope{
			MarketID: marketID, Kind: domain.EventMarketCancelled, Sequence: s.nextSeq(marketID),
		})
	})
	if err != nil {
		return err
	}
	s.registry.Teardown(marketID)
	return nil
}

func (s *Service) nextSeq(marketID uuid.UUID) uint64 {
	if b, ok := s.registry.Lookup(marketID); ok {
		return b.NextSequence()
	}
	return 1
}
