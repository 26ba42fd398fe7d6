// match.go implements spec §4.3's matching algorithm: admission escrow,
// price-time-priority crossing, self-trade prevention, and the
// price-improvement refund / market-order liquidity ceiling resolved open
// questions of spec §9. The book itself (internal/book) only ever sees a
// single YES-denominated price line; this file is the translation layer
// that lets a BUY NO or SELL NO intent cross against it and still settle
// into the submitting user's own (outcome-specific) ledger position.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/priceconv"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// toBookSpace translates a user-facing (outcome, side, price) triple into
// the book's native YES-space (side, price) per spec §4.1's duality:
// buy_YES(p) ≡ sell_NO(1-p), sell_YES(p) ≡ buy_NO(1-p).
func toBookSpace(outcome domain.Outcome, side domain.Side, price money.Price) (book.Side, money.Price) {
	if outcome == domain.YES {
		if side == domain.Buy {
			return book.SideBid, price
		}
		return book.SideAsk, price
	}
	// NO: BUY NO @ p books as SELL YES @ 1-p; SELL NO @ p books as BUY YES @ 1-p.
	if side == domain.Buy {
		return book.SideAsk, priceconv.SellYESFromBuyNO(price)
	}
	return book.SideBid, priceconv.BuyYESFromSellNO(price)
}

// originalPriceFromBook converts a book-space (YES) fill price back to the
// price space of outcome, the inverse of toBookSpace.
func originalPriceFromBook(outcome domain.Outcome, bookPrice money.Price) money.Price {
	if outcome == domain.YES {
		return bookPrice
	}
	return bookPrice.Complement()
}

type pendingFill struct {
	restingOrderID uuid.UUID
	qty            money.Amount
}

func (e *Engine) processSubmit(ctx context.Context, w *marketWorker, intent OrderIntent) (SubmissionResult, error) {
	orderID := uuid.New()
	bookSide, bookPrice := toBookSpace(intent.Outcome, intent.Side, intent.Price)

	reservedPrice := intent.Price
	if intent.Kind == domain.Market {
		reservedPrice = money.OneDollar
	}

	var (
		events      []EventRecord
		trades      []TradeResult
		fills       []pendingFill
		order       OrderState
		insertSelf  bool
		escrowFail  error
	)

	err := e.store.Tx(ctx, func(tx *gorm.DB) error {
		market, err := e.store.GetMarket(tx, intent.MarketID)
		if err != nil {
			return err
		}
		if market.Status != domain.MarketOpen {
			return xerrors.New(xerrors.CodeMarketNotOpen)
		}

		if intent.Side == domain.Buy {
			if err := e.store.ReserveFunds(tx, intent.UserID, reservedPrice.Cost(intent.Quantity)); err != nil {
				escrowFail = err
				return err
			}
		} else {
			if err := e.store.CommitShares(tx, intent.UserID, intent.MarketID, intent.Outcome, intent.Quantity); err != nil {
				escrowFail = err
				return err
			}
		}

		now := time.Now()
		row := &ledger.Order{
			ID: orderID, MarketID: intent.MarketID, UserID: intent.UserID,
			Side: intent.Side, Kind: intent.Kind, Outcome: intent.Outcome,
			Price: intent.Price, Quantity: intent.Quantity, Status: domain.StatusPending,
		}
		if err := e.store.InsertOrder(tx, row); err != nil {
			return err
		}

		if err := e.appendEvent(ctx, tx, w, orderID, intent.MarketID, intent.UserID, domain.EventCreated, intent); err != nil {
			return err
		}

		remaining := intent.Quantity
		crossFn := func(level *book.PriceLevel) bool {
			if remaining <= 0 {
				return false
			}
			if intent.Kind == domain.Limit {
				if bookSide == book.SideBid && level.Price > bookPrice {
					return false
				}
				if bookSide == book.SideAsk && level.Price < bookPrice {
					return false
				}
			}
			for _, resting := range level.Orders() {
				if remaining <= 0 {
					break
				}
				rm, ok := w.meta[resting.OrderID]
				if !ok {
					continue
				}
				if resting.UserID == intent.UserID {
					events = append(events, EventRecord{
						OrderID: orderID, MarketID: intent.MarketID, UserID: intent.UserID,
						Kind: domain.EventSelfTradePrevented,
						Data: map[string]any{"against_order_id": resting.OrderID},
					})
					continue
				}
				fillQty := money.MinAmount(remaining, resting.Remaining())
				if fillQty <= 0 {
					continue
				}

				tradePrice := level.Price
				var buyerID, sellerID, buyOrderID, sellOrderID uuid.UUID
				if bookSide == book.SideBid {
					buyerID, buyOrderID = intent.UserID, orderID
					sellerID, sellOrderID = resting.UserID, resting.OrderID
				} else {
					sellerID, sellOrderID = intent.UserID, orderID
					buyerID, buyOrderID = resting.UserID, resting.OrderID
				}

				tradeID := ledger.NewTradeID(w.book.Sequence(), len(trades))
				if err = e.store.InsertTrade(tx, &ledger.Trade{
					ID: tradeID, MarketID: intent.MarketID, Outcome: domain.YES,
					BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
					BuyerID: buyerID, SellerID: sellerID,
					Price: tradePrice, Quantity: fillQty,
				}); err != nil {
					return false
				}

				if err = e.settleParty(tx, intent.UserID, intent.MarketID, intent.Outcome, intent.Side, reservedPrice, tradePrice, fillQty); err != nil {
					return false
				}
				if err = e.settleParty(tx, resting.UserID, intent.MarketID, rm.Outcome, rm.OriginalSide, rm.ReservedPrice, tradePrice, fillQty); err != nil {
					return false
				}

				restingFilled := resting.Filled + fillQty
				restingStatus := domain.StatusPartial
				if restingFilled >= resting.Quantity {
					restingStatus = domain.StatusFilled
				}
				if err = e.store.UpdateOrderProgress(tx, resting.OrderID, restingFilled, restingStatus); err != nil {
					return false
				}
				restingEventKind := domain.EventPartialFill
				if restingStatus == domain.StatusFilled {
					restingEventKind = domain.EventFilled
				}
				if err = e.appendEvent(ctx, tx, w, resting.OrderID, intent.MarketID, resting.UserID, restingEventKind, fillQty); err != nil {
					return false
				}

				remaining -= fillQty
				fills = append(fills, pendingFill{restingOrderID: resting.OrderID, qty: fillQty})
				trades = append(trades, TradeResult{
					TradeID: tradeID, MarketID: intent.MarketID, Outcome: domain.YES,
					BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
					BuyerID: buyerID, SellerID: sellerID,
					Price: tradePrice, Quantity: fillQty, CreatedAt: now,
				})
				if err = e.appendEvent(ctx, tx, w, orderID, intent.MarketID, intent.UserID, domain.EventTrade, trades[len(trades)-1]); err != nil {
					return false
				}
			}
			return remaining > 0
		}
		if bookSide == book.SideBid {
			w.book.WalkAsks(crossFn)
		} else {
			w.book.WalkBids(crossFn)
		}
		if err != nil {
			return err
		}

		filled := intent.Quantity - remaining
		status := domain.StatusOpen
		var cancelReason domain.CancelReason
		switch {
		case remaining == 0:
			status = domain.StatusFilled
		case filled > 0:
			status = domain.StatusPartial
		}
		if intent.Kind == domain.Market && remaining > 0 {
			status = domain.StatusCancelled
			cancelReason = domain.CancelReasonInsufficientLiquid
			if intent.Side == domain.Buy {
				if err := e.store.ReleaseFunds(tx, intent.UserID, reservedPrice.Cost(remaining)); err != nil {
					return err
				}
			} else {
				if err := e.store.ReleaseCommittedShares(tx, intent.UserID, intent.MarketID, intent.Outcome, remaining); err != nil {
					return err
				}
			}
			if err := e.appendEvent(ctx, tx, w, orderID, intent.MarketID, intent.UserID, domain.EventCancelled, cancelReason); err != nil {
				return err
			}
		} else if status != domain.StatusFilled && status != domain.StatusCancelled {
			insertSelf = true
		}
		if err := e.store.UpdateOrderProgress(tx, orderID, filled, status); err != nil {
			return err
		}

		order = OrderState{
			OrderID: orderID, MarketID: intent.MarketID, UserID: intent.UserID,
			Side: intent.Side, Kind: intent.Kind, Outcome: intent.Outcome,
			Price: intent.Price, Quantity: intent.Quantity, Filled: filled,
			Status: status, CancelReason: cancelReason, CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		if escrowFail != nil {
			e.recordRejection(ctx, w, orderID, intent, escrowFail)
		}
		return SubmissionResult{}, err
	}

	for _, f := range fills {
		if resting, ok := w.book.Order(f.restingOrderID); ok {
			w.book.RecordFill(resting, f.qty)
			if resting.Remaining() <= 0 {
				w.book.Remove(f.restingOrderID)
				delete(w.meta, f.restingOrderID)
			}
		}
	}
	if len(trades) > 0 {
		w.book.SetLastTrade(trades[len(trades)-1].Price)
	}
	if insertSelf {
		w.book.Insert(bookSide, orderID, intent.UserID, bookPrice, intent.Quantity, order.Filled, order.CreatedAt)
		w.meta[orderID] = &restingMeta{
			OriginalSide: intent.Side, Outcome: intent.Outcome,
			OriginalPrice: intent.Price, ReservedPrice: reservedPrice,
		}
	}
	w.book.NextSequence()
	e.publishBookAndTrades(ctx, intent.MarketID, w, trades)

	return SubmissionResult{Order: order, Trades: trades, Events: events}, nil
}

// settleParty applies one fill's worth of ledger updates for one side of a
// trade, in that party's own (original) outcome and side.
func (e *Engine) settleParty(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome, side domain.Side, reservedPrice, bookFillPrice money.Price, qty money.Amount) error {
	originalPrice := originalPriceFromBook(outcome, bookFillPrice)
	if side == domain.Buy {
		reservedCost := reservedPrice.Cost(qty)
		actualCost := originalPrice.Cost(qty)
		if err := e.store.SettleBuyerLock(tx, userID, reservedCost, actualCost); err != nil {
			return err
		}
		return e.store.ApplyBuyFill(tx, userID, marketID, outcome, qty, originalPrice)
	}
	if err := e.store.ApplySellFill(tx, userID, marketID, outcome, qty); err != nil {
		return err
	}
	return e.store.CreditAvailable(tx, userID, originalPrice.Cost(qty))
}

func (e *Engine) appendEvent(ctx context.Context, tx *gorm.DB, w *marketWorker, orderID, marketID, userID uuid.UUID, kind domain.EventKind, data any) error {
	return e.store.Events().Append(ctx, tx, &ledger.Envelope{
		OrderID: orderID, MarketID: marketID, UserID: userID,
		Kind: kind, Sequence: w.book.NextSequence(), Data: data,
	})
}

// recordRejection persists the REJECTED audit event spec §8 S4 requires for
// an order whose escrow check failed ("no event emitted except a REJECTED
// audit entry scoped to the user"). The order's own Tx already rolled back
// by the time this runs, so the CREATED event and the order row it would
// have referenced never committed; this write happens on its own, after
// that rollback, rather than inside the failed Tx itself.
func (e *Engine) recordRejection(ctx context.Context, w *marketWorker, orderID uuid.UUID, intent OrderIntent, cause error) {
	err := e.store.Events().Append(ctx, nil, &ledger.Envelope{
		OrderID: orderID, MarketID: intent.MarketID, UserID: intent.UserID,
		Kind: domain.EventRejected, Sequence: w.book.NextSequence(),
		Data: map[string]any{"reason": cause.Error()},
	})
	if err != nil {
		e.logger.Warn("failed to record rejected order event", zap.Error(err))
	}
}

func (e *Engine) publishBookAndTrades(ctx context.Context, marketID uuid.UUID, w *marketWorker, trades []TradeResult) {
	if e.bus == nil {
		return
	}
	bids, asks, seq := w.book.Snapshot(50)
	e.registry.StoreSnapshot(marketID, 50, bids, asks, seq)
	if _, err := e.bus.Publish(ctx, broadcast.MarketBookTopic(marketID), domain.EventBookDelta, toSnapshot(marketID, bids, asks, seq, e.registry)); err != nil {
		e.logger.Warn("book broadcast failed", zap.Error(err))
	}
	for _, t := range trades {
		if _, err := e.bus.Publish(ctx, broadcast.MarketTradesTopic(marketID), domain.EventTrade, t); err != nil {
			e.logger.Warn("trade broadcast failed", zap.Error(err))
		}
	}
}

// processCancel implements spec §4.3 cancel(): removes a resting order,
// releases its escrow, and emits CANCELLED with CancelReasonUser. An order
// that is no longer resting is looked up in the ledger: an already CANCELLED
// one is returned as it stands, any other status is NOT_CANCELLABLE.
func (e *Engine) processCancel(ctx context.Context, w *marketWorker, orderID, userID uuid.UUID) (CancellationResult, error) {
	resting, ok := w.book.Order(orderID)
	if !ok {
		o, err := e.store.OrderByID(ctx, orderID)
		if err != nil {
			return CancellationResult{}, err
		}
		if o.UserID != userID {
			return CancellationResult{}, xerrors.New(xerrors.CodeNotOwner)
		}
		if o.Status != domain.StatusCancelled {
			return CancellationResult{}, xerrors.New(xerrors.CodeNotCancellable)
		}
		return CancellationResult{Order: OrderState{OrderID: o.ID, MarketID: o.MarketID, UserID: o.UserID,
			Side: o.Side, Kind: o.Kind, Outcome: o.Outcome, Price: o.Price, Quantity: o.Quantity,
			Filled: o.Filled, Status: o.Status, CreatedAt: o.CreatedAt}}, nil
	}
	if resting.UserID != userID {
		return CancellationResult{}, xerrors.New(xerrors.CodeNotOwner)
	}
	rm, ok := w.meta[orderID]
	if !ok {
		return CancellationResult{}, xerrors.New(xerrors.CodeInvariantViolation)
	}

	remaining := resting.Remaining()
	var order OrderState
	err := e.store.Tx(ctx, func(tx *gorm.DB) error {
		if rm.OriginalSide == domain.Buy {
			originalPrice := rm.ReservedPrice
			if err := e.store.ReleaseFunds(tx, userID, originalPrice.Cost(remaining)); err != nil {
				return err
			}
		} else {
			if err := e.store.ReleaseCommittedShares(tx, userID, w.marketID, rm.Outcome, remaining); err != nil {
				return err
			}
		}
		if err := e.store.UpdateOrderProgress(tx, orderID, resting.Filled, domain.StatusCancelled); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, w, orderID, w.marketID, userID, domain.EventCancelled, domain.CancelReasonUser)
	})
	if err != nil {
		return CancellationResult{}, err
	}

	w.book.Remove(orderID)
	delete(w.meta, orderID)
	w.book.NextSequence()
	order = OrderState{
		OrderID: orderID, MarketID: w.marketID, UserID: userID,
		Side: rm.OriginalSide, Outcome: rm.Outcome, Price: rm.OriginalPrice,
		Quantity: resting.Quantity, Filled: resting.Filled,
		Status: domain.StatusCancelled, CancelReason: domain.CancelReasonUser,
	}
	e.publishBookAndTrades(ctx, w.marketID, w, nil)
	return CancellationResult{Order: order}, nil
}
