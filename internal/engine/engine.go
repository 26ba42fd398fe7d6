// Package engine implements the Matching Engine of spec §4.3: the single
// writer per market that validates, escrows, matches, and settles order
// commands atomically. Structurally it follows the design note in spec §9
// ("a per-market worker that reads a bounded inbound channel of command
// messages... yields the per-market total order without requiring
// distributed locks") and the teacher's channel-per-concern idiom in
// pkg/matching/engine_types.go (TradeChan/OrderChan/CancelChan), generalized
// to one bounded command channel per market instead of three global ones.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/priceconv"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// Config tunes the matching engine (spec §6 environment tunables relevant
// to this layer).
type Config struct {
	TickSize         money.Price
	MinOrderQuantity money.Amount
	// CommandQueueDepth bounds each market's inbound command channel.
	CommandQueueDepth int
	// CommandRatePerSecond throttles per-market command admission as an
	// internal backpressure valve, distinct from the ingress-facing
	// per-client-IP rate limits applied in internal/api/middleware (spec §9
	// DOMAIN STACK table: "internal backpressure, distinct from the
	// ingress limiter").
	CommandRatePerSecond rate.Limit
}

// DefaultConfig returns sane defaults for tests and local runs.
func DefaultConfig() Config {
	return Config{
		TickSize:             1,
		MinOrderQuantity:     money.Amount(1 * money.AmountScale / 10000), // placeholder, overridden by config.Resolved
		CommandQueueDepth:    1024,
		CommandRatePerSecond: 500,
	}
}

// Engine owns one Registry of market books and one worker goroutine per
// market that has seen at least one command.
type Engine struct {
	cfg      Config
	registry *book.Registry
	store    *ledger.Store
	bus      broadcast.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]*marketWorker

	seenIdempotency sync.Map // string -> *SubmissionResult, best-effort in-memory dedup
}

func New(cfg Config, registry *book.Registry, store *ledger.Store, bus broadcast.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		store:    store,
		bus:      bus,
		logger:   logger,
		workers:  make(map[uuid.UUID]*marketWorker),
	}
}

// command is the inbound message processed by a marketWorker; exactly one
// of the two fields is populated.
type command struct {
	submit *submitJob
	cancel *cancelJob
}

type submitJob struct {
	ctx    context.Context
	intent OrderIntent
	reply  chan submitReply
}

type submitReply struct {
	result SubmissionResult
	err    error
}

type cancelJob struct {
	ctx     context.Context
	orderID uuid.UUID
	userID  uuid.UUID
	reply   chan cancelReply
}

type cancelReply struct {
	result CancellationResult
	err    error
}

// marketWorker is the per-market single writer (spec §5 "logically
// single-writer per market"). Its inbox is a bounded channel so a slow
// market never blocks submission to others (spec §5 "distinct markets MAY
// execute concurrently").
type marketWorker struct {
	marketID uuid.UUID
	book     *book.Book
	inbox    chan command
	limiter  *rate.Limiter

	// meta carries the ORIGINAL (as submitted) side, outcome, and escrow
	// price of every resting order, keyed by order id. The book package
	// itself is outcome-agnostic (spec §4.2 "two price-ordered
	// collections" unified into one YES-priced structure here, see
	// internal/book's doc comment); this map is what lets match.go convert
	// a book-space fill back into the correct per-user, per-outcome ledger
	// update. It is read and written only from this worker's own
	// goroutine, so it needs no lock of its own.
	meta map[uuid.UUID]*restingMeta
}

// restingMeta is the engine-private counterpart to book.RestingOrder.
type restingMeta struct {
	OriginalSide  domain.Side
	Outcome       domain.Outcome
	OriginalPrice money.Price // zero for a market order
	ReservedPrice money.Price // price the BUY-side escrow was locked at; unused for SELL
}

func (e *Engine) workerFor(marketID uuid.UUID) *marketWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[marketID]; ok {
		return w
	}
	w := &marketWorker{
		marketID: marketID,
		book:     e.registry.Acquire(marketID),
		inbox:    make(chan command, e.cfg.CommandQueueDepth),
		limiter:  rate.NewLimiter(e.cfg.CommandRatePerSecond, int(e.cfg.CommandRatePerSecond)),
		meta:     make(map[uuid.UUID]*restingMeta),
	}
	e.workers[marketID] = w
	go e.run(w)
	return w
}

func (e *Engine) run(w *marketWorker) {
	for cmd := range w.inbox {
		if err := w.limiter.Wait(context.Background()); err != nil {
			continue
		}
		switch {
		case cmd.submit != nil:
			res, err := e.processSubmit(cmd.submit.ctx, w, cmd.submit.intent)
			cmd.submit.reply <- submitReply{result: res, err: err}
		case cmd.cancel != nil:
			res, err := e.processCancel(cmd.cancel.ctx, w, cmd.cancel.orderID, cmd.cancel.userID)
			cmd.cancel.reply <- cancelReply{result: res, err: err}
		}
	}
}

// SubmitOrder enqueues intent on its market's worker and blocks for the
// result (spec §6 Commands: SubmitOrder). Suspension here is the "waiting
// on the market's command queue" point of spec §5; once processing begins
// on the worker it runs to completion without interruption.
func (e *Engine) SubmitOrder(ctx context.Context, intent OrderIntent) (SubmissionResult, error) {
	if intent.IdempotencyKey != "" {
		if v, ok := e.seenIdempotency.Load(intent.IdempotencyKey); ok {
			return v.(SubmissionResult), nil
		}
	}
	if err := validateIntent(intent, e.cfg); err != nil {
		return SubmissionResult{}, err
	}
	w := e.workerFor(intent.MarketID)
	reply := make(chan submitReply, 1)
	select {
	case w.inbox <- command{submit: &submitJob{ctx: ctx, intent: intent, reply: reply}}:
	case <-ctx.Done():
		return SubmissionResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		if r.err == nil && intent.IdempotencyKey != "" {
			e.seenIdempotency.Store(intent.IdempotencyKey, r.result)
		}
		return r.result, r.err
	case <-ctx.Done():
		return SubmissionResult{}, ctx.Err()
	}
}

// CancelOrder enqueues a cancel request on the order's market worker (spec
// §6 Commands: CancelOrder). The caller supplies marketID because the
// in-memory book is keyed by market; callers that only have an order id
// should resolve its market via the ledger first (internal/api's
// CancelOrder handler does this via ledger.Store.OrderByID).
func (e *Engine) CancelOrder(ctx context.Context, marketID, orderID, userID uuid.UUID) (CancellationResult, error) {
	w := e.workerFor(marketID)
	reply := make(chan cancelReply, 1)
	select {
	case w.inbox <- command{cancel: &cancelJob{ctx: ctx, orderID: orderID, userID: userID, reply: reply}}:
	case <-ctx.Done():
		return CancellationResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return CancellationResult{}, ctx.Err()
	}
}

// Snapshot returns the aggregated top-of-book view for marketID (spec §6
// Commands: GetOrderBookSnapshot). Reads go through the registry's short-TTL
// cache; on a miss they take the book's read lock, so they are not lock-free.
func (e *Engine) Snapshot(marketID uuid.UUID, depth int) Snapshot {
	if bids, asks, seq, ok := e.registry.CachedSnapshot(marketID, depth); ok {
		return toSnapshot(marketID, bids, asks, seq, e.registry)
	}
	b, ok := e.registry.Lookup(marketID)
	if !ok {
		return Snapshot{MarketID: marketID, Sequence: 0, ImpliedP: 50}
	}
	bids, asks, seq := b.Snapshot(depth)
	e.registry.StoreSnapshot(marketID, depth, bids, asks, seq)
	return toSnapshot(marketID, bids, asks, seq, e.registry)
}

func toSnapshot(marketID uuid.UUID, bids, asks []book.LevelView, seq uint64, reg *book.Registry) Snapshot {
	var lastTrade *money.Price
	var bestBid, bestAsk *money.Price
	if b, ok := reg.Lookup(marketID); ok {
		lastTrade = b.LastTrade()
	}
	if len(bids) > 0 {
		bestBid = &bids[0].Price
	}
	if len(asks) > 0 {
		bestAsk = &asks[0].Price
	}
	return Snapshot{
		MarketID: marketID,
		YESBids:  toLevelViews(bids),
		YESAsks:  toLevelViews(asks),
		Sequence: seq,
		ImpliedP: priceconv.ImpliedProbability(lastTrade, bestBid, bestAsk),
	}
}

func toLevelViews(in []book.LevelView) []LevelView {
	out := make([]LevelView, len(in))
	for i, v := range in {
		out[i] = LevelView{Price: v.Price, TotalRemainingQty: v.TotalRemainingQty, OrderCount: v.OrderCount}
	}
	return out
}

func validateIntent(intent OrderIntent, cfg Config) error {
	if intent.Quantity <= 0 || intent.Quantity%cfg.MinOrderQuantity != 0 {
		return xerrors.New(xerrors.CodeInvalidQuantity)
	}
	if intent.Kind == domain.Limit {
		if !intent.Price.InRange() || !intent.Price.AlignedTo(cfg.TickSize) {
			return xerrors.New(xerrors.CodeInvalidPrice)
		}
	}
	return nil
}

// RebuildFromLedger replays every OPEN/PARTIAL order for marketID back
// into a fresh in-memory book, ordered by (price, created_at) (spec §5
// "Matching engine crash: on restart, the engine rebuilds each market's
// in-memory book by replaying OPEN/PARTIAL orders from the ledger").
func (e *Engine) RebuildFromLedger(ctx context.Context, marketID uuid.UUID) error {
	w := e.workerFor(marketID)
	return e.store.Tx(ctx, func(tx *gorm.DB) error {
		orders, err := e.store.OpenOrdersForMarket(tx, marketID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			bookSide, bookPrice := toBookSpace(o.Outcome, o.Side, o.Price)
			w.book.Insert(bookSide, o.ID, o.UserID, bookPrice, o.Quantity, o.Filled, o.CreatedAt)
			w.meta[o.ID] = &restingMeta{
				OriginalSide: o.Side, Outcome: o.Outcome,
				OriginalPrice: o.Price, ReservedPrice: o.Price,
			}
		}
		return nil
	})
}

// Close stops accepting new commands and drains in-flight workers. Existing
// in-flight ledger transactions still run to completion (spec §5
// "once processing begins it runs to completion").
func (e *Engine) Close(timeout time.Duration) {
	e.mu.Lock()
	workers := make([]*marketWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()
	for _, w := range workers {
		close(w.inbox)
	}
}
