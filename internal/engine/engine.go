// Package engine implements the matching engine: order submission, the
// stop-trigger pass, market-order walking, the limit crossing loop, and the
// ledger mutation that accompanies every fill. All book, price and volume
// mutations for one instrument happen under that instrument's mutex.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"bourse/internal/book"
	"bourse/internal/ledger"
	"bourse/internal/market"
	"bourse/internal/pricing"
	"bourse/internal/types"
)

const (
	// quantityEpsilon decides when a remainder counts as exhausted.
	quantityEpsilon = 1e-9

	// depthLevels is the per-side depth included in snapshots.
	depthLevels = 8
)

// TradePublisher receives every fill as it happens. Publication must not
// block the matching path.
type TradePublisher interface {
	PublishTrade(trade types.Trade)
}

// Engine matches orders against per-instrument books. The instrument map is
// fixed after setup; each instrument's own mutex serializes matching,
// settlement and pricing on it.
type Engine struct {
	db        *Database
	markets   *market.Database
	ledger    *ledger.Service
	publisher TradePublisher
	logger    zerolog.Logger

	instruments map[string]*market.Instrument
	seq         atomic.Uint64
}

// NewEngine creates the engine and restores every persisted instrument.
func NewEngine(gormDB *gorm.DB, ledgerSvc *ledger.Service) (*Engine, error) {
	db, err := NewDatabase(gormDB)
	if err != nil {
		return nil, err
	}
	markets, err := market.NewDatabase(gormDB)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		db:          db,
		markets:     markets,
		ledger:      ledgerSvc,
		logger:      log.With().Str("component", "engine").Logger(),
		instruments: make(map[string]*market.Instrument),
	}
	rows, err := markets.ListInstruments()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	for _, inst := range rows {
		e.instruments[inst.Symbol] = inst
	}
	return e, nil
}

// SetPublisher attaches the trade broadcaster. Must be called before the
// engine starts receiving orders.
func (e *Engine) SetPublisher(p TradePublisher) {
	e.publisher = p
}

// ListInstrument registers a new instrument from its seed, or returns the
// already listed (possibly persisted) one, so config seeding is idempotent
// across restarts.
func (e *Engine) ListInstrument(inst *market.Instrument) (*market.Instrument, error) {
	if existing, ok := e.instruments[inst.Symbol]; ok {
		return existing, nil
	}
	inst.Price = pricing.Floor(pricing.Round(inst.Price))
	if err := e.markets.SaveInstrument(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	e.instruments[inst.Symbol] = inst
	e.logger.Info().
		Str("symbol", inst.Symbol).
		Float64("price", inst.Price).
		Msg("instrument listed")
	return inst, nil
}

// Symbols returns every listed symbol in stable order.
func (e *Engine) Symbols() []string {
	symbols := make([]string, 0, len(e.instruments))
	for s := range e.instruments {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Price returns an instrument's current price.
func (e *Engine) Price(symbol string) (float64, error) {
	inst, ok := e.instruments[symbol]
	if !ok {
		return 0, types.ErrUnknownSymbol
	}
	inst.Lock()
	defer inst.Unlock()
	return inst.Price, nil
}

// Submit runs the full matching sequence for one incoming order: validate,
// journal, trigger dormant stops against a single price snapshot, then
// either walk the opposite side (market) or insert and run the crossing
// loop (limit/stop). Returns every trade the submission produced.
func (e *Engine) Submit(o *types.Order) ([]types.Trade, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	inst, ok := e.instruments[o.Symbol]
	if !ok {
		return nil, types.ErrUnknownSymbol
	}
	if !e.ledger.Exists(o.Owner.ActorID) {
		return nil, types.ErrActorNotFound
	}
	o.OrderID = uuid.New().String()
	o.CreatedAt = time.Now()
	o.Seq = e.seq.Add(1)
	if err := e.db.SaveOrder(o); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	inst.Lock()
	trades := e.triggerStops(inst)
	if o.Type == types.OrderTypeMarket {
		trades = append(trades, e.walkMarket(inst, o)...)
	} else {
		inst.Book().Insert(o)
		trades = append(trades, e.cross(inst)...)
	}
	e.persistInstrument(inst)
	inst.Unlock()

	e.publish(trades)
	return trades, nil
}

// SettleTick runs the stop pass and the crossing loop with no incoming
// order. On a book with no triggered stops and no cross it is a no-op.
func (e *Engine) SettleTick(symbol string) ([]types.Trade, error) {
	inst, ok := e.instruments[symbol]
	if !ok {
		return nil, types.ErrUnknownSymbol
	}
	inst.Lock()
	trades := e.triggerStops(inst)
	trades = append(trades, e.cross(inst)...)
	if len(trades) > 0 {
		e.persistInstrument(inst)
	}
	inst.Unlock()

	e.publish(trades)
	return trades, nil
}

// PricingTick revalues one instrument through the pricing model, reading
// the book's imbalance and writing the new price under the instrument lock.
func (e *Engine) PricingTick(symbol string, model *pricing.Model, rate float64) (float64, error) {
	inst, ok := e.instruments[symbol]
	if !ok {
		return 0, types.ErrUnknownSymbol
	}
	inst.Lock()
	defer inst.Unlock()

	next := model.Revalue(pricing.Input{
		Price:          inst.Price,
		Imbalance:      inst.Book().Imbalance(),
		SharesOut:      inst.SharesOutstanding,
		Revenue:        inst.Revenue,
		Profit:         inst.Profit,
		RndSpend:       inst.RndSpend,
		BaseVolatility: inst.BaseVolatility,
		Volume:         inst.Volume,
		InterestRate:   rate,
	})
	inst.Price = next
	e.persistInstrument(inst)
	return next, nil
}

// Snapshot collects the broadcast view of every instrument plus the macro
// rate. Each instrument is locked only while its own view is copied.
func (e *Engine) Snapshot(rate float64) types.MarketSnapshot {
	snap := types.MarketSnapshot{
		InterestRate: rate,
		Timestamp:    time.Now(),
	}
	for _, symbol := range e.Symbols() {
		inst := e.instruments[symbol]
		inst.Lock()
		snap.Instruments = append(snap.Instruments, types.InstrumentSnapshot{
			Symbol: inst.Symbol,
			Price:  inst.Price,
			Volume: inst.Volume,
			Bids:   inst.Book().Depth(types.SideBuy, depthLevels),
			Asks:   inst.Book().Depth(types.SideSell, depthLevels),
		})
		inst.Unlock()
	}
	return snap
}

// triggerStops promotes every stop armed by the current price to a market
// order and executes it before anything else. The price snapshot is read
// once, so fills inside this pass cannot cascade further triggers.
func (e *Engine) triggerStops(inst *market.Instrument) []types.Trade {
	var trades []types.Trade
	for _, stop := range inst.Book().TakeTriggeredStops(inst.Price) {
		e.logger.Debug().
			Str("symbol", inst.Symbol).
			Str("order_id", stop.OrderID).
			Float64("trigger", stop.StopPrice).
			Float64("price", inst.Price).
			Msg("stop order triggered")
		stop.Type = types.OrderTypeMarket
		stop.Price = 0
		stop.StopPrice = 0
		trades = append(trades, e.walkMarket(inst, stop)...)
	}
	return trades
}

// walkMarket fills a market order against the opposite side best-first.
// Trade price is always the resting side's price. An affordability failure
// is a hard stop of the walk, never a skip to a deeper level. Whatever
// remains rests converted at the instrument's current price, keeping its
// market tag so the crossing loop knows its funds were checked here.
func (e *Engine) walkMarket(inst *market.Instrument, o *types.Order) []types.Trade {
	var trades []types.Trade
	bk := inst.Book()
	opposite := o.Side.Opposite()
	for o.Quantity > quantityEpsilon {
		resting, ok := e.bestOf(bk, opposite)
		if !ok {
			break
		}
		deal := math.Min(o.Quantity, resting.Quantity)
		if !e.canAfford(o, resting.Price, deal) {
			e.logger.Warn().
				Str("symbol", inst.Symbol).
				Str("actor_id", o.Owner.ActorID).
				Str("side", string(o.Side)).
				Float64("price", resting.Price).
				Float64("quantity", deal).
				Msg("market walk stopped on insufficiency")
			break
		}
		buyer, seller := o, resting
		if o.Side == types.SideSell {
			buyer, seller = resting, o
		}
		trade, err := e.fill(inst, buyer, seller, resting.Price, deal)
		if err != nil {
			e.logger.Error().Err(err).
				Str("symbol", inst.Symbol).
				Msg("fill failed during market walk")
			break
		}
		trades = append(trades, trade)
		if resting.Quantity <= quantityEpsilon {
			bk.RemoveAt(opposite, 0)
		}
	}
	if o.Quantity > quantityEpsilon {
		o.Price = inst.Price
		bk.Insert(o)
	}
	return trades
}

// cross trades the book while the best bid price reaches the best ask
// price. Two-limit trades price at the rounded midpoint. A head pair that
// cannot produce a positive deal is removed whole, both orders, so an
// unfillable order can never wedge the book.
func (e *Engine) cross(inst *market.Instrument) []types.Trade {
	var trades []types.Trade
	bk := inst.Book()
	for {
		bid, okBid := bk.BestBid()
		ask, okAsk := bk.BestAsk()
		if !okBid || !okAsk || bid.Price < ask.Price {
			break
		}
		price := pricing.Round((bid.Price + ask.Price) / 2)
		deal := math.Min(bid.Quantity, ask.Quantity)
		if bid.Type != types.OrderTypeMarket {
			cash, _ := e.ledger.Cash(bid.Owner.ActorID)
			if affordable := cash / price; affordable < deal {
				deal = affordable
			}
		}
		if ask.Type != types.OrderTypeMarket {
			held, _ := e.ledger.Holding(ask.Owner.ActorID, inst.Symbol)
			if held < deal {
				deal = held
			}
		}
		if deal <= quantityEpsilon {
			e.dropHeads(inst, bid, ask)
			continue
		}
		trade, err := e.fill(inst, bid, ask, price, deal)
		if err != nil {
			if errors.Is(err, types.ErrInsufficientFunds) || errors.Is(err, types.ErrInsufficientHoldings) {
				e.dropHeads(inst, bid, ask)
				continue
			}
			e.logger.Error().Err(err).
				Str("symbol", inst.Symbol).
				Msg("fill failed during crossing loop")
			break
		}
		trades = append(trades, trade)
		if bid.Quantity <= quantityEpsilon {
			bk.RemoveAt(types.SideBuy, 0)
		}
		if ask.Quantity <= quantityEpsilon {
			bk.RemoveAt(types.SideSell, 0)
		}
	}
	return trades
}

// dropHeads removes both head orders after an unfillable cross.
func (e *Engine) dropHeads(inst *market.Instrument, bid, ask *types.Order) {
	inst.Book().RemoveAt(types.SideBuy, 0)
	inst.Book().RemoveAt(types.SideSell, 0)
	e.logger.Warn().
		Str("symbol", inst.Symbol).
		Str("bid_order_id", bid.OrderID).
		Str("ask_order_id", ask.OrderID).
		Msg("unfillable cross, removed both head orders")
}

// fill applies one trade: the ledger mutation first, then both quantity
// decrements, price and volume updates, and the journal row. The ledger
// call is the step that can refuse; nothing is mutated before it succeeds.
func (e *Engine) fill(inst *market.Instrument, buyer, seller *types.Order, price, qty float64) (types.Trade, error) {
	if err := e.ledger.ApplyTrade(buyer.Owner.ActorID, seller.Owner.ActorID, inst.Symbol, price, qty); err != nil {
		return types.Trade{}, err
	}
	buyer.Quantity -= qty
	seller.Quantity -= qty
	inst.Price = pricing.Floor(pricing.Round(price))
	inst.Volume += qty
	now := time.Now()
	inst.LastTradedAt = now

	trade := types.Trade{
		TradeID:    uuid.New().String(),
		Symbol:     inst.Symbol,
		Price:      price,
		Quantity:   qty,
		BuyerID:    buyer.Owner.ActorID,
		BuyerKind:  buyer.Owner.Kind,
		SellerID:   seller.Owner.ActorID,
		SellerKind: seller.Owner.Kind,
		Timestamp:  now,
	}
	if err := e.db.SaveTrade(&trade); err != nil {
		e.logger.Error().Err(err).
			Str("trade_id", trade.TradeID).
			Msg("failed to journal trade")
	}
	e.logger.Debug().
		Str("symbol", inst.Symbol).
		Float64("price", price).
		Float64("quantity", qty).
		Str("buyer_id", trade.BuyerID).
		Str("seller_id", trade.SellerID).
		Msg("trade executed")
	return trade, nil
}

// canAfford is the market walk's binary check: the incoming buyer must
// cover the whole deal at the resting price, the incoming seller must hold
// the whole deal.
func (e *Engine) canAfford(o *types.Order, price, qty float64) bool {
	if o.Side == types.SideBuy {
		cash, err := e.ledger.Cash(o.Owner.ActorID)
		return err == nil && cash+quantityEpsilon >= price*qty
	}
	held, err := e.ledger.Holding(o.Owner.ActorID, o.Symbol)
	return err == nil && held+quantityEpsilon >= qty
}

func (e *Engine) bestOf(bk *book.Book, side types.Side) (*types.Order, bool) {
	if side == types.SideBuy {
		return bk.BestBid()
	}
	return bk.BestAsk()
}

// persistInstrument saves the instrument while its lock is held. Failure is
// logged, not fatal: the next successful save reconciles durable state.
func (e *Engine) persistInstrument(inst *market.Instrument) {
	if err := e.markets.SaveInstrument(inst); err != nil {
		e.logger.Error().Err(err).
			Str("symbol", inst.Symbol).
			Msg("failed to persist instrument")
	}
}

func (e *Engine) publish(trades []types.Trade) {
	if e.publisher == nil {
		return
	}
	for _, t := range trades {
		e.publisher.PublishTrade(t)
	}
}
