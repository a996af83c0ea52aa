// Package book implements the per-instrument order book: two price-ordered
// sequences of resting orders plus the dormant stop orders awaiting their
// trigger. The book itself is not goroutine safe; the owning instrument's
// mutex serializes all access.
package book

import (
	"sort"

	"bourse/internal/types"
)

// Book holds the resting orders of one instrument. Bids are kept in
// descending price order, asks ascending; orders at the same price keep
// their submission order (Seq is monotonic across the exchange).
type Book struct {
	bids  []*types.Order
	asks  []*types.Order
	stops []*types.Order
}

// New returns an empty book.
func New() *Book {
	return &Book{}
}

// Insert places an order into the correct side, or parks a stop order until
// the trigger pass promotes it. Insertion keeps the price ordering and the
// FIFO tie-break: a new order goes after all resting orders at its price.
func (b *Book) Insert(o *types.Order) {
	if o.Type == types.OrderTypeStop {
		b.stops = append(b.stops, o)
		return
	}
	switch o.Side {
	case types.SideBuy:
		i := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].Price < o.Price })
		b.bids = append(b.bids, nil)
		copy(b.bids[i+1:], b.bids[i:])
		b.bids[i] = o
	case types.SideSell:
		i := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].Price > o.Price })
		b.asks = append(b.asks, nil)
		copy(b.asks[i+1:], b.asks[i:])
		b.asks[i] = o
	}
}

// RemoveAt removes and returns the order at index i on the given side.
// Returns nil when the index is out of range.
func (b *Book) RemoveAt(side types.Side, i int) *types.Order {
	orders := b.side(side)
	if i < 0 || i >= len(*orders) {
		return nil
	}
	o := (*orders)[i]
	*orders = append((*orders)[:i], (*orders)[i+1:]...)
	return o
}

// BestBid returns the highest-priced resting buy order. Absence is a
// sentinel, not an error.
func (b *Book) BestBid() (*types.Order, bool) {
	if len(b.bids) == 0 {
		return nil, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest-priced resting sell order.
func (b *Book) BestAsk() (*types.Order, bool) {
	if len(b.asks) == 0 {
		return nil, false
	}
	return b.asks[0], true
}

// Len returns the number of resting orders on one side, stops excluded.
func (b *Book) Len(side types.Side) int {
	return len(*b.side(side))
}

// StopCount returns the number of dormant stop orders.
func (b *Book) StopCount() int {
	return len(b.stops)
}

// SideVolume sums the remaining quantity resting on one side. Stops are
// dormant and do not count toward order-flow imbalance.
func (b *Book) SideVolume(side types.Side) float64 {
	var total float64
	for _, o := range *b.side(side) {
		total += o.Quantity
	}
	return total
}

// Imbalance returns (buy - sell) / (buy + sell) over the resting book, or
// zero when the book is empty.
func (b *Book) Imbalance() float64 {
	buy := b.SideVolume(types.SideBuy)
	sell := b.SideVolume(types.SideSell)
	if buy+sell == 0 {
		return 0
	}
	return (buy - sell) / (buy + sell)
}

// Depth aggregates the top n price levels of one side into the snapshot
// view, best price first.
func (b *Book) Depth(side types.Side, n int) []types.BookLevel {
	var levels []types.BookLevel
	for _, o := range *b.side(side) {
		if len(levels) > 0 && levels[len(levels)-1].Price == o.Price {
			levels[len(levels)-1].Quantity += o.Quantity
			continue
		}
		if len(levels) == n {
			break
		}
		levels = append(levels, types.BookLevel{Price: o.Price, Quantity: o.Quantity})
	}
	return levels
}

// TakeTriggeredStops removes and returns every stop order armed by the
// given price: a buy stop triggers at price >= its trigger, a sell stop at
// price <= its trigger. The caller passes one price snapshot per matching
// invocation so fills inside that invocation cannot cascade triggers.
func (b *Book) TakeTriggeredStops(price float64) []*types.Order {
	var triggered []*types.Order
	remaining := b.stops[:0]
	for _, o := range b.stops {
		armed := (o.Side == types.SideBuy && price >= o.StopPrice) ||
			(o.Side == types.SideSell && price <= o.StopPrice)
		if armed {
			triggered = append(triggered, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	b.stops = remaining
	return triggered
}

// Bids returns the resting buy orders, best first. The slice is the book's
// own storage; callers must hold the instrument lock and must not retain it.
func (b *Book) Bids() []*types.Order { return b.bids }

// Asks returns the resting sell orders, best first.
func (b *Book) Asks() []*types.Order { return b.asks }

func (b *Book) side(side types.Side) *[]*types.Order {
	if side == types.SideBuy {
		return &b.bids
	}
	return &b.asks
}
