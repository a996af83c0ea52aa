package types

import (
	"time"

	"gorm.io/gorm"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order variant tag. The engine switches exhaustively on
// it; an unknown tag is a validation failure, never a silent default.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
)

// ActorKind distinguishes human API clients from autonomous traders. Both
// kinds move through the same submission path and the same ledger.
type ActorKind string

const (
	ActorHuman      ActorKind = "HUMAN"
	ActorAutonomous ActorKind = "AUTONOMOUS"
)

// ActorRef identifies one side of a trade.
type ActorRef struct {
	ActorID string    `json:"actor_id"`
	Kind    ActorKind `json:"kind"`
}

// Order is a live order. Quantity is the remaining unfilled amount and is
// strictly decreasing; an order whose quantity reaches zero leaves the book
// immediately. Seq is a monotonic submission counter used as the FIFO
// tie-break between equal-priced orders.
//
// Price carries the limit price for LIMIT and STOP orders. A MARKET order
// is submitted with Price zero; if liquidity runs out its remainder rests
// converted at the instrument's then-current price, keeping the MARKET tag
// so the crossing loop knows its funds were already checked during the walk.
type Order struct {
	OrderID   string    `json:"order_id"`
	Owner     ActorRef  `json:"owner"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price,omitempty"`
	StopPrice float64   `json:"stop_price,omitempty"`
	Quantity  float64   `json:"quantity"`
	Seq       uint64    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Trade is the immutable record of one fill. Rows are append-only: they are
// journalled and broadcast, never updated.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	Symbol     string    `gorm:"index" json:"symbol"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	BuyerID    string    `json:"buyer_id"`
	BuyerKind  ActorKind `json:"buyer_kind"`
	SellerID   string    `json:"seller_id"`
	SellerKind ActorKind `json:"seller_kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// Buyer returns the buyer as an actor reference.
func (t *Trade) Buyer() ActorRef { return ActorRef{ActorID: t.BuyerID, Kind: t.BuyerKind} }

// Seller returns the seller as an actor reference.
func (t *Trade) Seller() ActorRef { return ActorRef{ActorID: t.SellerID, Kind: t.SellerKind} }

// BookLevel is one aggregated price level of a top-of-book view.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// InstrumentSnapshot is the broadcast view of a single instrument.
type InstrumentSnapshot struct {
	Symbol string      `json:"symbol"`
	Price  float64     `json:"price"`
	Volume float64     `json:"volume"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}

// MarketSnapshot is the periodic state broadcast: every instrument plus the
// macro state. Publication is rate limited by the broadcaster.
type MarketSnapshot struct {
	Instruments  []InstrumentSnapshot `json:"instruments"`
	InterestRate float64              `json:"interest_rate"`
	Timestamp    time.Time            `json:"timestamp"`
}
