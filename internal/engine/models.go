package engine

import (
	"time"

	"gorm.io/gorm"

	"bourse/internal/types"
)

// OrderRecord is the append-only journal row of a submission. The live
// order mutates in the book; the journal keeps what was asked for.
type OrderRecord struct {
	gorm.Model  `json:"-"`
	OrderID     string    `gorm:"uniqueIndex" json:"order_id"`
	ActorID     string    `gorm:"index" json:"actor_id"`
	ActorKind   string    `json:"actor_kind"`
	Symbol      string    `gorm:"index" json:"symbol"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	Price       float64   `json:"price"`
	StopPrice   float64   `json:"stop_price"`
	Quantity    float64   `json:"quantity"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func newOrderRecord(o *types.Order) *OrderRecord {
	return &OrderRecord{
		OrderID:     o.OrderID,
		ActorID:     o.Owner.ActorID,
		ActorKind:   string(o.Owner.Kind),
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Type:        string(o.Type),
		Price:       o.Price,
		StopPrice:   o.StopPrice,
		Quantity:    o.Quantity,
		SubmittedAt: o.CreatedAt,
	}
}
