package ledger

import (
	"sync"

	"gorm.io/gorm"

	"bourse/internal/types"
)

// Actor is the persisted shape of a participant's cash account.
type Actor struct {
	gorm.Model `json:"-"`
	ActorID    string  `gorm:"uniqueIndex" json:"actor_id"`
	Kind       string  `json:"kind"`
	Cash       float64 `json:"cash"`
}

// Holding is one persisted symbol position of an actor.
type Holding struct {
	gorm.Model `json:"-"`
	ActorID    string  `gorm:"uniqueIndex:idx_actor_symbol" json:"actor_id"`
	Symbol     string  `gorm:"uniqueIndex:idx_actor_symbol" json:"symbol"`
	Quantity   float64 `json:"quantity"`
}

// Account is the live, mutex-guarded working copy of an actor. All balance
// and holding mutations go through the Service so the per-actor lock is
// held for the whole mutation.
type Account struct {
	ID       string
	Kind     types.ActorKind
	Cash     float64
	Holdings map[string]float64

	mu sync.Mutex
}

// Ref returns the account's trade-side reference.
func (a *Account) Ref() types.ActorRef {
	return types.ActorRef{ActorID: a.ID, Kind: a.Kind}
}
