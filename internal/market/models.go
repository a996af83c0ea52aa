// Package market holds the tradable instruments and the macro state of the
// exchange: the interest rate and the timestamp of the last policy event.
package market

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"bourse/internal/book"
)

// Instrument is one listed security. The gorm fields persist; the mutex and
// the order book are runtime-only and attach to the in-memory working copy.
// The mutex guards book, price and volume together for the full duration of
// a submit, settle or pricing pass.
type Instrument struct {
	gorm.Model        `json:"-"`
	Symbol            string    `gorm:"uniqueIndex" json:"symbol"`
	Price             float64   `json:"price"`
	Volume            float64   `json:"volume"`
	SharesOutstanding float64   `json:"shares_outstanding"`
	Revenue           float64   `json:"revenue"`
	Profit            float64   `json:"profit"`
	RndSpend          float64   `json:"rnd_spend"`
	BaseVolatility    float64   `json:"base_volatility"`
	LastTradedAt      time.Time `json:"last_traded_at"`

	mu   sync.Mutex `gorm:"-" json:"-"`
	book *book.Book `gorm:"-" json:"-"`
}

// Lock acquires the instrument's mutex.
func (i *Instrument) Lock() { i.mu.Lock() }

// Unlock releases the instrument's mutex.
func (i *Instrument) Unlock() { i.mu.Unlock() }

// Book returns the instrument's live order book, creating it on first use.
// Callers must hold the instrument lock.
func (i *Instrument) Book() *book.Book {
	if i.book == nil {
		i.book = book.New()
	}
	return i.book
}

// Market is the persisted macro singleton. Exactly one row exists.
type Market struct {
	gorm.Model   `json:"-"`
	InterestRate float64   `json:"interest_rate"`
	LastPolicyAt time.Time `json:"last_policy_at"`
}
