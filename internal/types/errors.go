package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSymbol means the order names an instrument the exchange
	// does not list. Rejected before any book mutation.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrActorNotFound means the order's owner has no ledger account.
	ErrActorNotFound = errors.New("actor not found")

	// ErrInsufficientFunds and ErrInsufficientHoldings are matching
	// outcomes, not hard failures: the engine resolves them by stopping a
	// walk or dropping an order, logging a warning either way.
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrStorage wraps persistence collaborator failures. State is saved
	// as whole-entity upserts, so a failed save leaves the pre-mutation
	// row durable and the next successful save reconciles.
	ErrStorage = errors.New("storage failure")
)

// ValidationError reports a rejected submission. It is returned to the
// caller before the order touches the book.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks an order's shape against its type tag.
func (o *Order) Validate() error {
	if o.Owner.ActorID == "" {
		return &ValidationError{Field: "actor_id", Reason: "required"}
	}
	if o.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if o.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "must be positive for limit orders"}
		}
	case OrderTypeStop:
		if o.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "must be positive for stop orders"}
		}
		if o.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "must be positive for stop orders"}
		}
	default:
		return &ValidationError{Field: "type", Reason: "must be LIMIT, MARKET or STOP"}
	}
	return nil
}
