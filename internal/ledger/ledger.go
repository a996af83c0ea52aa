// Package ledger holds the cash balance and per-symbol holdings of every
// participant and applies the trade mutation protocol: each trade debits
// the buyer, credits the seller, and moves the holding as one step, and the
// engine's affordability checks guarantee the step can never drive a
// balance or holding negative.
package ledger

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"bourse/internal/types"
	"bourse/pkg/response"
)

// balanceEpsilon absorbs float drift in affordability comparisons.
const balanceEpsilon = 1e-9

// Service is the actor ledger. The registry mutex guards the account map;
// each account carries its own mutex so two concurrent trades can never
// double-spend the same balance.
type Service struct {
	db *Database

	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewService creates the ledger on top of the given database connection
// and loads every persisted account into memory.
func NewService(gormDB *gorm.DB) (*Service, error) {
	db, err := NewDatabase(gormDB)
	if err != nil {
		return nil, err
	}
	s := &Service{
		db:       db,
		accounts: make(map[string]*Account),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) loadAll() error {
	actors, err := s.db.ListActors()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	for _, row := range actors {
		holdings, err := s.db.GetHoldings(row.ActorID)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrStorage, err)
		}
		account := &Account{
			ID:       row.ActorID,
			Kind:     types.ActorKind(row.Kind),
			Cash:     row.Cash,
			Holdings: make(map[string]float64, len(holdings)),
		}
		for _, h := range holdings {
			account.Holdings[h.Symbol] = h.Quantity
		}
		s.accounts[account.ID] = account
	}
	return nil
}

// Register creates an account if it does not exist yet and persists it.
// Registering an existing id returns the existing account untouched, so
// seeding from config is idempotent across restarts.
func (s *Service) Register(id string, kind types.ActorKind, cash float64, holdings map[string]float64) (*Account, error) {
	s.mu.Lock()
	if existing, ok := s.accounts[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	account := &Account{
		ID:       id,
		Kind:     kind,
		Cash:     cash,
		Holdings: make(map[string]float64, len(holdings)),
	}
	for symbol, qty := range holdings {
		account.Holdings[symbol] = qty
	}
	s.accounts[id] = account
	s.mu.Unlock()

	if err := s.db.SaveAccount(account); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	log.Info().
		Str("component", "ledger").
		Str("actor_id", id).
		Str("kind", string(kind)).
		Float64("cash", cash).
		Msg("registered actor")
	return account, nil
}

func (s *Service) account(id string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// Exists reports whether an actor is registered.
func (s *Service) Exists(id string) bool {
	_, ok := s.account(id)
	return ok
}

// Cash returns the actor's current cash balance.
func (s *Service) Cash(id string) (float64, error) {
	a, ok := s.account(id)
	if !ok {
		return 0, types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Cash, nil
}

// Holding returns the actor's position in a symbol, zero when absent.
func (s *Service) Holding(id, symbol string) (float64, error) {
	a, ok := s.account(id)
	if !ok {
		return 0, types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Holdings[symbol], nil
}

// Debit removes cash from an actor, refusing to go negative.
func (s *Service) Debit(id string, amount float64) error {
	a, ok := s.account(id)
	if !ok {
		return types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Cash+balanceEpsilon < amount {
		return types.ErrInsufficientFunds
	}
	a.Cash -= amount
	s.persist(a)
	return nil
}

// Credit adds cash to an actor.
func (s *Service) Credit(id string, amount float64) error {
	a, ok := s.account(id)
	if !ok {
		return types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Cash += amount
	s.persist(a)
	return nil
}

// AdjustHolding moves an actor's position in a symbol by delta, refusing a
// negative result.
func (s *Service) AdjustHolding(id, symbol string, delta float64) error {
	a, ok := s.account(id)
	if !ok {
		return types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Holdings[symbol]+delta < -balanceEpsilon {
		return types.ErrInsufficientHoldings
	}
	a.Holdings[symbol] += delta
	s.persist(a)
	return nil
}

// ApplyTrade applies one trade's full ledger mutation as a single step:
// buyer pays price*qty and gains qty of symbol, seller loses qty and is
// credited price*qty. Both accounts are locked for the duration (in id
// order, once for a self-trade) so no intermediate state is observable.
// On insufficiency nothing is mutated.
func (s *Service) ApplyTrade(buyerID, sellerID, symbol string, price, qty float64) error {
	buyer, ok := s.account(buyerID)
	if !ok {
		return fmt.Errorf("buyer %s: %w", buyerID, types.ErrActorNotFound)
	}
	seller, ok := s.account(sellerID)
	if !ok {
		return fmt.Errorf("seller %s: %w", sellerID, types.ErrActorNotFound)
	}

	first, second := buyer, seller
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if first != second {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	cost := price * qty
	if buyer.Cash+balanceEpsilon < cost {
		return types.ErrInsufficientFunds
	}
	if seller.Holdings[symbol]+balanceEpsilon < qty {
		return types.ErrInsufficientHoldings
	}

	buyer.Cash -= cost
	buyer.Holdings[symbol] += qty
	seller.Holdings[symbol] -= qty
	seller.Cash += cost

	s.persist(buyer)
	if buyer != seller {
		s.persist(seller)
	}
	return nil
}

// persist upserts the account while its lock is held, so book and ledger
// state cannot change across the persistence suspension point. Persistence
// is best effort: once the insufficiency checks pass, the mutation is
// committed in memory and a failed save only costs durability until the
// next successful whole-account upsert reconciles.
func (s *Service) persist(a *Account) {
	if err := s.db.SaveAccount(a); err != nil {
		log.Error().
			Str("component", "ledger").
			Str("actor_id", a.ID).
			Err(err).
			Msg("failed to persist account")
	}
}

// View is the API shape of an account.
type View struct {
	ActorID  string             `json:"actor_id"`
	Kind     types.ActorKind    `json:"kind"`
	Cash     float64            `json:"cash"`
	Holdings map[string]float64 `json:"holdings"`
}

// Snapshot copies an account for read-only presentation.
func (s *Service) Snapshot(id string) (*View, error) {
	a, ok := s.account(id)
	if !ok {
		return nil, types.ErrActorNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v := &View{
		ActorID:  a.ID,
		Kind:     a.Kind,
		Cash:     a.Cash,
		Holdings: make(map[string]float64, len(a.Holdings)),
	}
	for symbol, qty := range a.Holdings {
		v.Holdings[symbol] = qty
	}
	return v, nil
}

// GinHandlers contains HTTP handlers for ledger endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetActorHandler handles GET requests for an actor's cash and holdings.
// URL parameter: actor_id
func (h *GinHandlers) GetActorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.Param("actor_id")
		view, err := h.service.Snapshot(actorID)
		if err != nil {
			response.NotFound(c, "Actor not found")
			return
		}
		response.Success(c, view)
	}
}
