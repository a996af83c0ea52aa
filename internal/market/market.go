package market

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"bourse/internal/types"
	"bourse/pkg/response"
)

const (
	// The interest rate walks in small bounded steps around its neutral
	// value of 1.0. The pricing model turns the deviation into a macro
	// headwind or tailwind.
	neutralRate = 1.0
	policyStep  = 0.05
	rateFloor   = 0.5
	rateCeiling = 1.75
)

// Service owns the macro state. The mutex covers rate reads from the
// pricing path and rate mutations from the policy tick.
type Service struct {
	db *Database

	mu           sync.Mutex
	rate         float64
	lastPolicyAt time.Time
}

// NewService creates the macro service, restoring the persisted singleton
// or seeding it at the neutral rate.
func NewService(gormDB *gorm.DB) (*Service, error) {
	db, err := NewDatabase(gormDB)
	if err != nil {
		return nil, err
	}
	s := &Service{db: db, rate: neutralRate}
	row, err := db.GetMarket()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if row != nil {
		s.rate = row.InterestRate
		s.lastPolicyAt = row.LastPolicyAt
	} else if err := db.SaveMarket(&Market{InterestRate: s.rate}); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return s, nil
}

// Rate returns the current interest rate.
func (s *Service) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// State returns the rate and the timestamp of the last policy event.
func (s *Service) State() (float64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.lastPolicyAt
}

// PolicyTick applies one bounded random-walk step to the interest rate and
// stamps the policy event time.
func (s *Service) PolicyTick(rng *rand.Rand) {
	s.mu.Lock()
	step := (rng.Float64()*2 - 1) * policyStep
	s.rate += step
	if s.rate < rateFloor {
		s.rate = rateFloor
	}
	if s.rate > rateCeiling {
		s.rate = rateCeiling
	}
	s.lastPolicyAt = time.Now()
	row := Market{InterestRate: s.rate, LastPolicyAt: s.lastPolicyAt}
	s.mu.Unlock()

	if err := s.db.SaveMarket(&row); err != nil {
		log.Error().
			Str("component", "market").
			Err(err).
			Msg("failed to persist market state")
		return
	}
	log.Debug().
		Str("component", "market").
		Float64("interest_rate", row.InterestRate).
		Msg("policy event applied")
}

// GinHandlers contains HTTP handlers for macro state endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetMarketHandler handles GET requests for the macro state.
func (h *GinHandlers) GetMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rate, lastPolicyAt := h.service.State()
		response.Success(c, gin.H{
			"interest_rate":  rate,
			"last_policy_at": lastPolicyAt,
		})
	}
}
