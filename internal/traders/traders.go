// Package traders generates synthetic order flow. Each bot has an
// archetype deciding how often it acts and how it prices; every order goes
// through the same engine entry point as a human submission.
package traders

import (
	"math/rand"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bourse/internal/engine"
	"bourse/internal/ledger"
	"bourse/internal/types"
)

// Archetype selects a bot's behavior profile.
type Archetype string

const (
	// ArchetypeShort trades often in small size, bidding tight below the
	// current price.
	ArchetypeShort Archetype = "short"
	// ArchetypeLong acts rarely but in larger size, pricing a few percent
	// around the current price.
	ArchetypeLong Archetype = "long"
	// ArchetypeTrend buys on momentum draws and occasionally sells down
	// part of its position.
	ArchetypeTrend Archetype = "trend"
)

const (
	shortBuyChance   = 0.60
	shortSpread      = 0.005 // bid up to 0.5% below price
	shortMaxQty      = 3
	longActChance    = 0.12
	longSpread       = 0.05 // price within +-2..5% of current
	longMinSpread    = 0.02
	longMaxQty       = 10
	trendThreshold   = 0.65
	trendSellChance  = 0.25
	trendSellPortion = 0.25
	trendMaxQty      = 5
)

// Bot is one autonomous participant.
type Bot struct {
	ActorID   string
	Archetype Archetype
}

// Fleet drives a set of bots against the engine on each trader tick.
type Fleet struct {
	engine *engine.Engine
	ledger *ledger.Service
	bots   []Bot
	rng    *rand.Rand
	logger zerolog.Logger
}

// NewFleet registers every bot's ledger account and returns the fleet.
// Registration is idempotent, so restarting does not reset bot balances.
func NewFleet(eng *engine.Engine, led *ledger.Service, bots []Bot, cash float64, holdings map[string]float64, seed int64) (*Fleet, error) {
	for _, b := range bots {
		if _, err := led.Register(b.ActorID, types.ActorAutonomous, cash, holdings); err != nil {
			return nil, err
		}
	}
	return &Fleet{
		engine: eng,
		ledger: led,
		bots:   bots,
		rng:    rand.New(rand.NewSource(seed)),
		logger: log.With().Str("component", "traders").Logger(),
	}, nil
}

// Tick lets every bot act once. Each bot picks one instrument uniformly at
// random and applies its archetype policy.
func (f *Fleet) Tick() {
	symbols := f.engine.Symbols()
	if len(symbols) == 0 {
		return
	}
	for _, bot := range f.bots {
		symbol := symbols[f.rng.Intn(len(symbols))]
		price, err := f.engine.Price(symbol)
		if err != nil {
			continue
		}
		order := f.decide(bot, symbol, price)
		if order == nil {
			continue
		}
		if _, err := f.engine.Submit(order); err != nil {
			f.logger.Warn().Err(err).
				Str("actor_id", bot.ActorID).
				Str("symbol", symbol).
				Msg("bot order rejected")
		}
	}
}

// decide produces at most one order per bot per tick.
func (f *Fleet) decide(bot Bot, symbol string, price float64) *types.Order {
	switch bot.Archetype {
	case ArchetypeShort:
		return f.decideShort(bot, symbol, price)
	case ArchetypeLong:
		return f.decideLong(bot, symbol, price)
	case ArchetypeTrend:
		return f.decideTrend(bot, symbol, price)
	default:
		return nil
	}
}

func (f *Fleet) decideShort(bot Bot, symbol string, price float64) *types.Order {
	qty := float64(1 + f.rng.Intn(shortMaxQty))
	if f.rng.Float64() < shortBuyChance {
		bid := price * (1 - f.rng.Float64()*shortSpread)
		return f.limit(bot, symbol, types.SideBuy, bid, qty)
	}
	return f.sellWithin(bot, symbol, price, qty)
}

func (f *Fleet) decideLong(bot Bot, symbol string, price float64) *types.Order {
	if f.rng.Float64() >= longActChance {
		return nil
	}
	spread := longMinSpread + f.rng.Float64()*(longSpread-longMinSpread)
	if f.rng.Intn(2) == 0 {
		spread = -spread
	}
	qty := float64(1 + f.rng.Intn(longMaxQty))
	return f.limit(bot, symbol, types.SideBuy, price*(1+spread), qty)
}

func (f *Fleet) decideTrend(bot Bot, symbol string, price float64) *types.Order {
	if f.rng.Float64() > trendThreshold {
		qty := float64(1 + f.rng.Intn(trendMaxQty))
		return f.limit(bot, symbol, types.SideBuy, price, qty)
	}
	if f.rng.Float64() < trendSellChance {
		held, err := f.ledger.Holding(bot.ActorID, symbol)
		if err != nil || held < 1 {
			return nil
		}
		qty := float64(int(held * trendSellPortion))
		if qty < 1 {
			qty = 1
		}
		return f.limit(bot, symbol, types.SideSell, price, qty)
	}
	return nil
}

// sellWithin sells qty capped by the bot's holding, or nothing when the
// bot holds none.
func (f *Fleet) sellWithin(bot Bot, symbol string, price, qty float64) *types.Order {
	held, err := f.ledger.Holding(bot.ActorID, symbol)
	if err != nil || held < 1 {
		return nil
	}
	if qty > held {
		qty = float64(int(held))
	}
	return f.limit(bot, symbol, types.SideSell, price*(1+f.rng.Float64()*shortSpread), qty)
}

func (f *Fleet) limit(bot Bot, symbol string, side types.Side, price, qty float64) *types.Order {
	if price < 1 {
		price = 1
	}
	return &types.Order{
		Owner:    types.ActorRef{ActorID: bot.ActorID, Kind: types.ActorAutonomous},
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    price,
		Quantity: qty,
	}
}
