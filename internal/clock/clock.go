// Package clock drives the periodic passes of the exchange: settlement,
// pricing, autonomous traders, macro policy, and snapshot publication, each
// on its own cadence. Every pass reaches instrument state through the
// engine, so ticks serialize with in-flight submissions on the same
// instrument instead of racing them.
package clock

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"bourse/internal/engine"
	"bourse/internal/market"
	"bourse/internal/pricing"
	"bourse/internal/traders"
	"bourse/internal/types"
)

// SnapshotPublisher receives the periodic market snapshot.
type SnapshotPublisher interface {
	PublishSnapshot(snapshot types.MarketSnapshot)
}

// Intervals holds the cadence of each periodic pass.
type Intervals struct {
	Settle   time.Duration
	Pricing  time.Duration
	Traders  time.Duration
	Policy   time.Duration
	Snapshot time.Duration
}

// Clock owns the tickers. It does no matching or pricing itself; each tick
// delegates to the owning component.
type Clock struct {
	engine    *engine.Engine
	fleet     *traders.Fleet
	macro     *market.Service
	model     *pricing.Model
	publisher SnapshotPublisher
	intervals Intervals
	rng       *rand.Rand
}

func New(eng *engine.Engine, fleet *traders.Fleet, macro *market.Service, model *pricing.Model, publisher SnapshotPublisher, intervals Intervals, seed int64) *Clock {
	return &Clock{
		engine:    eng,
		fleet:     fleet,
		macro:     macro,
		model:     model,
		publisher: publisher,
		intervals: intervals,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Start begins the market clock loop and blocks until the context ends.
func (c *Clock) Start(ctx context.Context) {
	logger := log.With().Str("component", "market_clock").Logger()
	logger.Info().
		Dur("settle", c.intervals.Settle).
		Dur("pricing", c.intervals.Pricing).
		Dur("traders", c.intervals.Traders).
		Dur("policy", c.intervals.Policy).
		Dur("snapshot", c.intervals.Snapshot).
		Msg("starting market clock")

	settle := time.NewTicker(c.intervals.Settle)
	defer settle.Stop()
	priceTick := time.NewTicker(c.intervals.Pricing)
	defer priceTick.Stop()
	trade := time.NewTicker(c.intervals.Traders)
	defer trade.Stop()
	policy := time.NewTicker(c.intervals.Policy)
	defer policy.Stop()
	snapshot := time.NewTicker(c.intervals.Snapshot)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down market clock")
			return
		case <-settle.C:
			c.settleAll()
		case <-priceTick.C:
			c.revalueAll()
		case <-trade.C:
			c.fleet.Tick()
		case <-policy.C:
			c.macro.PolicyTick(c.rng)
		case <-snapshot.C:
			if c.publisher != nil {
				c.publisher.PublishSnapshot(c.engine.Snapshot(c.macro.Rate()))
			}
		}
	}
}

// settleAll runs the stop pass and crossing loop on every instrument.
func (c *Clock) settleAll() {
	for _, symbol := range c.engine.Symbols() {
		if _, err := c.engine.SettleTick(symbol); err != nil {
			log.Error().Err(err).
				Str("component", "market_clock").
				Str("symbol", symbol).
				Msg("settle tick failed")
		}
	}
}

// revalueAll runs one pricing pass over every instrument at the current
// interest rate.
func (c *Clock) revalueAll() {
	rate := c.macro.Rate()
	for _, symbol := range c.engine.Symbols() {
		if _, err := c.engine.PricingTick(symbol, c.model, rate); err != nil {
			log.Error().Err(err).
				Str("component", "market_clock").
				Str("symbol", symbol).
				Msg("pricing tick failed")
		}
	}
}
