// Package pricing implements the per-tick stochastic revaluation of an
// instrument. The model is decoupled from matching: it reads the book's
// order-flow imbalance, the instrument's fundamentals and the macro rate,
// adds noise, and produces the next price.
package pricing

import (
	"math"
	"math/rand"
)

const (
	// Order-flow pressure: imbalance in [-1, 1] scaled into a
	// multiplicative factor of at most imbalanceWeight * imbalanceScale.
	imbalanceWeight = 0.6
	imbalanceScale  = 0.02

	// Fundamentals: profit plus weighted revenue and R&D, normalized by
	// outstanding shares, nudging the price by driftGain per score point.
	revenueWeight = 0.6
	rndWeight     = 0.4
	shareUnit     = 1000.0
	driftGain     = 0.0005

	// Macro: each point of interest rate above neutral shaves
	// rateDrag off the price.
	neutralRate = 1.0
	rateDrag    = 0.08

	// Noise: standard normal scaled by base volatility, amplified by
	// traded volume and damped by noiseDamp.
	volumeUnit = 20000.0
	noiseDamp  = 0.5

	// A single tick moves the price at most ±10% and never below the
	// floor.
	maxTickChange = 0.1
	priceFloor    = 1.0
)

// Input carries everything one revaluation reads. The caller snapshots it
// under the instrument lock.
type Input struct {
	Price          float64
	Imbalance      float64
	SharesOut      float64
	Revenue        float64
	Profit         float64
	RndSpend       float64
	BaseVolatility float64
	Volume         float64
	InterestRate   float64
}

// Model produces successive prices from its own random source, so two
// models seeded alike replay the same path.
type Model struct {
	rng *rand.Rand
}

func NewModel(seed int64) *Model {
	return &Model{rng: rand.New(rand.NewSource(seed))}
}

// Revalue computes the next price from one tick's input: order-flow,
// fundamentals drift, macro drag and noise combine multiplicatively, the
// relative change is clamped to ±10%, and the result is floored and
// rounded to 4 decimals.
func (m *Model) Revalue(in Input) float64 {
	flow := 1 + in.Imbalance*imbalanceWeight*imbalanceScale

	score := in.Profit + revenueWeight*in.Revenue + rndWeight*in.RndSpend
	score /= math.Max(1, in.SharesOut/shareUnit)
	drift := 1 + driftGain*(score-1)

	macro := 1 - (in.InterestRate-neutralRate)*rateDrag

	sigma := in.BaseVolatility * (1 + in.Volume/volumeUnit) * noiseDamp
	noise := 1 + m.gaussian()*sigma

	next := in.Price * flow * drift * macro * noise

	lo := in.Price * (1 - maxTickChange)
	hi := in.Price * (1 + maxTickChange)
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	if next < priceFloor {
		next = priceFloor
	}
	return Round(next)
}

// gaussian draws a standard normal via Box-Muller.
func (m *Model) gaussian() float64 {
	u1 := m.rng.Float64()
	for u1 == 0 {
		u1 = m.rng.Float64()
	}
	u2 := m.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Round snaps a price to 4 decimal places.
func Round(p float64) float64 {
	return math.Round(p*10000) / 10000
}

// Floor applies the exchange-wide minimum price.
func Floor(p float64) float64 {
	if p < priceFloor {
		return priceFloor
	}
	return p
}
