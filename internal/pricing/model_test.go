package pricing

import (
	"math"
	"testing"
)

func baseInput(price float64) Input {
	return Input{
		Price:          price,
		SharesOut:      5000,
		Revenue:        800,
		Profit:         120,
		RndSpend:       60,
		BaseVolatility: 0.02,
		Volume:         4000,
		InterestRate:   1.0,
	}
}

func TestRevalue_SingleTickBounded(t *testing.T) {
	m := NewModel(42)
	in := baseInput(100)
	for i := 0; i < 5000; i++ {
		next := m.Revalue(in)
		change := (next - in.Price) / in.Price
		if math.Abs(change) > 0.1+1e-9 {
			t.Fatalf("tick %d moved price %.2f%%, beyond the 10%% clamp", i, change*100)
		}
		in.Price = next
	}
}

func TestRevalue_NeverBelowFloor(t *testing.T) {
	m := NewModel(7)
	in := baseInput(1.05)
	in.BaseVolatility = 0.5
	in.InterestRate = 1.75
	for i := 0; i < 2000; i++ {
		next := m.Revalue(in)
		if next < 1.0 {
			t.Fatalf("tick %d produced price %.4f below the floor", i, next)
		}
		in.Price = next
	}
}

func TestRevalue_ImbalancePushesPrice(t *testing.T) {
	// With noise off, buy pressure must raise the price and sell pressure
	// must lower it.
	m := NewModel(1)
	in := baseInput(100)
	in.BaseVolatility = 0

	buy := in
	buy.Imbalance = 1
	sell := in
	sell.Imbalance = -1
	flat := in

	up := m.Revalue(buy)
	down := m.Revalue(sell)
	mid := m.Revalue(flat)
	if up <= mid {
		t.Errorf("buy imbalance did not raise price: %.4f <= %.4f", up, mid)
	}
	if down >= mid {
		t.Errorf("sell imbalance did not lower price: %.4f >= %.4f", down, mid)
	}
}

func TestRevalue_HighRateDragsPrice(t *testing.T) {
	m := NewModel(1)
	in := baseInput(100)
	in.BaseVolatility = 0
	in.Profit = 0
	in.Revenue = 0
	in.RndSpend = 0

	tight := in
	tight.InterestRate = 1.5
	loose := in
	loose.InterestRate = 0.5

	if hi, lo := m.Revalue(loose), m.Revalue(tight); hi <= lo {
		t.Errorf("easier rate must price higher: %.4f <= %.4f", hi, lo)
	}
}

func TestRevalue_RoundsToFourDecimals(t *testing.T) {
	m := NewModel(3)
	next := m.Revalue(baseInput(99.9999))
	if got := Round(next); got != next {
		t.Errorf("price %.10f not rounded to 4 decimals", next)
	}
}

func TestRound(t *testing.T) {
	if got := Round(10.00004); got != 10.0 {
		t.Errorf("Round(10.00004) = %v", got)
	}
	if got := Round(10.00006); got != 10.0001 {
		t.Errorf("Round(10.00006) = %v", got)
	}
}
