package engine

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bourse/internal/ledger"
	"bourse/internal/market"
	"bourse/internal/pricing"
	"bourse/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "engine.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	led, err := ledger.NewService(db)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	eng, err := NewEngine(db, led)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	_, err = eng.ListInstrument(&market.Instrument{
		Symbol:            "ACME",
		Price:             100,
		SharesOutstanding: 5000,
		Revenue:           800,
		Profit:            120,
		RndSpend:          60,
		BaseVolatility:    0.02,
	})
	if err != nil {
		t.Fatalf("failed to list instrument: %v", err)
	}
	return eng, led, db
}

func seedActor(t *testing.T, led *ledger.Service, id string, cash float64, holdings map[string]float64) {
	t.Helper()
	if _, err := led.Register(id, types.ActorHuman, cash, holdings); err != nil {
		t.Fatalf("failed to seed actor %s: %v", id, err)
	}
}

func submit(t *testing.T, eng *Engine, actor string, side types.Side, typ types.OrderType, price, stop, qty float64) []types.Trade {
	t.Helper()
	trades, err := eng.Submit(&types.Order{
		Owner:     types.ActorRef{ActorID: actor, Kind: types.ActorHuman},
		Symbol:    "ACME",
		Side:      side,
		Type:      typ,
		Price:     price,
		StopPrice: stop,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return trades
}

func TestSubmit_Rejections(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "alice", 1000, nil)

	_, err := eng.Submit(&types.Order{
		Owner: types.ActorRef{ActorID: "alice", Kind: types.ActorHuman}, Symbol: "NOPE",
		Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1,
	})
	if !errors.Is(err, types.ErrUnknownSymbol) {
		t.Errorf("unknown symbol: got %v", err)
	}

	_, err = eng.Submit(&types.Order{
		Owner: types.ActorRef{ActorID: "ghost", Kind: types.ActorHuman}, Symbol: "ACME",
		Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1,
	})
	if !errors.Is(err, types.ErrActorNotFound) {
		t.Errorf("unknown actor: got %v", err)
	}

	var validation *types.ValidationError
	_, err = eng.Submit(&types.Order{
		Owner: types.ActorRef{ActorID: "alice", Kind: types.ActorHuman}, Symbol: "ACME",
		Side: types.SideBuy, Type: types.OrderTypeLimit, Price: -5, Quantity: 1,
	})
	if !errors.As(err, &validation) {
		t.Errorf("negative limit price: got %v", err)
	}
	_, err = eng.Submit(&types.Order{
		Owner: types.ActorRef{ActorID: "alice", Kind: types.ActorHuman}, Symbol: "ACME",
		Side: types.SideBuy, Type: types.OrderTypeLimit, Price: 10, Quantity: 0,
	})
	if !errors.As(err, &validation) {
		t.Errorf("zero quantity: got %v", err)
	}
}

func TestSubmit_MarketOrderEmptyBookRests(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "alice", 10000, nil)

	trades := submit(t, eng, "alice", types.SideBuy, types.OrderTypeMarket, 0, 0, 10)
	if len(trades) != 0 {
		t.Fatalf("expected no trades against empty book, got %d", len(trades))
	}

	inst := eng.instruments["ACME"]
	inst.Lock()
	defer inst.Unlock()
	bids := inst.Book().Bids()
	if len(bids) != 1 {
		t.Fatalf("expected 1 resting order, got %d", len(bids))
	}
	if bids[0].Quantity != 10 || bids[0].Price != 100 {
		t.Errorf("remainder = qty %.2f @ %.2f, want 10 @ 100", bids[0].Quantity, bids[0].Price)
	}
	if bids[0].Type != types.OrderTypeMarket {
		t.Error("converted remainder must keep its market tag")
	}
}

func TestSubmit_MarketBuyPartialLiquidity(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "buyer", 10000, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 5})

	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 100, 0, 5)
	trades := submit(t, eng, "buyer", types.SideBuy, types.OrderTypeMarket, 0, 0, 10)

	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Price != 100 || trades[0].Quantity != 5 {
		t.Errorf("trade = %.2f @ %.2f, want 5 @ 100", trades[0].Quantity, trades[0].Price)
	}

	buyerCash, _ := led.Cash("buyer")
	buyerHolding, _ := led.Holding("buyer", "ACME")
	sellerCash, _ := led.Cash("seller")
	if buyerCash != 9500 || buyerHolding != 5 {
		t.Errorf("buyer = cash %.2f holding %.2f, want 9500 and 5", buyerCash, buyerHolding)
	}
	if sellerCash != 500 {
		t.Errorf("seller cash = %.2f, want 500", sellerCash)
	}

	inst := eng.instruments["ACME"]
	inst.Lock()
	defer inst.Unlock()
	if inst.Price != 100 || inst.Volume != 5 {
		t.Errorf("instrument = price %.2f volume %.2f, want 100 and 5", inst.Price, inst.Volume)
	}
	bids := inst.Book().Bids()
	if len(bids) != 1 || bids[0].Quantity != 5 || bids[0].Price != 100 {
		t.Fatalf("expected remainder 5 @ 100 resting, got %+v", bids)
	}
}

func TestSubmit_MarketWalkHardStopsOnInsufficiency(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	// Buyer can cover the first level but not the whole second deal.
	seedActor(t, led, "buyer", 450, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 10})

	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 100, 0, 4)
	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 110, 0, 4)
	trades := submit(t, eng, "buyer", types.SideBuy, types.OrderTypeMarket, 0, 0, 8)

	if len(trades) != 1 {
		t.Fatalf("expected walk to stop after the first level, got %d trades", len(trades))
	}
	if trades[0].Price != 100 || trades[0].Quantity != 4 {
		t.Errorf("trade = %.2f @ %.2f, want 4 @ 100", trades[0].Quantity, trades[0].Price)
	}
	cash, _ := led.Cash("buyer")
	if cash != 50 {
		t.Errorf("buyer cash = %.2f, want 50", cash)
	}
	// The deeper 110 level must not have been touched.
	inst := eng.instruments["ACME"]
	inst.Lock()
	defer inst.Unlock()
	asks := inst.Book().Asks()
	if len(asks) != 1 || asks[0].Price != 110 || asks[0].Quantity != 4 {
		t.Fatalf("expected untouched ask 4 @ 110, got %+v", asks)
	}
}

func TestSubmit_StopTriggersBeforeIncomingOrder(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "stopper", 10000, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 20})

	// Buy stop parked while price is 100.
	submit(t, eng, "stopper", types.SideBuy, types.OrderTypeStop, 110, 110, 5)
	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 111, 0, 5)

	inst := eng.instruments["ACME"]
	inst.Lock()
	if inst.Book().StopCount() != 1 {
		inst.Unlock()
		t.Fatal("stop order must be parked while price is below its trigger")
	}
	// Price moves past the trigger on a tick.
	inst.Price = 112
	inst.Unlock()

	// The next submission triggers the stop before its own processing.
	trades := submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 150, 0, 3)
	if len(trades) != 1 {
		t.Fatalf("expected the triggered stop to trade, got %d trades", len(trades))
	}
	if trades[0].Price != 111 || trades[0].Quantity != 5 {
		t.Errorf("stop fill = %.2f @ %.2f, want 5 @ 111", trades[0].Quantity, trades[0].Price)
	}
	if trades[0].BuyerID != "stopper" {
		t.Errorf("stop fill buyer = %s, want stopper", trades[0].BuyerID)
	}

	inst.Lock()
	defer inst.Unlock()
	if inst.Book().StopCount() != 0 {
		t.Error("triggered stop must leave the stop book")
	}
	asks := inst.Book().Asks()
	if len(asks) != 1 || asks[0].Price != 150 {
		t.Fatalf("incoming order must rest after the stop pass, got %+v", asks)
	}
}

func TestSubmit_CrossMidpointPrice(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "buyer", 10000, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 10})

	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 100, 0, 5)
	trades := submit(t, eng, "buyer", types.SideBuy, types.OrderTypeLimit, 102, 0, 5)

	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Price != 101 {
		t.Errorf("cross price = %.4f, want midpoint 101", trades[0].Price)
	}
	buyerCash, _ := led.Cash("buyer")
	if buyerCash != 10000-5*101 {
		t.Errorf("buyer cash = %.2f, want %.2f", buyerCash, 10000-5*101.0)
	}
}

func TestSubmit_UnfillableCrossRemovesBothHeads(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "broke", 0, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 5})

	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 100, 0, 5)
	trades := submit(t, eng, "broke", types.SideBuy, types.OrderTypeLimit, 100, 0, 5)

	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	inst := eng.instruments["ACME"]
	inst.Lock()
	defer inst.Unlock()
	if inst.Book().Len(types.SideBuy) != 0 || inst.Book().Len(types.SideSell) != 0 {
		t.Error("an unfillable cross must remove both head orders")
	}
	cash, _ := led.Cash("broke")
	if cash != 0 {
		t.Errorf("broke buyer cash = %.2f, want 0", cash)
	}
}

func TestSettleTick_NoCrossIsNoOp(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	seedActor(t, led, "buyer", 10000, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 10})

	submit(t, eng, "buyer", types.SideBuy, types.OrderTypeLimit, 90, 0, 5)
	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 110, 0, 5)

	inst := eng.instruments["ACME"]
	inst.Lock()
	priceBefore, volumeBefore := inst.Price, inst.Volume
	bidsBefore, asksBefore := inst.Book().Len(types.SideBuy), inst.Book().Len(types.SideSell)
	inst.Unlock()

	trades, err := eng.SettleTick("ACME")
	if err != nil {
		t.Fatalf("settle tick failed: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}

	inst.Lock()
	defer inst.Unlock()
	if inst.Price != priceBefore || inst.Volume != volumeBefore {
		t.Error("settle tick on an uncrossed book must not touch price or volume")
	}
	if inst.Book().Len(types.SideBuy) != bidsBefore || inst.Book().Len(types.SideSell) != asksBefore {
		t.Error("settle tick on an uncrossed book must not touch the book")
	}
}

func TestSettleTick_CompletesFillsWhenStorageFails(t *testing.T) {
	eng, led, db := newTestEngine(t)
	seedActor(t, led, "buyer", 10000, nil)
	seedActor(t, led, "seller", 0, map[string]float64{"ACME": 5})

	// Buy stop parked at 110 while price is 100, ask resting at 111.
	submit(t, eng, "buyer", types.SideBuy, types.OrderTypeStop, 110, 110, 5)
	submit(t, eng, "seller", types.SideSell, types.OrderTypeLimit, 111, 0, 5)

	inst := eng.instruments["ACME"]
	inst.Lock()
	inst.Price = 112
	inst.Unlock()

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to reach sql handle: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close database: %v", err)
	}

	// With the store gone the triggered stop must still fill as one step;
	// failed saves cost durability, never a half-applied trade or a
	// destroyed book.
	trades, err := eng.SettleTick("ACME")
	if err != nil {
		t.Fatalf("settle tick failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected the triggered stop to trade, got %d trades", len(trades))
	}
	if trades[0].Price != 111 || trades[0].Quantity != 5 {
		t.Errorf("fill = %.2f @ %.2f, want 5 @ 111", trades[0].Quantity, trades[0].Price)
	}

	buyerCash, _ := led.Cash("buyer")
	buyerHolding, _ := led.Holding("buyer", "ACME")
	sellerCash, _ := led.Cash("seller")
	if buyerCash != 10000-5*111 || buyerHolding != 5 {
		t.Errorf("buyer = cash %.2f holding %.2f, want %.2f and 5", buyerCash, buyerHolding, 10000-5*111.0)
	}
	if sellerCash != 5*111 {
		t.Errorf("seller cash = %.2f, want %.2f", sellerCash, 5*111.0)
	}

	inst.Lock()
	defer inst.Unlock()
	if inst.Book().Len(types.SideBuy) != 0 || inst.Book().Len(types.SideSell) != 0 {
		t.Error("filled orders must leave the book")
	}
	if inst.Volume != 5 || inst.Price != 111 {
		t.Errorf("instrument = price %.2f volume %.2f, want 111 and 5", inst.Price, inst.Volume)
	}
}

func TestPricingTick_Bounded(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	model := pricing.NewModel(11)
	prev := 100.0
	for i := 0; i < 200; i++ {
		next, err := eng.PricingTick("ACME", model, 1.0)
		if err != nil {
			t.Fatalf("pricing tick failed: %v", err)
		}
		if change := math.Abs(next-prev) / prev; change > 0.1+1e-9 {
			t.Fatalf("tick moved price %.2f%%", change*100)
		}
		if next < 1.0 {
			t.Fatalf("price %.4f below floor", next)
		}
		prev = next
	}
}

func TestSubmit_FuzzNeverNegativeAlwaysOrdered(t *testing.T) {
	eng, led, _ := newTestEngine(t)
	actors := []string{"a", "b", "c", "d"}
	for _, id := range actors {
		seedActor(t, led, id, 2000, map[string]float64{"ACME": 20})
	}

	rng := rand.New(rand.NewSource(99))
	sides := []types.Side{types.SideBuy, types.SideSell}
	typs := []types.OrderType{types.OrderTypeLimit, types.OrderTypeLimit, types.OrderTypeMarket, types.OrderTypeStop}
	for i := 0; i < 400; i++ {
		price := 80 + rng.Float64()*40
		o := &types.Order{
			Owner:    types.ActorRef{ActorID: actors[rng.Intn(len(actors))], Kind: types.ActorHuman},
			Symbol:   "ACME",
			Side:     sides[rng.Intn(2)],
			Type:     typs[rng.Intn(len(typs))],
			Quantity: float64(1 + rng.Intn(5)),
		}
		if o.Type != types.OrderTypeMarket {
			o.Price = price
		}
		if o.Type == types.OrderTypeStop {
			o.StopPrice = 80 + rng.Float64()*40
		}
		if _, err := eng.Submit(o); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}

		for _, id := range actors {
			cash, _ := led.Cash(id)
			held, _ := led.Holding(id, "ACME")
			if cash < 0 || held < 0 {
				t.Fatalf("after submit %d actor %s has cash %.4f holding %.4f", i, id, cash, held)
			}
		}
		inst := eng.instruments["ACME"]
		inst.Lock()
		bids, asks := inst.Book().Bids(), inst.Book().Asks()
		for j := 1; j < len(bids); j++ {
			if bids[j].Price > bids[j-1].Price {
				inst.Unlock()
				t.Fatalf("bids out of order after submit %d", i)
			}
		}
		for j := 1; j < len(asks); j++ {
			if asks[j].Price < asks[j-1].Price {
				inst.Unlock()
				t.Fatalf("asks out of order after submit %d", i)
			}
		}
		for _, o := range bids {
			if o.Quantity <= 0 {
				inst.Unlock()
				t.Fatalf("zero-quantity bid resting after submit %d", i)
			}
		}
		for _, o := range asks {
			if o.Quantity <= 0 {
				inst.Unlock()
				t.Fatalf("zero-quantity ask resting after submit %d", i)
			}
		}
		inst.Unlock()
	}
}
