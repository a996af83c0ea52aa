package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bourse/internal/auth"
	"bourse/internal/broadcast"
	"bourse/internal/clock"
	"bourse/internal/config"
	"bourse/internal/database"
	"bourse/internal/engine"
	"bourse/internal/ledger"
	"bourse/internal/market"
	"bourse/internal/pricing"
	"bourse/internal/traders"
	"bourse/internal/types"
	"bourse/pkg/middleware"
)

const (
	minOrders     = 40
	maxOrders     = 200
	numWorkers    = 5
	serverPort    = 8091
	serverAddress = "http://localhost:8091"
	wsAddress     = "ws://localhost:8091/api/v1/ws"

	simActorID     = "sim-trader"
	simAPIKey      = "sim-trader"
	simAPISecret   = "sim-trader-secret"
	simRunDuration = 10 * time.Second
)

var sides = []string{"BUY", "SELL"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the exchange API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	symbols   []string
	stats     map[string]*routeStats
	statsMu   sync.Mutex
}

// newSimulationClient authenticates against the exchange and discovers the
// listed symbols.
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":        {name: "Authentication"},
			"submit":      {name: "Submit Order"},
			"book":        {name: "Get Book"},
			"instruments": {name: "List Instruments"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	symbols, err := sc.listSymbols()
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	sc.symbols = symbols

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	credentials := map[string]string{
		"api_key":    simAPIKey,
		"api_secret": simAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		sc.record("auth", start, true)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.record("auth", start, true)
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.record("auth", start, true)
		return "", err
	}
	sc.record("auth", start, false)
	return result.Data.Token, nil
}

// listSymbols fetches every listed instrument symbol
func (sc *simulationClient) listSymbols() ([]string, error) {
	start := time.Now()
	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/instruments", sc.baseURL))
	if err != nil {
		sc.record("instruments", start, true)
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.record("instruments", start, true)
		return nil, err
	}
	sc.record("instruments", start, false)

	var symbols []string
	for _, inst := range result.Data {
		symbols = append(symbols, inst.Symbol)
	}
	return symbols, nil
}

// submitOrder posts one order and returns the trades it produced
func (sc *simulationClient) submitOrder(req engine.SubmitOrderRequest) (int, error) {
	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		sc.record("submit", start, true)
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		sc.record("submit", start, true)
		return 0, fmt.Errorf("submit failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data struct {
			OrderID string        `json:"order_id"`
			Trades  []types.Trade `json:"trades"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.record("submit", start, true)
		return 0, err
	}
	sc.record("submit", start, false)
	return len(result.Data.Trades), nil
}

// getBook fetches the top-of-book view for a symbol
func (sc *simulationClient) getBook(symbol string) error {
	start := time.Now()
	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/book/%s", sc.baseURL, symbol),
		nil,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.record("book", start, true)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	sc.record("book", start, resp.StatusCode != http.StatusOK)
	return nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// tradeCounter consumes the trades channel over WebSocket
type tradeCounter struct {
	mu      sync.Mutex
	total   int
	symbols map[string]int
}

func (tc *tradeCounter) run(done <-chan struct{}) {
	conn, _, err := websocket.DefaultDialer.Dial(wsAddress, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect WebSocket")
		return
	}
	defer conn.Close()

	go func() {
		<-done
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range bytes.Split(payload, []byte{'\n'}) {
			var msg struct {
				Channel string      `json:"channel"`
				Data    types.Trade `json:"data"`
			}
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			if msg.Channel != broadcast.ChannelTrades {
				continue
			}
			tc.mu.Lock()
			tc.total++
			tc.symbols[msg.Data.Symbol]++
			tc.mu.Unlock()
		}
	}
}

// main runs the exchange simulation: it starts the server in-process, lets
// the bot fleet trade on the clock, and drives concurrent human order flow
// over HTTP while counting broadcast trades over WebSocket.
func main() {
	gin.SetMode(gin.ReleaseMode)

	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	counter := &tradeCounter{symbols: make(map[string]int)}
	wsDone := make(chan struct{})
	go counter.run(wsDone)

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().
		Int("target_orders", targetOrders).
		Strs("symbols", simClient.symbols).
		Msg("Starting simulation")

	stats := struct {
		SubmittedOrders int
		FailedOrders    int
		ImmediateFills  int
		StartTime       time.Time
		Symbols         map[string]int
		Sides           map[string]int
		mu              sync.Mutex
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for j := 0; j < targetOrders/numWorkers; j++ {
				symbol := simClient.symbols[rng.Intn(len(simClient.symbols))]
				side := sides[rng.Intn(len(sides))]
				req := engine.SubmitOrderRequest{
					ActorID:  simActorID,
					Symbol:   symbol,
					Side:     side,
					Type:     "LIMIT",
					Price:    float64(rng.Intn(150) + 30),
					Quantity: float64(rng.Intn(5) + 1),
				}
				if rng.Intn(4) == 0 {
					req.Type = "MARKET"
					req.Price = 0
				}

				fills, err := simClient.submitOrder(req)
				stats.mu.Lock()
				if err != nil {
					stats.FailedOrders++
				} else {
					stats.SubmittedOrders++
					stats.ImmediateFills += fills
					stats.Symbols[symbol]++
					stats.Sides[side]++
				}
				stats.mu.Unlock()
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to submit order")
				}

				if rng.Intn(5) == 0 {
					simClient.getBook(symbol)
				}
				time.Sleep(time.Duration(rng.Intn(100)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Let the bots and the clock keep trading for a while
	log.Info().Dur("duration", simRunDuration).Msg("Order flow done, letting the market run")
	time.Sleep(simRunDuration)
	close(wsDone)

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("EXCHANGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	counter.mu.Lock()
	broadcastTrades := counter.total
	tradeSymbols := make(map[string]int, len(counter.symbols))
	for s, n := range counter.symbols {
		tradeSymbols[s] = n
	}
	counter.mu.Unlock()

	fmt.Printf(`
Order Statistics
----------------
Submitted Orders:  %d
Failed Orders:     %d
Immediate Fills:   %d
Broadcast Trades:  %d
Duration:          %v

Symbol Distribution (orders)
----------------------------
`, stats.SubmittedOrders, stats.FailedOrders, stats.ImmediateFills,
		broadcastTrades, duration.Round(time.Millisecond))

	printDistribution(stats.Symbols)

	fmt.Println("\nSymbol Distribution (broadcast trades)")
	fmt.Println("--------------------------------------")
	printDistribution(tradeSymbols)

	fmt.Println("\nSide Distribution")
	fmt.Println("-----------------")
	printDistribution(stats.Sides)

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("submitted_orders", stats.SubmittedOrders).
		Int("broadcast_trades", broadcastTrades).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// printDistribution renders a simple ASCII bar chart of a count map
func printDistribution(counts map[string]int) {
	maxCount := 0
	for _, count := range counts {
		if count > maxCount {
			maxCount = count
		}
	}
	if maxCount == 0 {
		fmt.Println("(none)")
		return
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		barLength := int(float64(counts[key]) / float64(maxCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-8s: %s (%d)\n", key, bar, counts[key])
	}
}

// startServer boots the whole exchange in-process on a throwaway database
// with a fast clock, so the simulation exercises the same wiring as the
// real server binary.
func startServer() error {
	cfg := config.Default()
	cfg.Server.Port = serverPort
	cfg.Storage.SQLitePath = fmt.Sprintf("%s/bourse-sim-%d.db", os.TempDir(), time.Now().UnixNano())
	cfg.Clock = config.Clock{
		SettleMS:   100,
		PricingMS:  250,
		TradersMS:  200,
		PolicyMS:   2000,
		SnapshotMS: 200,
	}

	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	ledgerService, err := ledger.NewService(db)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	matchingEngine, err := engine.NewEngine(db, ledgerService)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	marketService, err := market.NewService(db)
	if err != nil {
		return fmt.Errorf("failed to initialize market service: %w", err)
	}

	for _, seed := range cfg.Instruments {
		if _, err := matchingEngine.ListInstrument(&market.Instrument{
			Symbol:            seed.Symbol,
			Price:             seed.Price,
			SharesOutstanding: seed.SharesOutstanding,
			Revenue:           seed.Revenue,
			Profit:            seed.Profit,
			RndSpend:          seed.RndSpend,
			BaseVolatility:    seed.BaseVolatility,
		}); err != nil {
			return fmt.Errorf("failed to list instrument: %w", err)
		}
	}

	holdings := map[string]float64{}
	for _, seed := range cfg.Instruments {
		holdings[seed.Symbol] = 500
	}
	if _, err := ledgerService.Register(simActorID, types.ActorHuman, 1000000, holdings); err != nil {
		return fmt.Errorf("failed to register simulation actor: %w", err)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials(simAPIKey, simAPISecret, simActorID)

	fleet, err := traders.NewFleet(matchingEngine, ledgerService, buildBots(cfg.Bots), cfg.Bots.Cash, cfg.Bots.Holdings, cfg.Bots.Seed)
	if err != nil {
		return fmt.Errorf("failed to initialize bot fleet: %w", err)
	}

	hub := broadcast.NewHub()
	go hub.Run()
	matchingEngine.SetPublisher(hub)

	marketClock := clock.New(matchingEngine, fleet, marketService, pricing.NewModel(time.Now().UnixNano()), hub, clock.Intervals{
		Settle:   cfg.Clock.Settle(),
		Pricing:  cfg.Clock.Pricing(),
		Traders:  cfg.Clock.Traders(),
		Policy:   cfg.Clock.Policy(),
		Snapshot: cfg.Clock.Snapshot(),
	}, time.Now().UnixNano())
	go marketClock.Start(context.Background())

	router := gin.Default()
	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", auth.NewGinHandlers(authService).GenerateTokenHandler())

		engineHandlers := engine.NewGinHandlers(matchingEngine)
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			orders.POST("", engineHandlers.SubmitOrderHandler())
			orders.GET("/book/:symbol", engineHandlers.GetBookHandler())
		}

		v1.GET("/instruments", engineHandlers.ListInstrumentsHandler())
		v1.GET("/instruments/:symbol", engineHandlers.GetInstrumentHandler())
		v1.GET("/actors/:actor_id", ledger.NewGinHandlers(ledgerService).GetActorHandler())
		v1.GET("/market", market.NewGinHandlers(marketService).GetMarketHandler())
		v1.GET("/ws", hub.ServeWS())
	}

	return router.Run(fmt.Sprintf(":%d", serverPort))
}

// buildBots expands the configured fleet sizes into bot identities.
func buildBots(cfg config.Bots) []traders.Bot {
	var bots []traders.Bot
	for i := 0; i < cfg.Short; i++ {
		bots = append(bots, traders.Bot{ActorID: fmt.Sprintf("bot-short-%d", i+1), Archetype: traders.ArchetypeShort})
	}
	for i := 0; i < cfg.Long; i++ {
		bots = append(bots, traders.Bot{ActorID: fmt.Sprintf("bot-long-%d", i+1), Archetype: traders.ArchetypeLong})
	}
	for i := 0; i < cfg.Trend; i++ {
		bots = append(bots, traders.Bot{ActorID: fmt.Sprintf("bot-trend-%d", i+1), Archetype: traders.ArchetypeTrend})
	}
	return bots
}
