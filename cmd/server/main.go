package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

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

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the exchange server with graceful shutdown
// support: database, ledger, matching engine, bot fleet, market clock,
// WebSocket broadcaster, and the HTTP API.
func main() {
	// .env is optional; real environment variables win either way
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize services
	ledgerService, err := ledger.NewService(db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize ledger")
	}
	matchingEngine, err := engine.NewEngine(db, ledgerService)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize engine")
	}
	marketService, err := market.NewService(db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize market service")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret)

	// Seed instruments and human accounts from config; seeding is
	// idempotent, restarts keep persisted state.
	for _, seed := range cfg.Instruments {
		_, err := matchingEngine.ListInstrument(&market.Instrument{
			Symbol:            seed.Symbol,
			Price:             seed.Price,
			SharesOutstanding: seed.SharesOutstanding,
			Revenue:           seed.Revenue,
			Profit:            seed.Profit,
			RndSpend:          seed.RndSpend,
			BaseVolatility:    seed.BaseVolatility,
		})
		if err != nil {
			zlog.Fatal().Err(err).Str("symbol", seed.Symbol).Msg("Failed to list instrument")
		}
	}
	for _, actor := range cfg.Actors {
		if _, err := ledgerService.Register(actor.ID, types.ActorHuman, actor.Cash, actor.Holdings); err != nil {
			zlog.Fatal().Err(err).Str("actor_id", actor.ID).Msg("Failed to register actor")
		}
		// Demo credentials: api key is the actor id
		authService.RegisterAPICredentials(actor.ID, actor.ID+"-secret", actor.ID)
	}

	fleet, err := traders.NewFleet(matchingEngine, ledgerService, buildBots(cfg.Bots), cfg.Bots.Cash, cfg.Bots.Holdings, cfg.Bots.Seed)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize bot fleet")
	}

	// Broadcaster
	hub := broadcast.NewHub()
	go hub.Run()
	matchingEngine.SetPublisher(hub)

	// Market clock
	marketClock := clock.New(matchingEngine, fleet, marketService, pricing.NewModel(time.Now().UnixNano()), hub, clock.Intervals{
		Settle:   cfg.Clock.Settle(),
		Pricing:  cfg.Clock.Pricing(),
		Traders:  cfg.Clock.Traders(),
		Policy:   cfg.Clock.Policy(),
		Snapshot: cfg.Clock.Snapshot(),
	}, time.Now().UnixNano())
	clockCtx, clockCancel := context.WithCancel(context.Background())
	defer clockCancel()
	go marketClock.Start(clockCtx)

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Auth.JWTSecret,
		auth.NewGinHandlers(authService),
		engine.NewGinHandlers(matchingEngine),
		ledger.NewGinHandlers(ledgerService),
		market.NewGinHandlers(marketService),
		hub,
	)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	clockCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
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

// setupRoutes configures all API endpoints and their handlers.
// Auth routes are public, order submission requires a JWT, market data
// routes are open behind the rate limit.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	marketHandlers *market.GinHandlers,
	hub *broadcast.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", engineHandlers.SubmitOrderHandler())
			orders.GET("/book/:symbol", engineHandlers.GetBookHandler())
		}

		// Market data routes
		v1.GET("/instruments", engineHandlers.ListInstrumentsHandler())
		v1.GET("/instruments/:symbol", engineHandlers.GetInstrumentHandler())
		v1.GET("/instruments/:symbol/trades", engineHandlers.GetTradesHandler())
		v1.GET("/actors/:actor_id", ledgerHandlers.GetActorHandler())
		v1.GET("/market", marketHandlers.GetMarketHandler())

		// WebSocket upgrade for trades and snapshots
		v1.GET("/ws", hub.ServeWS())
	}
}
