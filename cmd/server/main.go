package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openleague/market-engine/internal/auth"
	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/config"
	"github.com/openleague/market-engine/internal/database"
	"github.com/openleague/market-engine/internal/joblock"
	"github.com/openleague/market-engine/internal/ledger"
	"github.com/openleague/market-engine/internal/market"
	"github.com/openleague/market-engine/internal/notify"
	"github.com/openleague/market-engine/internal/roster"
	"github.com/openleague/market-engine/internal/scheduler"
	"github.com/openleague/market-engine/internal/settlement"
	"github.com/openleague/market-engine/pkg/middleware"
)

// init configures application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// Notification hub; delivery is best effort
	var events *notify.Hub
	if cfg.Notify.Enabled {
		events = notify.NewHub()
		go events.Run()
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	for _, cred := range cfg.Auth.Credentials {
		authService.RegisterAPICredentials(cred.APIKey, cred.APISecret, cred.TeamID)
	}
	if len(cfg.Auth.Credentials) == 0 && os.Getenv("ENV") != "production" {
		// Development fallback so the token endpoint works out of the box
		authService.RegisterAPICredentials("dev-api-key", "dev-api-secret", "team-dev")
		zlog.Warn().Msg("No API credentials configured, registered development credentials")
	}
	authHandlers := auth.NewGinHandlers(authService)

	catalogService := catalog.NewService(db)
	catalogHandlers := catalog.NewGinHandlers(catalogService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	rosterService := roster.NewService(db)
	rosterHandlers := roster.NewGinHandlers(rosterService)

	marketService := market.NewService(db, catalogService, events)
	marketHandlers := market.NewGinHandlers(marketService)

	settlementService := settlement.NewService(db, events)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Cross-instance job locking: Redis when configured, otherwise leases
	// in the shared relational store
	var locker joblock.Locker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = joblock.NewRedisLocker(rdb)
	} else {
		locker = joblock.NewDBLocker(db)
	}

	sched := scheduler.New(locker, cfg.Scheduler.Interval.Duration, cfg.Scheduler.LockTTL.Duration)
	sched.Register(scheduler.JobCloseAuctions, scheduler.CloseAuctionsJob(db, settlementService))
	sched.Register(scheduler.JobLockPlayers, scheduler.LockPlayersJob(db, catalogService, rosterService))
	sched.Register(scheduler.JobRevaluation, scheduler.RevaluationJob(db, catalogService, cfg.Scheduler.RevaluationHour))

	// Setup middleware
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, catalogHandlers, ledgerHandlers,
		rosterHandlers, marketHandlers, settlementHandlers, events)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	cancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msg("Server error")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// Routes are grouped by access level:
// - Auth routes: public endpoints for authentication
// - Market/team routes: protected by JWT authentication
// - Internal routes: settlement triggers, auction opening and ledger flows
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	catalogHandlers *catalog.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	rosterHandlers *roster.GinHandlers,
	marketHandlers *market.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
	events *notify.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market routes
		marketGroup := v1.Group("/market")
		marketGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			marketGroup.POST("/listings", marketHandlers.CreateListingHandler())
			marketGroup.POST("/bids", marketHandlers.PlaceBidHandler())
			marketGroup.POST("/orders/:order_id/cancel", marketHandlers.CancelOrderHandler())
			marketGroup.POST("/orders/:order_id/accept", marketHandlers.AcceptListingHandler())
			marketGroup.POST("/clause", marketHandlers.PayClauseHandler())
			marketGroup.GET("/orders/:order_id", marketHandlers.GetOrderHandler())
			marketGroup.GET("/orders/:order_id/bids", marketHandlers.GetOrderBidsHandler())
			marketGroup.GET("/leagues/:league_id/orders", marketHandlers.GetLeagueOrdersHandler())
			marketGroup.GET("/leagues/:league_id/players", catalogHandlers.GetLeaguePlayersHandler())
			marketGroup.GET("/leagues", catalogHandlers.ListLeaguesHandler())
		}

		// Team routes
		teamsGroup := v1.Group("/teams")
		teamsGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			teamsGroup.GET("/balance", ledgerHandlers.GetBalanceHandler())
			teamsGroup.GET("/ledger", ledgerHandlers.GetHistoryHandler())
			teamsGroup.GET("/leagues/:league_id/roster", rosterHandlers.GetRosterHandler())
			teamsGroup.GET("/leagues/:league_id/transfers", rosterHandlers.GetTransfersHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/settlement/:league_id", settlementHandlers.CloseAuctionsHandler())
			internal.POST("/auctions", marketHandlers.OpenAuctionHandler())
			internal.POST("/ledger/delta", ledgerHandlers.ApplyDeltaHandler())
		}

		// Real-time market events
		if events != nil {
			v1.GET("/ws", events.Handler())
		}
	}
}
