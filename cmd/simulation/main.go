// Simulation drives the market engine end to end against a throwaway
// database: it seeds a league, runs an auction with competing bids, forces
// settlement, then exercises the listing-acceptance and clause-payment flows.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/database"
	"github.com/openleague/market-engine/internal/ledger"
	"github.com/openleague/market-engine/internal/market"
	"github.com/openleague/market-engine/internal/settlement"
	"github.com/openleague/market-engine/internal/types"
)

const (
	leagueID      = "league-sim"
	initialBudget = int64(200_000_000)
)

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func main() {
	_ = os.Remove("simulation.db")

	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize database")
	}

	seed(db)

	catalogService := catalog.NewService(db)
	ledgerService := ledger.NewService(db)
	marketService := market.NewService(db, catalogService, nil)
	settlementService := settlement.NewService(db, nil)

	for _, teamID := range []string{"team-a", "team-b", "team-c"} {
		if _, err := ledgerService.ApplyLedgerDelta(teamID, initialBudget, types.LedgerTypeReward, "season start", ""); err != nil {
			zlog.Fatal().Err(err).Str("team_id", teamID).Msg("failed to fund team")
		}
	}

	// Auction: two competing bids, one rejected low bid, forced settlement.
	auction, err := marketService.OpenAuction(leagueID, "player-free", 1_000_000)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open auction")
	}
	zlog.Info().Str("order_id", auction.OrderID).Msg("auction opened")

	mustBid(marketService, auction.OrderID, "team-a", 1_500_000)
	mustBid(marketService, auction.OrderID, "team-b", 2_000_000)

	if _, err := marketService.PlaceBid(auction.OrderID, "team-c", 1_400_000); err != nil {
		zlog.Info().Err(err).Msg("low bid rejected as expected")
	}

	expireOrder(db, auction.OrderID)

	result, err := settlementService.CloseDailyAuctions(leagueID, time.Now())
	if err != nil {
		zlog.Fatal().Err(err).Msg("settlement sweep failed")
	}
	zlog.Info().
		Int("processed", result.Processed).
		Int("settled", result.Settled).
		Msg("auction sweep done")

	printBalances(ledgerService)

	// Listing: team-b sells its auction win to team-a.
	listing, err := marketService.CreateListing(leagueID, "team-b", "player-free", 0)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to create listing")
	}
	mustBid(marketService, listing.OrderID, "team-a", listing.MinPrice)

	transfer, err := marketService.AcceptListing(listing.OrderID, "team-b", "")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to accept listing")
	}
	zlog.Info().
		Str("transfer_id", transfer.TransferID).
		Int64("amount", transfer.Amount).
		Msg("listing accepted")

	// Clause: team-c snipes the player from team-a.
	clause, err := marketService.PayClause(leagueID, "team-c", "player-free")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to pay clause")
	}
	zlog.Info().
		Str("transfer_id", clause.TransferID).
		Int64("amount", clause.Amount).
		Msg("clause paid")

	printBalances(ledgerService)
	zlog.Info().Msg("simulation completed")
}

func seed(db *gorm.DB) {
	now := time.Now()

	league := types.League{
		LeagueID:        leagueID,
		Name:            "Simulation League",
		Timezone:        "Europe/Madrid",
		MarketCloseTime: "20:00",
		DefaultMinPrice: 150_000,
		SourcePool:      "LALIGA",
	}
	if err := db.Create(&league).Error; err != nil {
		zlog.Fatal().Err(err).Msg("failed to seed league")
	}

	for _, teamID := range []string{"team-a", "team-b", "team-c"} {
		team := types.Team{TeamID: teamID, LeagueID: leagueID, Name: teamID}
		if err := db.Create(&team).Error; err != nil {
			zlog.Fatal().Err(err).Msg("failed to seed team")
		}
	}

	players := []types.Player{
		{PlayerID: "player-free", Name: "Free Agent", Position: types.SlotForward, ClubCode: "FCB", SourcePool: "LALIGA", MarketValue: 1_000_000},
		{PlayerID: "player-owned", Name: "Owned Player", Position: types.SlotMidfielder, ClubCode: "RMA", SourcePool: "LALIGA", MarketValue: 5_000_000},
	}
	for _, p := range players {
		if err := db.Create(&p).Error; err != nil {
			zlog.Fatal().Err(err).Msg("failed to seed player")
		}
	}

	slot := types.RosterSlot{
		SlotID:           "SLT_seed",
		LeagueID:         leagueID,
		TeamID:           "team-a",
		PlayerID:         "player-owned",
		Slot:             types.SlotMidfielder,
		Starter:          true,
		Active:           true,
		AcquisitionPrice: 4_000_000,
		ClauseValue:      5_000_000,
		ValidFrom:        now,
	}
	if err := db.Create(&slot).Error; err != nil {
		zlog.Fatal().Err(err).Msg("failed to seed roster slot")
	}
}

func mustBid(marketService *market.Service, orderID, teamID string, amount int64) {
	result, err := marketService.PlaceBid(orderID, teamID, amount)
	if err != nil {
		zlog.Fatal().Err(err).Str("team_id", teamID).Msg("bid failed")
	}
	zlog.Info().
		Str("bid_id", result.BidID).
		Str("team_id", teamID).
		Int64("reserved", result.Reserved).
		Msg("bid placed")
}

// expireOrder rewinds an order's close time so the sweep picks it up without
// waiting for the league's real market close.
func expireOrder(db *gorm.DB, orderID string) {
	err := db.Model(&types.MarketOrder{}).
		Where("order_id = ?", orderID).
		Update("closes_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to expire order")
	}
}

func printBalances(ledgerService *ledger.Service) {
	for _, teamID := range []string{"team-a", "team-b", "team-c"} {
		balance, err := ledgerService.GetBalance(teamID)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to read balance")
		}
		zlog.Info().
			Str("team_id", teamID).
			Int64("remaining", balance.BudgetRemaining).
			Int64("reserved", balance.BudgetReserved).
			Int64("available", balance.Available).
			Msg("balance")
	}
}
