package settlement

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/database"
	"github.com/openleague/market-engine/internal/ledger"
	"github.com/openleague/market-engine/internal/market"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

func setupSettlementTestDB(t *testing.T) (*Service, *market.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewDatabase(dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	league := types.League{
		LeagueID:        "league-1",
		Name:            "Test League",
		Timezone:        "UTC",
		MarketCloseTime: "12:00",
		SourcePool:      "POOL_A",
	}
	if err := db.Create(&league).Error; err != nil {
		t.Fatalf("Failed to seed league: %v", err)
	}

	teams := []types.Team{
		{TeamID: "team-a", LeagueID: "league-1", Name: "Team A", BudgetRemaining: 10_000_000},
		{TeamID: "team-b", LeagueID: "league-1", Name: "Team B", BudgetRemaining: 10_000_000},
	}
	for _, team := range teams {
		if err := db.Create(&team).Error; err != nil {
			t.Fatalf("Failed to seed team %s: %v", team.TeamID, err)
		}
	}

	player := types.Player{
		PlayerID:    "striker",
		Name:        "Striker",
		Position:    types.SlotForward,
		ClubCode:    "AAA",
		SourcePool:  "POOL_A",
		MarketValue: 1_000_000,
	}
	if err := db.Create(&player).Error; err != nil {
		t.Fatalf("Failed to seed player: %v", err)
	}

	marketService := market.NewService(db, catalog.NewService(db), nil)
	return NewService(db, nil), marketService, db
}

func getTeam(t *testing.T, db *gorm.DB, teamID string) *types.Team {
	t.Helper()
	var team types.Team
	if err := db.Where("team_id = ?", teamID).First(&team).Error; err != nil {
		t.Fatalf("Failed to load team %s: %v", teamID, err)
	}
	return &team
}

func getOrder(t *testing.T, db *gorm.DB, orderID string) *types.MarketOrder {
	t.Helper()
	var order types.MarketOrder
	if err := db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		t.Fatalf("Failed to load order %s: %v", orderID, err)
	}
	return &order
}

func expireOrder(t *testing.T, db *gorm.DB, orderID string) {
	t.Helper()
	err := db.Model(&types.MarketOrder{}).
		Where("order_id = ?", orderID).
		Update("closes_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("Failed to expire order: %v", err)
	}
}

func TestCloseDailyAuctionsAwardsHighestBidder(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	order, err := marketService.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-a", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-b", 2_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	expireOrder(t, db, order.OrderID)

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseDailyAuctions failed: %v", err)
	}
	if result.Processed != 1 || result.Settled != 1 {
		t.Errorf("Expected processed=1 settled=1, got processed=%d settled=%d", result.Processed, result.Settled)
	}

	winner := getTeam(t, db, "team-b")
	if winner.BudgetRemaining != 8_000_000 || winner.BudgetReserved != 0 {
		t.Errorf("Unexpected winner budget: remaining=%d reserved=%d", winner.BudgetRemaining, winner.BudgetReserved)
	}
	loser := getTeam(t, db, "team-a")
	if loser.BudgetRemaining != 10_000_000 || loser.BudgetReserved != 0 {
		t.Errorf("Unexpected loser budget: remaining=%d reserved=%d", loser.BudgetRemaining, loser.BudgetReserved)
	}

	var slots []types.RosterSlot
	if err := db.Where("league_id = ? AND player_id = ? AND active = ?", "league-1", "striker", true).Find(&slots).Error; err != nil {
		t.Fatalf("Failed to load slots: %v", err)
	}
	if len(slots) != 1 || slots[0].TeamID != "team-b" {
		t.Fatalf("Expected exactly one active slot held by team-b, got %+v", slots)
	}
	if slots[0].AcquisitionPrice != 2_000_000 || slots[0].ClauseValue != 2_000_000 {
		t.Errorf("Unexpected slot prices: acquisition=%d clause=%d", slots[0].AcquisitionPrice, slots[0].ClauseValue)
	}

	var transfer types.Transfer
	if err := db.Where("player_id = ? AND to_team_id = ?", "striker", "team-b").First(&transfer).Error; err != nil {
		t.Fatalf("Failed to load transfer: %v", err)
	}
	if transfer.Cause != types.TransferCauseAuctionWin || transfer.Amount != 2_000_000 {
		t.Errorf("Unexpected transfer: cause=%s amount=%d", transfer.Cause, transfer.Amount)
	}
	if transfer.FromTeamID != nil {
		t.Errorf("Expected free-agent transfer with nil source, got %v", transfer.FromTeamID)
	}

	// The winner's debit must show in the ledger with the order as reference.
	var entry types.LedgerEntry
	if err := db.Where("team_id = ? AND entry_type = ?", "team-b", types.LedgerTypeAuctionWin).First(&entry).Error; err != nil {
		t.Fatalf("Failed to load ledger entry: %v", err)
	}
	if entry.Delta != -2_000_000 || entry.BalanceAfter != 8_000_000 || entry.RefID != order.OrderID {
		t.Errorf("Unexpected ledger entry: delta=%d balance_after=%d ref=%s", entry.Delta, entry.BalanceAfter, entry.RefID)
	}

	if got := getOrder(t, db, order.OrderID); got.Status != types.OrderStatusSettled {
		t.Errorf("Expected order SETTLED, got %s", got.Status)
	}
}

func TestCloseDailyAuctionsNoBids(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	order, err := marketService.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}
	expireOrder(t, db, order.OrderID)

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseDailyAuctions failed: %v", err)
	}
	if result.Processed != 1 || result.Settled != 0 {
		t.Errorf("Expected processed=1 settled=0, got processed=%d settled=%d", result.Processed, result.Settled)
	}

	if got := getOrder(t, db, order.OrderID); got.Status != types.OrderStatusClosed {
		t.Errorf("Expected order CLOSED, got %s", got.Status)
	}

	var count int64
	db.Model(&types.RosterSlot{}).Where("player_id = ?", "striker").Count(&count)
	if count != 0 {
		t.Errorf("Expected no roster slots, got %d", count)
	}
}

func TestCloseDailyAuctionsWinnerCannotCover(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	order, err := marketService.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-a", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-b", 2_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	// team-b's balance drops after bidding: remaining 1.5M with 2M reserved
	// means even its own reservation can no longer cover the winning bid.
	ledgerService := ledger.NewService(db)
	if _, err := ledgerService.ApplyLedgerDelta("team-b", -8_500_000, types.LedgerTypeAdjustment, "penalty", ""); err != nil {
		t.Fatalf("Failed to drain winner: %v", err)
	}

	expireOrder(t, db, order.OrderID)

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseDailyAuctions failed: %v", err)
	}
	if result.Processed != 1 || result.Settled != 0 {
		t.Errorf("Expected processed=1 settled=0, got processed=%d settled=%d", result.Processed, result.Settled)
	}

	if got := getOrder(t, db, order.OrderID); got.Status != types.OrderStatusClosed {
		t.Errorf("Expected order CLOSED without award, got %s", got.Status)
	}

	// Nobody gets debited and every reservation comes back.
	winner := getTeam(t, db, "team-b")
	if winner.BudgetRemaining != 1_500_000 || winner.BudgetReserved != 0 {
		t.Errorf("Unexpected winner budget: remaining=%d reserved=%d", winner.BudgetRemaining, winner.BudgetReserved)
	}
	loser := getTeam(t, db, "team-a")
	if loser.BudgetRemaining != 10_000_000 || loser.BudgetReserved != 0 {
		t.Errorf("Unexpected loser budget: remaining=%d reserved=%d", loser.BudgetRemaining, loser.BudgetReserved)
	}

	var count int64
	db.Model(&types.RosterSlot{}).Where("player_id = ?", "striker").Count(&count)
	if count != 0 {
		t.Errorf("Expected no ownership change, got %d slots", count)
	}
}

func TestCloseDailyAuctionsWinnerCoveredByOwnReservation(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	order, err := marketService.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	// team-b commits its entire budget; available drops to zero but the
	// reservation itself covers the win.
	if _, err := marketService.PlaceBid(order.OrderID, "team-b", 10_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	expireOrder(t, db, order.OrderID)

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseDailyAuctions failed: %v", err)
	}
	if result.Settled != 1 {
		t.Fatalf("Expected full-budget bid to settle, got settled=%d", result.Settled)
	}

	winner := getTeam(t, db, "team-b")
	if winner.BudgetRemaining != 0 || winner.BudgetReserved != 0 {
		t.Errorf("Unexpected winner budget: remaining=%d reserved=%d", winner.BudgetRemaining, winner.BudgetReserved)
	}
}

func TestCloseDailyAuctionsIdempotent(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	order, err := marketService.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-a", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	expireOrder(t, db, order.OrderID)

	if _, err := service.CloseDailyAuctions("league-1", time.Now()); err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("Expected second sweep to find nothing, got processed=%d", result.Processed)
	}

	// The winner is debited exactly once.
	winner := getTeam(t, db, "team-a")
	if winner.BudgetRemaining != 8_500_000 || winner.BudgetReserved != 0 {
		t.Errorf("Unexpected winner budget after double sweep: remaining=%d reserved=%d",
			winner.BudgetRemaining, winner.BudgetReserved)
	}
	var count int64
	db.Model(&types.LedgerEntry{}).Where("team_id = ? AND entry_type = ?", "team-a", types.LedgerTypeAuctionWin).Count(&count)
	if count != 1 {
		t.Errorf("Expected exactly one auction-win entry, got %d", count)
	}
}

func TestCloseDailyAuctionsIgnoresUnexpired(t *testing.T) {
	service, marketService, _ := setupSettlementTestDB(t)

	if _, err := marketService.OpenAuction("league-1", "striker", 1_000_000); err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	result, err := service.CloseDailyAuctions("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseDailyAuctions failed: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("Expected open auction to be left alone, got processed=%d", result.Processed)
	}
}

func TestCloseExpiredListings(t *testing.T) {
	service, marketService, db := setupSettlementTestDB(t)

	// team-a holds the striker and lists it; team-b bids but the seller
	// never accepts before the close.
	slot := types.RosterSlot{
		SlotID:           "SLT_test_striker",
		LeagueID:         "league-1",
		TeamID:           "team-a",
		PlayerID:         "striker",
		Slot:             types.SlotForward,
		Active:           true,
		AcquisitionPrice: 1_000_000,
		ClauseValue:      1_500_000,
		ValidFrom:        time.Now().Add(-24 * time.Hour),
	}
	if err := db.Create(&slot).Error; err != nil {
		t.Fatalf("Failed to seed roster slot: %v", err)
	}

	order, err := marketService.CreateListing("league-1", "team-a", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if _, err := marketService.PlaceBid(order.OrderID, "team-b", 1_200_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	expireOrder(t, db, order.OrderID)

	closed, err := service.CloseExpiredListings("league-1", time.Now())
	if err != nil {
		t.Fatalf("CloseExpiredListings failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 listing closed, got %d", closed)
	}

	if got := getOrder(t, db, order.OrderID); got.Status != types.OrderStatusClosed {
		t.Errorf("Expected order CLOSED, got %s", got.Status)
	}

	bidder := getTeam(t, db, "team-b")
	if bidder.BudgetReserved != 0 || bidder.BudgetRemaining != 10_000_000 {
		t.Errorf("Unexpected bidder budget: remaining=%d reserved=%d", bidder.BudgetRemaining, bidder.BudgetReserved)
	}

	// The seller keeps the player.
	var active types.RosterSlot
	if err := db.Where("player_id = ? AND active = ?", "striker", true).First(&active).Error; err != nil {
		t.Fatalf("Failed to load active slot: %v", err)
	}
	if active.TeamID != "team-a" {
		t.Errorf("Expected team-a to keep the player, got %s", active.TeamID)
	}
}
