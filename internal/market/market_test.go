package market

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/database"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

func setupMarketTestDB(t *testing.T) (*Service, *gorm.DB) {
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
		DefaultMinPrice: 100_000,
		SourcePool:      "POOL_A",
	}
	if err := db.Create(&league).Error; err != nil {
		t.Fatalf("Failed to seed league: %v", err)
	}

	teams := []types.Team{
		{TeamID: "seller", LeagueID: "league-1", Name: "Seller", BudgetRemaining: 10_000_000},
		{TeamID: "buyer-a", LeagueID: "league-1", Name: "Buyer A", BudgetRemaining: 10_000_000},
		{TeamID: "buyer-b", LeagueID: "league-1", Name: "Buyer B", BudgetRemaining: 10_000_000},
		{TeamID: "poor", LeagueID: "league-1", Name: "Poor", BudgetRemaining: 1_000_000},
	}
	for _, team := range teams {
		if err := db.Create(&team).Error; err != nil {
			t.Fatalf("Failed to seed team %s: %v", team.TeamID, err)
		}
	}

	players := []types.Player{
		{PlayerID: "striker", Name: "Striker", Position: types.SlotForward, ClubCode: "AAA", SourcePool: "POOL_A", MarketValue: 1_000_000},
		{PlayerID: "keeper", Name: "Keeper", Position: types.SlotGoalkeeper, ClubCode: "BBB", SourcePool: "POOL_A", MarketValue: 2_000_000},
		{PlayerID: "outsider", Name: "Outsider", Position: types.SlotDefender, ClubCode: "ZZZ", SourcePool: "POOL_B", MarketValue: 500_000},
	}
	for _, p := range players {
		if err := db.Create(&p).Error; err != nil {
			t.Fatalf("Failed to seed player %s: %v", p.PlayerID, err)
		}
	}

	// The seller holds the keeper; the striker is a free agent.
	slot := types.RosterSlot{
		SlotID:           "SLT_test_keeper",
		LeagueID:         "league-1",
		TeamID:           "seller",
		PlayerID:         "keeper",
		Slot:             types.SlotGoalkeeper,
		Active:           true,
		AcquisitionPrice: 2_000_000,
		ClauseValue:      3_000_000,
		ValidFrom:        time.Now().Add(-24 * time.Hour),
	}
	if err := db.Create(&slot).Error; err != nil {
		t.Fatalf("Failed to seed roster slot: %v", err)
	}

	return NewService(db, catalog.NewService(db), nil), db
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

func TestCreateListing(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 2_500_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if order.OrderType != types.OrderTypeListing || order.Status != types.OrderStatusOpen {
		t.Errorf("Unexpected order state: type=%s status=%s", order.OrderType, order.Status)
	}
	if order.MinPrice != 2_500_000 {
		t.Errorf("Expected min price 2500000, got %d", order.MinPrice)
	}
	if order.OwnerTeamID == nil || *order.OwnerTeamID != "seller" {
		t.Errorf("Expected owner seller, got %v", order.OwnerTeamID)
	}
	if !order.ClosesAt.After(time.Now()) {
		t.Errorf("Expected close time in the future, got %s", order.ClosesAt)
	}
}

func TestCreateListingDefaultsMinPriceToValuation(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 0)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if order.MinPrice != 2_000_000 {
		t.Errorf("Expected min price to default to valuation 2000000, got %d", order.MinPrice)
	}
}

func TestCreateListingRequiresOwnership(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	// buyer-a does not hold the keeper.
	if _, err := service.CreateListing("league-1", "buyer-a", "keeper", 0); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for non-holder, got %v", err)
	}

	// Nobody holds the striker.
	if _, err := service.CreateListing("league-1", "seller", "striker", 0); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for free agent, got %v", err)
	}
}

func TestCreateListingIneligiblePlayer(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	if _, err := service.CreateListing("league-1", "seller", "outsider", 0); !errors.Is(err, types.ErrPlayerNotEligible) {
		t.Fatalf("Expected ErrPlayerNotEligible, got %v", err)
	}
}

func TestOpenAuctionRejectsHeldPlayer(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	if _, err := service.OpenAuction("league-1", "keeper", 0); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership, got %v", err)
	}
}

func TestPlaceBidMinimums(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	order, err := service.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	// Below the minimum price.
	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 999_999); !errors.Is(err, types.ErrBidTooLow) {
		t.Fatalf("Expected ErrBidTooLow below min price, got %v", err)
	}

	// Exactly the minimum price is acceptable for the first bid.
	result, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000)
	if err != nil {
		t.Fatalf("First bid at min price failed: %v", err)
	}
	if result.Reserved != 1_000_000 {
		t.Errorf("Expected full reservation 1000000, got %d", result.Reserved)
	}

	// A competing bid must strictly exceed the current top.
	if _, err := service.PlaceBid(order.OrderID, "buyer-b", 1_000_000); !errors.Is(err, types.ErrBidTooLow) {
		t.Fatalf("Expected ErrBidTooLow at current top, got %v", err)
	}

	result, err = service.PlaceBid(order.OrderID, "buyer-b", 1_000_001)
	if err != nil {
		t.Fatalf("Outbid by one failed: %v", err)
	}
	if result.MinRequired != 1_000_001 {
		t.Errorf("Expected min required 1000001, got %d", result.MinRequired)
	}
}

func TestPlaceBidIncrementalReservation(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000); err != nil {
		t.Fatalf("First bid failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-b", 2_000_000); err != nil {
		t.Fatalf("Competing bid failed: %v", err)
	}

	// buyer-a raises its own bid; only the difference gets reserved.
	result, err := service.PlaceBid(order.OrderID, "buyer-a", 3_000_000)
	if err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if result.Reserved != 2_000_000 {
		t.Errorf("Expected incremental reservation 2000000, got %d", result.Reserved)
	}

	team := getTeam(t, db, "buyer-a")
	if team.BudgetReserved != 3_000_000 {
		t.Errorf("Expected total reservation 3000000, got %d", team.BudgetReserved)
	}
	if team.BudgetRemaining != 10_000_000 {
		t.Errorf("Bid placement must not touch the balance, got %d", team.BudgetRemaining)
	}
}

func TestPlaceBidInsufficientFunds(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	if _, err := service.PlaceBid(order.OrderID, "poor", 1_000_001); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	// The rejected bid must leave no reservation and no bid row behind.
	team := getTeam(t, db, "poor")
	if team.BudgetReserved != 0 {
		t.Errorf("Expected no reservation after rejection, got %d", team.BudgetReserved)
	}
	var count int64
	db.Model(&types.Bid{}).Where("order_id = ?", order.OrderID).Count(&count)
	if count != 0 {
		t.Errorf("Expected no bid rows after rejection, got %d", count)
	}

	// Spending exactly the full budget is fine.
	if _, err := service.PlaceBid(order.OrderID, "poor", 1_000_000); err != nil {
		t.Fatalf("Bid equal to full budget failed: %v", err)
	}
}

func TestPlaceBidOrderNotAvailable(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.OpenAuction("league-1", "striker", 1_000_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}

	// Expired but still OPEN.
	err = db.Model(&types.MarketOrder{}).
		Where("order_id = ?", order.OrderID).
		Update("closes_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("Failed to expire order: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable on expired order, got %v", err)
	}

	// Closed.
	err = db.Model(&types.MarketOrder{}).
		Where("order_id = ?", order.OrderID).
		Updates(map[string]interface{}{"status": types.OrderStatusClosed, "closes_at": time.Now().Add(time.Hour)}).Error
	if err != nil {
		t.Fatalf("Failed to close order: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable on closed order, got %v", err)
	}

	if _, err := service.PlaceBid("ORD_missing", "buyer-a", 1_000_000); !errors.Is(err, types.ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrderReleasesReservations(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-b", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	if _, err := service.CancelOrder(order.OrderID, "buyer-a"); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for non-owner cancel, got %v", err)
	}

	cancelled, err := service.CancelOrder(order.OrderID, "seller")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if cancelled.Status != types.OrderStatusCancelled {
		t.Errorf("Expected status CANCELLED, got %s", cancelled.Status)
	}

	for _, teamID := range []string{"buyer-a", "buyer-b"} {
		team := getTeam(t, db, teamID)
		if team.BudgetReserved != 0 {
			t.Errorf("Expected %s reservation released, got %d", teamID, team.BudgetReserved)
		}
		if team.BudgetRemaining != 10_000_000 {
			t.Errorf("Expected %s balance untouched, got %d", teamID, team.BudgetRemaining)
		}
	}

	// A cancelled order cannot be cancelled again.
	if _, err := service.CancelOrder(order.OrderID, "seller"); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable on second cancel, got %v", err)
	}
}

func TestAcceptListing(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-b", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	if _, err := service.AcceptListing(order.OrderID, "buyer-b", ""); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for non-owner accept, got %v", err)
	}

	transfer, err := service.AcceptListing(order.OrderID, "seller", "")
	if err != nil {
		t.Fatalf("AcceptListing failed: %v", err)
	}
	if transfer.ToTeamID != "buyer-b" || transfer.Amount != 1_500_000 {
		t.Errorf("Expected buyer-b to win at 1500000, got %s at %d", transfer.ToTeamID, transfer.Amount)
	}
	if transfer.Cause != types.TransferCauseSale {
		t.Errorf("Expected cause SALE, got %s", transfer.Cause)
	}

	buyer := getTeam(t, db, "buyer-b")
	if buyer.BudgetRemaining != 8_500_000 || buyer.BudgetReserved != 0 {
		t.Errorf("Unexpected buyer budget: remaining=%d reserved=%d", buyer.BudgetRemaining, buyer.BudgetReserved)
	}

	losing := getTeam(t, db, "buyer-a")
	if losing.BudgetRemaining != 10_000_000 || losing.BudgetReserved != 0 {
		t.Errorf("Unexpected losing bidder budget: remaining=%d reserved=%d", losing.BudgetRemaining, losing.BudgetReserved)
	}

	sellerTeam := getTeam(t, db, "seller")
	if sellerTeam.BudgetRemaining != 11_500_000 {
		t.Errorf("Expected seller credited to 11500000, got %d", sellerTeam.BudgetRemaining)
	}

	var slots []types.RosterSlot
	if err := db.Where("league_id = ? AND player_id = ? AND active = ?", "league-1", "keeper", true).Find(&slots).Error; err != nil {
		t.Fatalf("Failed to load slots: %v", err)
	}
	if len(slots) != 1 || slots[0].TeamID != "buyer-b" {
		t.Fatalf("Expected exactly one active slot held by buyer-b, got %+v", slots)
	}
	if slots[0].AcquisitionPrice != 1_500_000 {
		t.Errorf("Expected acquisition price 1500000, got %d", slots[0].AcquisitionPrice)
	}

	if got := getOrder(t, db, order.OrderID); got.Status != types.OrderStatusSettled {
		t.Errorf("Expected order SETTLED, got %s", got.Status)
	}

	// A settled listing cannot be accepted again.
	if _, err := service.AcceptListing(order.OrderID, "seller", ""); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable on second accept, got %v", err)
	}
}

func TestAcceptListingSpecificBid(t *testing.T) {
	service, db := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	first, err := service.PlaceBid(order.OrderID, "buyer-a", 1_000_000)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := service.PlaceBid(order.OrderID, "buyer-b", 1_500_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	// The seller may accept a lower, non-top bid by id.
	transfer, err := service.AcceptListing(order.OrderID, "seller", first.BidID)
	if err != nil {
		t.Fatalf("AcceptListing failed: %v", err)
	}
	if transfer.ToTeamID != "buyer-a" || transfer.Amount != 1_000_000 {
		t.Errorf("Expected buyer-a at 1000000, got %s at %d", transfer.ToTeamID, transfer.Amount)
	}

	// The outbid top bidder still gets its reservation back.
	if team := getTeam(t, db, "buyer-b"); team.BudgetReserved != 0 {
		t.Errorf("Expected buyer-b reservation released, got %d", team.BudgetReserved)
	}
}

func TestAcceptListingRejectsBidFromOtherOrder(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	listing, err := service.CreateListing("league-1", "seller", "keeper", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	auction, err := service.OpenAuction("league-1", "striker", 500_000)
	if err != nil {
		t.Fatalf("OpenAuction failed: %v", err)
	}
	auctionBid, err := service.PlaceBid(auction.OrderID, "buyer-a", 500_000)
	if err != nil {
		t.Fatalf("Bid failed: %v", err)
	}
	if _, err := service.PlaceBid(listing.OrderID, "buyer-b", 1_000_000); err != nil {
		t.Fatalf("Bid failed: %v", err)
	}

	// A bid id belonging to a different order must not be accepted.
	if _, err := service.AcceptListing(listing.OrderID, "seller", auctionBid.BidID); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable for foreign bid, got %v", err)
	}
}

func TestAcceptListingWithoutBids(t *testing.T) {
	service, _ := setupMarketTestDB(t)

	order, err := service.CreateListing("league-1", "seller", "keeper", 1_000_000)
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if _, err := service.AcceptListing(order.OrderID, "seller", ""); !errors.Is(err, types.ErrOrderNotAvailable) {
		t.Fatalf("Expected ErrOrderNotAvailable without bids, got %v", err)
	}
}

func TestPayClause(t *testing.T) {
	service, db := setupMarketTestDB(t)

	transfer, err := service.PayClause("league-1", "buyer-a", "keeper")
	if err != nil {
		t.Fatalf("PayClause failed: %v", err)
	}
	if transfer.Amount != 3_000_000 || transfer.Cause != types.TransferCauseClause {
		t.Errorf("Unexpected transfer: amount=%d cause=%s", transfer.Amount, transfer.Cause)
	}

	buyer := getTeam(t, db, "buyer-a")
	if buyer.BudgetRemaining != 7_000_000 {
		t.Errorf("Expected buyer debited to 7000000, got %d", buyer.BudgetRemaining)
	}
	holder := getTeam(t, db, "seller")
	if holder.BudgetRemaining != 13_000_000 {
		t.Errorf("Expected holder credited to 13000000, got %d", holder.BudgetRemaining)
	}

	var slot types.RosterSlot
	if err := db.Where("league_id = ? AND player_id = ? AND active = ?", "league-1", "keeper", true).First(&slot).Error; err != nil {
		t.Fatalf("Failed to load active slot: %v", err)
	}
	if slot.TeamID != "buyer-a" || slot.ClauseValue != 3_000_000 {
		t.Errorf("Unexpected slot after clause: team=%s clause=%d", slot.TeamID, slot.ClauseValue)
	}
}

func TestPayClauseRejections(t *testing.T) {
	service, db := setupMarketTestDB(t)

	// Holder cannot pay its own clause.
	if _, err := service.PayClause("league-1", "seller", "keeper"); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for own player, got %v", err)
	}

	// Free agents have no clause.
	if _, err := service.PayClause("league-1", "buyer-a", "striker"); !errors.Is(err, types.ErrInvalidOwnership) {
		t.Fatalf("Expected ErrInvalidOwnership for free agent, got %v", err)
	}

	// Clause above the buyer's available budget.
	if _, err := service.PayClause("league-1", "poor", "keeper"); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	// Locked slot around a game.
	until := time.Now().Add(time.Hour)
	err := db.Model(&types.RosterSlot{}).
		Where("player_id = ? AND active = ?", "keeper", true).
		Update("locked_until", until).Error
	if err != nil {
		t.Fatalf("Failed to lock slot: %v", err)
	}
	if _, err := service.PayClause("league-1", "buyer-a", "keeper"); !errors.Is(err, types.ErrPlayerLocked) {
		t.Fatalf("Expected ErrPlayerLocked, got %v", err)
	}

	// An expired lock no longer blocks.
	expired := time.Now().Add(-time.Hour)
	err = db.Model(&types.RosterSlot{}).
		Where("player_id = ? AND active = ?", "keeper", true).
		Update("locked_until", expired).Error
	if err != nil {
		t.Fatalf("Failed to expire lock: %v", err)
	}
	if _, err := service.PayClause("league-1", "buyer-a", "keeper"); err != nil {
		t.Fatalf("PayClause with expired lock failed: %v", err)
	}
}
