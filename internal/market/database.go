package market

import (
	"errors"

	"github.com/openleague/market-engine/internal/database"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) DB() *gorm.DB {
	return d.db
}

// GetOrderForUpdate loads and row-locks an order inside the given
// transaction. Order rows are always locked first; team rows and roster-slot
// rows follow, in that order, to keep lock acquisition deadlock-free.
func GetOrderForUpdate(tx *gorm.DB, orderID string) (*types.MarketOrder, error) {
	var order types.MarketOrder
	if err := database.ForUpdate(tx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrder(orderID string) (*types.MarketOrder, error) {
	var order types.MarketOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetTopBid returns the current winning bid: highest amount, tie-broken by
// earliest creation, then lowest id. Nil when the order has no bids.
func GetTopBid(tx *gorm.DB, orderID string) (*types.Bid, error) {
	var bid types.Bid
	err := tx.Where("order_id = ?", orderID).
		Order("amount DESC, created_at ASC, id ASC").
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

// GetOwnTopAmount returns the bidder's highest previous bid on the order, or
// zero if it has none. This is the amount already held in reservation.
func GetOwnTopAmount(tx *gorm.DB, orderID, teamID string) (int64, error) {
	var amount *int64
	err := tx.Model(&types.Bid{}).
		Select("MAX(amount)").
		Where("order_id = ? AND bidder_team_id = ?", orderID, teamID).
		Scan(&amount).Error
	if err != nil {
		return 0, err
	}
	if amount == nil {
		return 0, nil
	}
	return *amount, nil
}

// GetBidderTopAmounts returns each bidder's own highest bid on the order,
// which is exactly the reservation each of them currently holds.
func GetBidderTopAmounts(tx *gorm.DB, orderID string) (map[string]int64, error) {
	type row struct {
		BidderTeamID string
		TopAmount    int64
	}
	var rows []row
	err := tx.Model(&types.Bid{}).
		Select("bidder_team_id, MAX(amount) as top_amount").
		Where("order_id = ?", orderID).
		Group("bidder_team_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	amounts := make(map[string]int64, len(rows))
	for _, r := range rows {
		amounts[r.BidderTeamID] = r.TopAmount
	}
	return amounts, nil
}

func (d *Database) GetLeagueOrders(leagueID, status string) ([]types.MarketOrder, error) {
	var orders []types.MarketOrder
	q := d.db.Where("league_id = ?", leagueID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("closes_at ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetOrderBids(orderID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("order_id = ?", orderID).
		Order("amount DESC, created_at ASC, id ASC").
		Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}
