package settlement

import (
	"errors"
	"time"

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

// GetExpiredOrderIDs returns the IDs of OPEN orders of the given type whose
// close time has passed. A plain read: each order is re-checked under its own
// row lock before settlement, so stale entries here are harmless.
func (d *Database) GetExpiredOrderIDs(leagueID, orderType string, now time.Time) ([]string, error) {
	var ids []string
	err := d.db.Model(&types.MarketOrder{}).
		Where("league_id = ? AND order_type = ? AND status = ? AND closes_at <= ?",
			leagueID, orderType, types.OrderStatusOpen, now).
		Order("closes_at ASC").
		Pluck("order_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ClaimOpenOrder loads an order inside the transaction with a lock-and-skip
// discipline: rows already claimed by a concurrent settlement worker are
// skipped, not waited on. Returns nil when the order is gone, already
// claimed, or no longer OPEN, and the sweep just moves on.
func ClaimOpenOrder(tx *gorm.DB, orderID string) (*types.MarketOrder, error) {
	var order types.MarketOrder
	err := database.ForUpdateSkipLocked(tx).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusOpen).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderedBids returns an order's bids in winning order: highest amount,
// then earliest creation, then lowest bid id.
func GetOrderedBids(tx *gorm.DB, orderID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := tx.Where("order_id = ?", orderID).
		Order("amount DESC, created_at ASC, id ASC").
		Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}
