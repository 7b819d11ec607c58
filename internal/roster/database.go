package roster

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

// GetActiveSlotForUpdate loads and row-locks the active slot for a
// (league, player) pair. Returns nil when the player is a free agent.
func GetActiveSlotForUpdate(tx *gorm.DB, leagueID, playerID string) (*types.RosterSlot, error) {
	var slot types.RosterSlot
	err := database.ForUpdate(tx).
		Where("league_id = ? AND player_id = ? AND active = ?", leagueID, playerID, true).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &slot, nil
}

func (d *Database) GetActiveSlot(leagueID, playerID string) (*types.RosterSlot, error) {
	return GetActiveSlotForUpdate(d.db, leagueID, playerID)
}

func (d *Database) GetTeamSlots(leagueID, teamID string) ([]types.RosterSlot, error) {
	var slots []types.RosterSlot
	if err := d.db.
		Where("league_id = ? AND team_id = ? AND active = ?", leagueID, teamID, true).
		Order("starter DESC, slot").
		Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

// LockActiveSlotsForClubs sets locked_until on every active slot whose player
// belongs to one of the clubs. Returns the number of slots locked.
func (d *Database) LockActiveSlotsForClubs(clubs []string, until time.Time) (int64, error) {
	if len(clubs) == 0 {
		return 0, nil
	}

	result := d.db.Model(&types.RosterSlot{}).
		Where("active = ? AND player_id IN (?)", true,
			d.db.Model(&types.Player{}).Select("player_id").Where("club_code IN ?", clubs)).
		Updates(map[string]interface{}{
			"locked_until": until,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (d *Database) GetTeamTransfers(leagueID, teamID string, limit int) ([]types.Transfer, error) {
	var transfers []types.Transfer
	q := d.db.Where("league_id = ? AND (to_team_id = ? OR from_team_id = ?)", leagueID, teamID, teamID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}
