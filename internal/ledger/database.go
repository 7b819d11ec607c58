package ledger

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

// DB exposes the underlying handle so callers can open transactions that span
// the ledger and other stores.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// GetTeamForUpdate loads and row-locks a team inside the given transaction.
func GetTeamForUpdate(tx *gorm.DB, teamID string) (*types.Team, error) {
	var team types.Team
	if err := database.ForUpdate(tx).Where("team_id = ?", teamID).First(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (d *Database) GetTeam(teamID string) (*types.Team, error) {
	var team types.Team
	if err := d.db.Where("team_id = ?", teamID).First(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (d *Database) GetTeamEntries(teamID string, limit int) ([]types.LedgerEntry, error) {
	var entries []types.LedgerEntry
	q := d.db.Where("team_id = ?", teamID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
