package catalog

import (
	"errors"
	"time"

	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetLeague(leagueID string) (*types.League, error) {
	var league types.League
	if err := d.db.Where("league_id = ?", leagueID).First(&league).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrLeagueNotFound
		}
		return nil, err
	}
	return &league, nil
}

func (d *Database) GetPlayer(playerID string) (*types.Player, error) {
	var player types.Player
	if err := d.db.Where("player_id = ?", playerID).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (d *Database) GetLeaguePlayers(leagueID string) ([]types.Player, error) {
	league, err := d.GetLeague(leagueID)
	if err != nil {
		return nil, err
	}

	var players []types.Player
	if err := d.db.Where("source_pool = ?", league.SourcePool).
		Order("market_value DESC").
		Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

func (d *Database) ListLeagues() ([]types.League, error) {
	var leagues []types.League
	if err := d.db.Order("league_id").Find(&leagues).Error; err != nil {
		return nil, err
	}
	return leagues, nil
}

// GetGamesBetween returns fixtures of the given pool with kickoff inside the
// window.
func (d *Database) GetGamesBetween(sourcePool string, from, to time.Time) ([]types.Game, error) {
	var games []types.Game
	if err := d.db.Where("source_pool = ? AND kickoff_at >= ? AND kickoff_at < ?", sourcePool, from, to).
		Find(&games).Error; err != nil {
		return nil, err
	}
	return games, nil
}

func (d *Database) UpdatePlayerValue(playerID string, value int64) error {
	return d.db.Model(&types.Player{}).
		Where("player_id = ?", playerID).
		Updates(map[string]interface{}{
			"market_value": value,
			"updated_at":   time.Now(),
		}).Error
}

// GetRecentTransferAverages returns, per player, the average transfer amount
// recorded since the cutoff. Feeds the nightly revaluation.
func (d *Database) GetRecentTransferAverages(cutoff time.Time) (map[string]int64, error) {
	type row struct {
		PlayerID  string
		AvgAmount float64
	}
	var rows []row

	query := `
		SELECT player_id, AVG(amount) as avg_amount
		FROM transfers
		WHERE created_at >= ?
		GROUP BY player_id`

	if err := d.db.Raw(query, cutoff).Scan(&rows).Error; err != nil {
		return nil, err
	}

	averages := make(map[string]int64, len(rows))
	for _, r := range rows {
		averages[r.PlayerID] = int64(r.AvgAmount)
	}
	return averages, nil
}

func (d *Database) GetAllPlayers() ([]types.Player, error) {
	var players []types.Player
	if err := d.db.Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}
