// Package catalog serves league configuration and the player pool: the
// eligibility gate, valuation lookups and the close-time calendar the market
// engine depends on.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openleague/market-engine/internal/types"
	"github.com/openleague/market-engine/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service exposes catalog reads and the maintenance jobs that keep them fresh.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// AssertPlayerEligible verifies the player belongs to the league's configured
// source pool. League source configuration may change between actions, so
// this runs before every mutating market operation.
func (s *Service) AssertPlayerEligible(leagueID, playerID string) error {
	league, err := s.db.GetLeague(leagueID)
	if err != nil {
		return err
	}

	player, err := s.db.GetPlayer(playerID)
	if err != nil {
		return err
	}

	if player.SourcePool != league.SourcePool {
		return fmt.Errorf("player %s (pool %s) in league %s (pool %s): %w",
			playerID, player.SourcePool, leagueID, league.SourcePool, types.ErrPlayerNotEligible)
	}

	return nil
}

// CurrentValuation returns the player's current market value, used as the
// default minimum price for listings.
func (s *Service) CurrentValuation(playerID string) (int64, error) {
	player, err := s.db.GetPlayer(playerID)
	if err != nil {
		return 0, err
	}
	return player.MarketValue, nil
}

// GetLeague returns the league configuration.
func (s *Service) GetLeague(leagueID string) (*types.League, error) {
	return s.db.GetLeague(leagueID)
}

// NextMarketClose converts the league's configured local close time to the
// next instant it occurs, in UTC. If today's close is still ahead in the
// league's timezone, today's close is used, otherwise tomorrow's.
func (s *Service) NextMarketClose(leagueID string, now time.Time) (time.Time, error) {
	league, err := s.db.GetLeague(leagueID)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(league.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("league %s timezone %q: %w", leagueID, league.Timezone, err)
	}

	hour, minute, err := parseClockTime(league.MarketCloseTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("league %s close time %q: %w", leagueID, league.MarketCloseTime, err)
	}

	local := now.In(loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !closeAt.After(local) {
		// Build tomorrow's wall-clock time instead of adding 24h, so the
		// close stays at the configured hour across DST transitions.
		closeAt = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}

	return closeAt.UTC(), nil
}

func parseClockTime(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute")
	}
	return hour, minute, nil
}

// ClubsWithGamesBetween returns the clubs of the given pool that play inside
// the window. The scheduler uses this to lock roster slots around kickoff.
func (s *Service) ClubsWithGamesBetween(sourcePool string, from, to time.Time) ([]string, error) {
	games, err := s.db.GetGamesBetween(sourcePool, from, to)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var clubs []string
	for _, g := range games {
		for _, club := range []string{g.HomeClub, g.AwayClub} {
			if !seen[club] {
				seen[club] = true
				clubs = append(clubs, club)
			}
		}
	}
	return clubs, nil
}

// RevaluePlayers refreshes market values from recent transfer activity. A
// player whose recent average transfer price diverges from the stored value
// drifts a quarter of the gap per run, so values track the market without
// overreacting to a single deal.
func (s *Service) RevaluePlayers() (int, error) {
	logger := log.With().Str("service", "catalog").Logger()

	averages, err := s.db.GetRecentTransferAverages(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recent transfer averages: %w", err)
	}
	if len(averages) == 0 {
		return 0, nil
	}

	players, err := s.db.GetAllPlayers()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, p := range players {
		avg, ok := averages[p.PlayerID]
		if !ok {
			continue
		}

		newValue := p.MarketValue + (avg-p.MarketValue)/4
		if newValue == p.MarketValue {
			continue
		}

		if err := s.db.UpdatePlayerValue(p.PlayerID, newValue); err != nil {
			logger.Error().Err(err).Str("player_id", p.PlayerID).Msg("failed to update player value")
			continue
		}
		updated++
	}

	logger.Info().Int("updated", updated).Msg("player revaluation completed")
	return updated, nil
}

// GinHandlers contains HTTP handlers for catalog endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetLeaguePlayersHandler handles GET requests for a league's player pool
// URL parameter: league_id
func (h *GinHandlers) GetLeaguePlayersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		leagueID := c.Param("league_id")

		players, err := h.service.db.GetLeaguePlayers(leagueID)
		response.Handle(c, players, err)
	}
}

// ListLeaguesHandler handles GET requests for all configured leagues
func (h *GinHandlers) ListLeaguesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		leagues, err := h.service.db.ListLeagues()
		response.Handle(c, leagues, err)
	}
}
