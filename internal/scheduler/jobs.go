package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/roster"
	"github.com/openleague/market-engine/internal/settlement"
	"github.com/openleague/market-engine/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Advisory lock names for the engine's jobs.
const (
	JobCloseAuctions = "close-expired-auctions"
	JobLockPlayers   = "lock-players-around-games"
	JobRevaluation   = "nightly-revaluation"
)

// CloseAuctionsJob sweeps every league for expired auctions and listings.
func CloseAuctionsJob(gormDB *gorm.DB, settlementService *settlement.Service) func(ctx context.Context) error {
	catalogDB := catalog.NewDatabase(gormDB)
	return func(ctx context.Context) error {
		leagues, err := catalogDB.ListLeagues()
		if err != nil {
			return err
		}

		now := time.Now()
		for _, league := range leagues {
			if _, err := settlementService.CloseDailyAuctions(league.LeagueID, now); err != nil {
				log.Error().Err(err).Str("league_id", league.LeagueID).Msg("auction sweep failed")
			}
			if _, err := settlementService.CloseExpiredListings(league.LeagueID, now); err != nil {
				log.Error().Err(err).Str("league_id", league.LeagueID).Msg("listing sweep failed")
			}
		}
		return nil
	}
}

// LockPlayersJob locks roster slots of players whose clubs kick off within
// the next hour, keeping clause payments out of the game window. Slots stay
// locked until two hours after the latest kickoff of the window.
func LockPlayersJob(gormDB *gorm.DB, catalogService *catalog.Service, rosterService *roster.Service) func(ctx context.Context) error {
	catalogDB := catalog.NewDatabase(gormDB)
	return func(ctx context.Context) error {
		leagues, err := catalogDB.ListLeagues()
		if err != nil {
			return err
		}

		now := time.Now()
		pools := make(map[string]bool)
		for _, league := range leagues {
			if pools[league.SourcePool] {
				continue
			}
			pools[league.SourcePool] = true

			clubs, err := catalogService.ClubsWithGamesBetween(league.SourcePool, now, now.Add(time.Hour))
			if err != nil {
				return err
			}
			if len(clubs) == 0 {
				continue
			}

			if _, err := rosterService.LockSlotsForClubs(clubs, now.Add(3*time.Hour)); err != nil {
				return err
			}
		}
		return nil
	}
}

// RevaluationJob refreshes player market values once per night. The job runs
// every tick but only acts in the configured quiet hour. The last completed
// run is persisted so restarts and other instances see the job already ran.
func RevaluationJob(gormDB *gorm.DB, catalogService *catalog.Service, hour int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		now := time.Now()
		if now.Hour() != hour {
			return nil
		}

		var run types.JobRun
		err := gormDB.Where("name = ?", JobRevaluation).First(&run).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && sameDay(run.LastRunAt, now) {
			return nil
		}

		if _, err := catalogService.RevaluePlayers(); err != nil {
			return err
		}

		run.Name = JobRevaluation
		run.LastRunAt = now
		return gormDB.Save(&run).Error
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
