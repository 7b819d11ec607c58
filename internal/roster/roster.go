// Package roster is the ownership store. It guards the invariant the whole
// engine exists to protect: at most one active slot per (league, player) at
// any instant.
package roster

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openleague/market-engine/internal/types"
	"github.com/openleague/market-engine/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles roster slot operations
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// TransferSlot moves ownership of a player inside the caller's transaction:
// it closes whatever slot is currently active for the (league, player) pair,
// then inserts the new owner's slot. The deactivate-before-insert order is
// what keeps ownership unique.
func TransferSlot(tx *gorm.DB, leagueID, playerID, toTeamID string, price int64, now time.Time) (*types.RosterSlot, error) {
	current, err := GetActiveSlotForUpdate(tx, leagueID, playerID)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.Active = false
		current.ValidTo = &now
		current.UpdatedAt = now
		if err := tx.Save(current).Error; err != nil {
			return nil, err
		}
	}

	slot := &types.RosterSlot{
		SlotID:           "SLT_" + uuid.New().String(),
		LeagueID:         leagueID,
		TeamID:           toTeamID,
		PlayerID:         playerID,
		Slot:             types.SlotBench,
		Starter:          false,
		Active:           true,
		AcquisitionPrice: price,
		ClauseValue:      price,
		ValidFrom:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.Create(slot).Error; err != nil {
		return nil, err
	}

	return slot, nil
}

// RecordTransfer appends the audit row for one ownership change inside the
// caller's transaction.
func RecordTransfer(tx *gorm.DB, leagueID, playerID string, fromTeamID *string, toTeamID string, amount int64, cause, refID string) (*types.Transfer, error) {
	transfer := &types.Transfer{
		TransferID: "TRF_" + uuid.New().String(),
		LeagueID:   leagueID,
		PlayerID:   playerID,
		FromTeamID: fromTeamID,
		ToTeamID:   toTeamID,
		Amount:     amount,
		Cause:      cause,
		RefID:      refID,
		CreatedAt:  time.Now(),
	}
	if err := tx.Create(transfer).Error; err != nil {
		return nil, err
	}
	return transfer, nil
}

// GetActiveSlot returns the active slot for a (league, player) pair, or nil
// for a free agent.
func (s *Service) GetActiveSlot(leagueID, playerID string) (*types.RosterSlot, error) {
	return s.db.GetActiveSlot(leagueID, playerID)
}

// GetTeamRoster returns a team's active slots.
func (s *Service) GetTeamRoster(leagueID, teamID string) ([]types.RosterSlot, error) {
	return s.db.GetTeamSlots(leagueID, teamID)
}

// GetTeamTransfers returns a team's transfer history, newest first.
func (s *Service) GetTeamTransfers(leagueID, teamID string) ([]types.Transfer, error) {
	return s.db.GetTeamTransfers(leagueID, teamID, 100)
}

// LockSlotsForClubs locks active slots of players of the given clubs until
// the given instant, so clause payments cannot race a game.
func (s *Service) LockSlotsForClubs(clubs []string, until time.Time) (int64, error) {
	locked, err := s.db.LockActiveSlotsForClubs(clubs, until)
	if err != nil {
		return 0, err
	}
	if locked > 0 {
		log.Info().
			Int64("slots_locked", locked).
			Time("until", until).
			Str("service", "roster").
			Msg("locked roster slots around games")
	}
	return locked, nil
}

// GinHandlers contains HTTP handlers for roster endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetRosterHandler handles GET requests for the caller's active roster
// URL parameter: league_id
func (h *GinHandlers) GetRosterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("teamID")
		if teamID == "" {
			response.Unauthorized(c, "Missing team identity")
			return
		}

		slots, err := h.service.GetTeamRoster(c.Param("league_id"), teamID)
		response.Handle(c, slots, err)
	}
}

// GetTransfersHandler handles GET requests for the caller's transfer history
// URL parameter: league_id
func (h *GinHandlers) GetTransfersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("teamID")
		if teamID == "" {
			response.Unauthorized(c, "Missing team identity")
			return
		}

		transfers, err := h.service.GetTeamTransfers(c.Param("league_id"), teamID)
		response.Handle(c, transfers, err)
	}
}
