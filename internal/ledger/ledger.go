// Package ledger is the budget ledger: the only path by which a team's
// BudgetRemaining changes. Every balance mutation appends an immutable entry
// recording the delta and the balance after it, inside the same transaction.
package ledger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openleague/market-engine/internal/types"
	"github.com/openleague/market-engine/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles budget ledger operations
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// ApplyDelta mutates a team's balance inside the caller's transaction. It
// locks the team row, rejects any delta that would take the balance negative,
// writes the new balance and appends the ledger entry. Exactly one row update
// plus one row insert, both rolled back with the caller's transaction on
// failure.
func ApplyDelta(tx *gorm.DB, teamID string, delta int64, entryType, metadata, refID string) (*types.Team, *types.LedgerEntry, error) {
	team, err := GetTeamForUpdate(tx, teamID)
	if err != nil {
		return nil, nil, err
	}

	newBalance := team.BudgetRemaining + delta
	if newBalance < 0 {
		return nil, nil, fmt.Errorf("team %s balance %d with delta %d: %w",
			teamID, team.BudgetRemaining, delta, types.ErrInsufficientFunds)
	}

	team.BudgetRemaining = newBalance
	team.UpdatedAt = time.Now()
	if err := tx.Save(team).Error; err != nil {
		return nil, nil, err
	}

	entry := &types.LedgerEntry{
		EntryID:      "LED_" + uuid.New().String(),
		TeamID:       teamID,
		EntryType:    entryType,
		Delta:        delta,
		BalanceAfter: newBalance,
		RefID:        refID,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, nil, err
	}

	return team, entry, nil
}

// Reserve earmarks part of a team's budget for an open bid inside the
// caller's transaction. Reservation is not a realized money movement, so no
// ledger entry is written; the team row is still locked and the reservation
// may never exceed the remaining budget.
func Reserve(tx *gorm.DB, teamID string, amount int64) (*types.Team, error) {
	team, err := GetTeamForUpdate(tx, teamID)
	if err != nil {
		return nil, err
	}

	if team.BudgetReserved+amount > team.BudgetRemaining {
		return nil, fmt.Errorf("team %s reserving %d beyond remaining %d: %w",
			teamID, amount, team.BudgetRemaining, types.ErrInsufficientFunds)
	}

	team.BudgetReserved += amount
	team.UpdatedAt = time.Now()
	if err := tx.Save(team).Error; err != nil {
		return nil, err
	}
	return team, nil
}

// ReleaseReservation gives back an earmarked amount inside the caller's
// transaction, clamped at zero.
func ReleaseReservation(tx *gorm.DB, teamID string, amount int64) (*types.Team, error) {
	team, err := GetTeamForUpdate(tx, teamID)
	if err != nil {
		return nil, err
	}

	team.BudgetReserved -= amount
	if team.BudgetReserved < 0 {
		team.BudgetReserved = 0
	}
	team.UpdatedAt = time.Now()
	if err := tx.Save(team).Error; err != nil {
		return nil, err
	}
	return team, nil
}

// ApplyLedgerDelta runs ApplyDelta in its own transaction. Used by reward and
// adjustment flows that move money outside bid placement and settlement.
func (s *Service) ApplyLedgerDelta(teamID string, delta int64, entryType, metadata, refID string) (*types.BalanceResult, error) {
	logger := log.With().
		Str("team_id", teamID).
		Str("entry_type", entryType).
		Int64("delta", delta).
		Str("service", "ledger").
		Logger()

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	team, _, err := ApplyDelta(tx, teamID, delta, entryType, metadata, refID)
	if err != nil {
		tx.Rollback()
		logger.Error().Err(err).Msg("ledger delta rejected")
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Int64("balance_after", team.BudgetRemaining).
		Msg("ledger delta applied")

	return &types.BalanceResult{
		TeamID:          team.TeamID,
		BudgetRemaining: team.BudgetRemaining,
		BudgetReserved:  team.BudgetReserved,
		Available:       team.Available(),
	}, nil
}

// GetBalance returns a team's current budget view.
func (s *Service) GetBalance(teamID string) (*types.BalanceResult, error) {
	team, err := s.db.GetTeam(teamID)
	if err != nil {
		return nil, err
	}
	return &types.BalanceResult{
		TeamID:          team.TeamID,
		BudgetRemaining: team.BudgetRemaining,
		BudgetReserved:  team.BudgetReserved,
		Available:       team.Available(),
	}, nil
}

// GetHistory returns a team's most recent ledger entries.
func (s *Service) GetHistory(teamID string, limit int) ([]types.LedgerEntry, error) {
	if _, err := s.db.GetTeam(teamID); err != nil {
		return nil, err
	}
	return s.db.GetTeamEntries(teamID, limit)
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ApplyDeltaHandler handles POST requests for reward and adjustment flows
// Requires internal authentication
func (h *GinHandlers) ApplyDeltaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LedgerDeltaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		balance, err := h.service.ApplyLedgerDelta(req.TeamID, req.Delta, req.EntryType, req.Metadata, req.RefID)
		response.Handle(c, balance, err)
	}
}

// GetBalanceHandler handles GET requests for the caller's budget view
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("teamID")
		if teamID == "" {
			response.Unauthorized(c, "Missing team identity")
			return
		}

		balance, err := h.service.GetBalance(teamID)
		response.Handle(c, balance, err)
	}
}

// GetHistoryHandler handles GET requests for the caller's ledger history
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID := c.GetString("teamID")
		if teamID == "" {
			response.Unauthorized(c, "Missing team identity")
			return
		}

		entries, err := h.service.GetHistory(teamID, 100)
		response.Handle(c, entries, err)
	}
}
