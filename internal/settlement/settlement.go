// Package settlement implements the periodic sweep that closes expired
// auctions, picks winners and executes atomic transfers. Each order settles
// in its own transaction, so one order's failure never rolls back another's
// settlement, and re-running the sweep over already-settled orders is a no-op
// because they are no longer OPEN.
package settlement

import (
	"fmt"
	"time"

	"github.com/openleague/market-engine/internal/ledger"
	"github.com/openleague/market-engine/internal/notify"
	"github.com/openleague/market-engine/internal/roster"
	"github.com/openleague/market-engine/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service drives auction settlement for one store.
type Service struct {
	db     *Database
	events *notify.Hub
}

// NewService creates a new settlement service. The events hub may be nil.
func NewService(gormDB *gorm.DB, events *notify.Hub) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		events: events,
	}
}

func (s *Service) publish(event string, data interface{}) {
	if s.events != nil {
		s.events.Publish(event, data)
	}
}

// CloseDailyAuctions settles every expired OPEN auction of the league.
// Intended to run on every scheduler tick as well as on demand.
func (s *Service) CloseDailyAuctions(leagueID string, now time.Time) (*types.SettlementResult, error) {
	logger := log.With().
		Str("league_id", leagueID).
		Str("service", "settlement").
		Logger()

	ids, err := s.db.GetExpiredOrderIDs(leagueID, types.OrderTypeAuction, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expired auctions: %w", err)
	}

	result := &types.SettlementResult{}
	for _, orderID := range ids {
		settled, err := s.settleAuction(orderID, now)
		if err != nil {
			// The order stays OPEN and is retried on the next sweep; the
			// rest of this sweep continues.
			logger.Error().Err(err).Str("order_id", orderID).Msg("auction settlement failed")
			continue
		}
		result.Processed++
		if settled {
			result.Settled++
		}
	}

	if result.Processed > 0 {
		logger.Info().
			Int("processed", result.Processed).
			Int("settled", result.Settled).
			Msg("auction sweep completed")
	}

	return result, nil
}

// settleAuction settles one expired auction in its own transaction. Returns
// whether an award happened. Lock order inside the transaction: order row,
// then team rows, then roster-slot rows.
func (s *Service) settleAuction(orderID string, now time.Time) (bool, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("service", "settlement").
		Logger()

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	order, err := ClaimOpenOrder(tx, orderID)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if order == nil {
		// Already settled, cancelled, or claimed by a concurrent worker.
		tx.Rollback()
		return false, nil
	}

	bids, err := GetOrderedBids(tx, orderID)
	if err != nil {
		tx.Rollback()
		return false, err
	}

	if len(bids) == 0 {
		if err := s.transition(tx, order, types.OrderStatusClosed, now); err != nil {
			tx.Rollback()
			return false, err
		}
		if err := tx.Commit().Error; err != nil {
			return false, err
		}
		logger.Info().Msg("auction closed without bids")
		s.publish(notify.EventOrderClosed, order)
		return false, nil
	}

	winner := bids[0]
	bidderTop := topAmountsByBidder(bids)

	winnerTeam, err := ledger.GetTeamForUpdate(tx, winner.BidderTeamID)
	if err != nil {
		tx.Rollback()
		return false, err
	}

	// The winner's own reservation covers this bid, so it counts toward
	// what they can pay here. Budget may have moved since the bid was
	// placed; if they can no longer cover the amount the order closes
	// without awarding and without debiting anyone.
	effectiveAvailable := winnerTeam.Available() + bidderTop[winner.BidderTeamID]
	if winner.Amount > effectiveAvailable {
		for teamID, held := range bidderTop {
			if _, err := ledger.ReleaseReservation(tx, teamID, held); err != nil {
				tx.Rollback()
				return false, err
			}
		}
		if err := s.transition(tx, order, types.OrderStatusClosed, now); err != nil {
			tx.Rollback()
			return false, err
		}
		if err := tx.Commit().Error; err != nil {
			return false, err
		}
		logger.Warn().
			Str("winner_team_id", winner.BidderTeamID).
			Int64("win_amount", winner.Amount).
			Int64("effective_available", effectiveAvailable).
			Msg("winner cannot cover bid, auction closed without award")
		s.publish(notify.EventOrderClosed, order)
		return false, nil
	}

	// Realize the winner's payment: release their reservation, then debit.
	if _, err := ledger.ReleaseReservation(tx, winner.BidderTeamID, bidderTop[winner.BidderTeamID]); err != nil {
		tx.Rollback()
		return false, err
	}
	if _, _, err := ledger.ApplyDelta(tx, winner.BidderTeamID, -winner.Amount, types.LedgerTypeAuctionWin, "", orderID); err != nil {
		tx.Rollback()
		return false, err
	}

	// Every other bidder gets back their own last bid amount.
	for teamID, held := range bidderTop {
		if teamID == winner.BidderTeamID {
			continue
		}
		if _, err := ledger.ReleaseReservation(tx, teamID, held); err != nil {
			tx.Rollback()
			return false, err
		}
	}

	if _, err := roster.TransferSlot(tx, order.LeagueID, order.PlayerID, winner.BidderTeamID, winner.Amount, now); err != nil {
		tx.Rollback()
		return false, err
	}

	transfer, err := roster.RecordTransfer(tx, order.LeagueID, order.PlayerID, order.OwnerTeamID,
		winner.BidderTeamID, winner.Amount, types.TransferCauseAuctionWin, orderID)
	if err != nil {
		tx.Rollback()
		return false, err
	}

	if err := s.transition(tx, order, types.OrderStatusSettled, now); err != nil {
		tx.Rollback()
		return false, err
	}

	if err := tx.Commit().Error; err != nil {
		return false, err
	}

	logger.Info().
		Str("winner_team_id", winner.BidderTeamID).
		Int64("win_amount", winner.Amount).
		Str("transfer_id", transfer.TransferID).
		Msg("auction settled")

	s.publish(notify.EventOrderAwarded, transfer)
	return true, nil
}

// CloseExpiredListings transitions expired unaccepted listings to CLOSED,
// releasing every bidder's reservation. Listings resolve through the
// acceptance flow; once expired they can no longer be accepted.
func (s *Service) CloseExpiredListings(leagueID string, now time.Time) (int, error) {
	ids, err := s.db.GetExpiredOrderIDs(leagueID, types.OrderTypeListing, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch expired listings: %w", err)
	}

	closed := 0
	for _, orderID := range ids {
		if err := s.closeListing(orderID, now); err != nil {
			log.Error().Err(err).
				Str("order_id", orderID).
				Str("service", "settlement").
				Msg("listing close failed")
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *Service) closeListing(orderID string, now time.Time) error {
	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	order, err := ClaimOpenOrder(tx, orderID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if order == nil {
		tx.Rollback()
		return nil
	}

	bids, err := GetOrderedBids(tx, orderID)
	if err != nil {
		tx.Rollback()
		return err
	}
	for teamID, held := range topAmountsByBidder(bids) {
		if _, err := ledger.ReleaseReservation(tx, teamID, held); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := s.transition(tx, order, types.OrderStatusClosed, now); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	s.publish(notify.EventOrderClosed, order)
	return nil
}

func (s *Service) transition(tx *gorm.DB, order *types.MarketOrder, status string, now time.Time) error {
	order.Status = status
	order.UpdatedAt = now
	return tx.Save(order).Error
}

// topAmountsByBidder reduces an ordered bid list to each bidder's own top
// amount, which equals the reservation each of them holds on the order.
func topAmountsByBidder(bids []types.Bid) map[string]int64 {
	amounts := make(map[string]int64)
	for _, b := range bids {
		if _, ok := amounts[b.BidderTeamID]; !ok {
			amounts[b.BidderTeamID] = b.Amount
		}
	}
	return amounts
}
