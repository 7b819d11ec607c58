// Package market implements order lifecycle and the bid engine: listing
// creation, free-agent auctions, incremental bid reservation, cancellation,
// listing acceptance and clause payment. Every mutating operation runs inside
// a single transaction, acquiring row locks in a fixed order: order row, then
// team rows, then roster-slot rows.
package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openleague/market-engine/internal/catalog"
	"github.com/openleague/market-engine/internal/ledger"
	"github.com/openleague/market-engine/internal/notify"
	"github.com/openleague/market-engine/internal/roster"
	"github.com/openleague/market-engine/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles market order and bidding operations
type Service struct {
	db      *Database
	catalog *catalog.Service
	events  *notify.Hub
}

// NewService creates a new market service. The events hub may be nil;
// notifications are fire-and-forget and never required for correctness.
func NewService(gormDB *gorm.DB, catalogService *catalog.Service, events *notify.Hub) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		catalog: catalogService,
		events:  events,
	}
}

func (s *Service) publish(event string, data interface{}) {
	if s.events != nil {
		s.events.Publish(event, data)
	}
}

// CreateListing puts a player owned by ownerTeamID on the market. MinPrice
// defaults to the player's current valuation when zero; the close time is the
// league's next configured market close. No reservation happens at listing
// time, only at bid time.
func (s *Service) CreateListing(leagueID, ownerTeamID, playerID string, minPrice int64) (*types.MarketOrder, error) {
	logger := log.With().
		Str("league_id", leagueID).
		Str("owner_team_id", ownerTeamID).
		Str("player_id", playerID).
		Str("service", "market").
		Logger()

	if err := s.catalog.AssertPlayerEligible(leagueID, playerID); err != nil {
		return nil, err
	}

	if minPrice <= 0 {
		valuation, err := s.catalog.CurrentValuation(playerID)
		if err != nil {
			return nil, err
		}
		minPrice = valuation
	}

	now := time.Now()
	closesAt, err := s.catalog.NextMarketClose(leagueID, now)
	if err != nil {
		return nil, err
	}

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	slot, err := roster.GetActiveSlotForUpdate(tx, leagueID, playerID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if slot == nil || slot.TeamID != ownerTeamID {
		tx.Rollback()
		return nil, fmt.Errorf("team %s listing player %s: %w", ownerTeamID, playerID, types.ErrInvalidOwnership)
	}

	order := &types.MarketOrder{
		OrderID:     "ORD_" + uuid.New().String(),
		LeagueID:    leagueID,
		PlayerID:    playerID,
		OwnerTeamID: &ownerTeamID,
		OrderType:   types.OrderTypeListing,
		Status:      types.OrderStatusOpen,
		MinPrice:    minPrice,
		OpensAt:     now,
		ClosesAt:    closesAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Int64("min_price", minPrice).
		Time("closes_at", closesAt).
		Msg("listing created")

	return order, nil
}

// OpenAuction opens a free-agent auction for a player nobody currently holds.
func (s *Service) OpenAuction(leagueID, playerID string, minPrice int64) (*types.MarketOrder, error) {
	if err := s.catalog.AssertPlayerEligible(leagueID, playerID); err != nil {
		return nil, err
	}

	if minPrice <= 0 {
		valuation, err := s.catalog.CurrentValuation(playerID)
		if err != nil {
			return nil, err
		}
		minPrice = valuation
	}

	now := time.Now()
	closesAt, err := s.catalog.NextMarketClose(leagueID, now)
	if err != nil {
		return nil, err
	}

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	slot, err := roster.GetActiveSlotForUpdate(tx, leagueID, playerID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if slot != nil {
		tx.Rollback()
		return nil, fmt.Errorf("player %s already held by team %s: %w", playerID, slot.TeamID, types.ErrInvalidOwnership)
	}

	order := &types.MarketOrder{
		OrderID:   "ORD_" + uuid.New().String(),
		LeagueID:  leagueID,
		PlayerID:  playerID,
		OrderType: types.OrderTypeAuction,
		Status:    types.OrderStatusOpen,
		MinPrice:  minPrice,
		OpensAt:   now,
		ClosesAt:  closesAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("league_id", leagueID).
		Str("player_id", playerID).
		Str("service", "market").
		Msg("auction opened")

	s.publish(notify.EventCycleStarted, order)

	return order, nil
}

// PlaceBid validates and records a bid, adjusting the bidder's reservation
// incrementally: a team raising its own bid only reserves the difference, so
// it is never double-charged for the portion already held.
func (s *Service) PlaceBid(orderID, bidderTeamID string, amount int64) (*types.BidResult, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("bidder_team_id", bidderTeamID).
		Int64("amount", amount).
		Str("service", "market").
		Logger()

	now := time.Now()

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	order, err := GetOrderForUpdate(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.Status != types.OrderStatusOpen || !order.ClosesAt.After(now) {
		tx.Rollback()
		return nil, fmt.Errorf("order %s status %s closes %s: %w",
			orderID, order.Status, order.ClosesAt, types.ErrOrderNotAvailable)
	}

	// League source configuration may have changed since the order opened.
	if err := s.catalog.AssertPlayerEligible(order.LeagueID, order.PlayerID); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Lock the bidder's team row before reading bid state; lock order is
	// order row, then team row.
	if _, err := ledger.GetTeamForUpdate(tx, bidderTeamID); err != nil {
		tx.Rollback()
		return nil, err
	}

	topBid, err := GetTopBid(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	minRequired := order.MinPrice
	if minRequired <= 0 {
		minRequired = 1
	}
	if topBid != nil && topBid.Amount+1 > minRequired {
		minRequired = topBid.Amount + 1
	}

	if amount < minRequired {
		tx.Rollback()
		return nil, fmt.Errorf("bid %d below minimum %d on order %s: %w",
			amount, minRequired, orderID, types.ErrBidTooLow)
	}

	previousOwn, err := GetOwnTopAmount(tx, orderID, bidderTeamID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// A team raising its own bid only reserves the difference; Reserve
	// rejects anything beyond the available budget.
	extraToReserve := amount - previousOwn
	if extraToReserve < 0 {
		extraToReserve = 0
	}
	if extraToReserve > 0 {
		if _, err := ledger.Reserve(tx, bidderTeamID, extraToReserve); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	bid := &types.Bid{
		BidID:        "BID_" + uuid.New().String(),
		OrderID:      orderID,
		BidderTeamID: bidderTeamID,
		Amount:       amount,
		CreatedAt:    now,
	}
	if err := tx.Create(bid).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("bid_id", bid.BidID).
		Int64("reserved", extraToReserve).
		Int64("min_required", minRequired).
		Msg("bid placed")

	s.publish(notify.EventBidPlaced, bid)

	return &types.BidResult{
		BidID:       bid.BidID,
		Reserved:    extraToReserve,
		MinRequired: minRequired,
	}, nil
}

// CancelOrder cancels an OPEN order at the owner's request, releasing every
// bidder's reservation before the transition.
func (s *Service) CancelOrder(orderID, requestingTeamID string) (*types.MarketOrder, error) {
	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	order, err := GetOrderForUpdate(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.Status != types.OrderStatusOpen {
		tx.Rollback()
		return nil, fmt.Errorf("order %s status %s: %w", orderID, order.Status, types.ErrOrderNotAvailable)
	}
	if order.OwnerTeamID == nil || *order.OwnerTeamID != requestingTeamID {
		tx.Rollback()
		return nil, fmt.Errorf("team %s cancelling order %s: %w", requestingTeamID, orderID, types.ErrInvalidOwnership)
	}

	amounts, err := GetBidderTopAmounts(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for teamID, held := range amounts {
		if _, err := ledger.ReleaseReservation(tx, teamID, held); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	now := time.Now()
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = now
	if err := tx.Save(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Int("reservations_released", len(amounts)).
		Str("service", "market").
		Msg("order cancelled")

	s.publish(notify.EventOrderClosed, order)

	return order, nil
}

// AcceptListing resolves an OPEN listing to one of its bids: the seller is
// credited, the buyer debited, every reservation released and the roster slot
// transferred, all in one transaction. BidID empty means accept the top bid.
func (s *Service) AcceptListing(orderID, sellerTeamID, bidID string) (*types.TransferResult, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("seller_team_id", sellerTeamID).
		Str("service", "market").
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

	order, err := GetOrderForUpdate(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.Status != types.OrderStatusOpen || order.OrderType != types.OrderTypeListing {
		tx.Rollback()
		return nil, fmt.Errorf("order %s status %s type %s: %w",
			orderID, order.Status, order.OrderType, types.ErrOrderNotAvailable)
	}
	if order.OwnerTeamID == nil || *order.OwnerTeamID != sellerTeamID {
		tx.Rollback()
		return nil, fmt.Errorf("team %s accepting order %s: %w", sellerTeamID, orderID, types.ErrInvalidOwnership)
	}

	var accepted *types.Bid
	if bidID != "" {
		var bid types.Bid
		if err := tx.Where("bid_id = ?", bidID).First(&bid).Error; err != nil {
			tx.Rollback()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("bid %s not found on order %s: %w", bidID, orderID, types.ErrOrderNotAvailable)
			}
			return nil, err
		}
		if bid.OrderID != orderID {
			tx.Rollback()
			return nil, fmt.Errorf("bid %s not found on order %s: %w", bidID, orderID, types.ErrOrderNotAvailable)
		}
		accepted = &bid
	} else {
		top, err := GetTopBid(tx, orderID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		accepted = top
	}
	if accepted == nil {
		tx.Rollback()
		return nil, fmt.Errorf("order %s has no bids to accept: %w", orderID, types.ErrOrderNotAvailable)
	}

	amounts, err := GetBidderTopAmounts(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	buyer := accepted.BidderTeamID
	amount := accepted.Amount

	// Buyer first: give back the reservation, then realize the debit.
	if _, err := ledger.ReleaseReservation(tx, buyer, amounts[buyer]); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, _, err := ledger.ApplyDelta(tx, buyer, -amount, types.LedgerTypePurchase, "", orderID); err != nil {
		tx.Rollback()
		logger.Error().Err(err).Str("buyer_team_id", buyer).Msg("buyer debit failed")
		return nil, err
	}

	// Everyone else just gets their reservation back.
	for teamID, held := range amounts {
		if teamID == buyer {
			continue
		}
		if _, err := ledger.ReleaseReservation(tx, teamID, held); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if _, _, err := ledger.ApplyDelta(tx, sellerTeamID, amount, types.LedgerTypeSale, "", orderID); err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now()

	current, err := roster.GetActiveSlotForUpdate(tx, order.LeagueID, order.PlayerID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if current == nil || current.TeamID != sellerTeamID {
		tx.Rollback()
		return nil, fmt.Errorf("seller %s no longer holds player %s: %w", sellerTeamID, order.PlayerID, types.ErrInvalidOwnership)
	}

	if _, err := roster.TransferSlot(tx, order.LeagueID, order.PlayerID, buyer, amount, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	transfer, err := roster.RecordTransfer(tx, order.LeagueID, order.PlayerID, &sellerTeamID, buyer, amount, types.TransferCauseSale, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	order.Status = types.OrderStatusSettled
	order.UpdatedAt = now
	if err := tx.Save(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("buyer_team_id", buyer).
		Int64("amount", amount).
		Str("transfer_id", transfer.TransferID).
		Msg("listing accepted")

	s.publish(notify.EventOrderAwarded, transfer)

	return &types.TransferResult{
		TransferID: transfer.TransferID,
		PlayerID:   order.PlayerID,
		FromTeamID: &sellerTeamID,
		ToTeamID:   buyer,
		Amount:     amount,
		Cause:      types.TransferCauseSale,
		Timestamp:  now,
	}, nil
}

// PayClause transfers a player directly by paying the holder's clause value.
// No order is involved; the buyer's debit and the holder's credit land in the
// same transaction as the slot swap.
func (s *Service) PayClause(leagueID, buyerTeamID, playerID string) (*types.TransferResult, error) {
	logger := log.With().
		Str("league_id", leagueID).
		Str("buyer_team_id", buyerTeamID).
		Str("player_id", playerID).
		Str("service", "market").
		Logger()

	if err := s.catalog.AssertPlayerEligible(leagueID, playerID); err != nil {
		return nil, err
	}

	now := time.Now()

	tx := s.db.DB().Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	buyer, err := ledger.GetTeamForUpdate(tx, buyerTeamID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	slot, err := roster.GetActiveSlotForUpdate(tx, leagueID, playerID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if slot == nil {
		tx.Rollback()
		return nil, fmt.Errorf("player %s has no active holder: %w", playerID, types.ErrInvalidOwnership)
	}
	if slot.TeamID == buyerTeamID {
		tx.Rollback()
		return nil, fmt.Errorf("team %s already holds player %s: %w", buyerTeamID, playerID, types.ErrInvalidOwnership)
	}
	if slot.LockedUntil != nil && slot.LockedUntil.After(now) {
		tx.Rollback()
		return nil, fmt.Errorf("player %s locked until %s: %w", playerID, slot.LockedUntil, types.ErrPlayerLocked)
	}

	price := slot.ClauseValue
	if buyer.Available() < price {
		tx.Rollback()
		return nil, fmt.Errorf("clause %d exceeds available %d: %w", price, buyer.Available(), types.ErrInsufficientFunds)
	}

	holder := slot.TeamID
	if _, _, err := ledger.ApplyDelta(tx, buyerTeamID, -price, types.LedgerTypeClausePayment, "", slot.SlotID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, _, err := ledger.ApplyDelta(tx, holder, price, types.LedgerTypeClauseReceived, "", slot.SlotID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := roster.TransferSlot(tx, leagueID, playerID, buyerTeamID, price, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	transfer, err := roster.RecordTransfer(tx, leagueID, playerID, &holder, buyerTeamID, price, types.TransferCauseClause, slot.SlotID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	logger.Info().
		Str("holder_team_id", holder).
		Int64("clause_value", price).
		Str("transfer_id", transfer.TransferID).
		Msg("clause paid")

	s.publish(notify.EventOrderAwarded, transfer)

	return &types.TransferResult{
		TransferID: transfer.TransferID,
		PlayerID:   playerID,
		FromTeamID: &holder,
		ToTeamID:   buyerTeamID,
		Amount:     price,
		Cause:      types.TransferCauseClause,
		Timestamp:  now,
	}, nil
}

// GetOrder retrieves an order by its ID.
func (s *Service) GetOrder(orderID string) (*types.MarketOrder, error) {
	return s.db.GetOrder(orderID)
}

// GetLeagueOrders returns a league's orders, optionally filtered by status.
func (s *Service) GetLeagueOrders(leagueID, status string) ([]types.MarketOrder, error) {
	return s.db.GetLeagueOrders(leagueID, status)
}

// GetOrderBids returns an order's bids, best first.
func (s *Service) GetOrderBids(orderID string) ([]types.Bid, error) {
	if _, err := s.db.GetOrder(orderID); err != nil {
		return nil, err
	}
	return s.db.GetOrderBids(orderID)
}
