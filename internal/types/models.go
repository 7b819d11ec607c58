package types

import (
	"time"

	"gorm.io/gorm"
)

// Order types
const (
	OrderTypeAuction = "AUCTION"
	OrderTypeListing = "LISTING"
)

// Order statuses
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusClosed    = "CLOSED"
	OrderStatusSettled   = "SETTLED"
	OrderStatusCancelled = "CANCELLED"
)

// Ledger entry types
const (
	LedgerTypeAuctionWin     = "auction-win"
	LedgerTypeSale           = "sale"
	LedgerTypePurchase       = "purchase"
	LedgerTypeClausePayment  = "clause-payment"
	LedgerTypeClauseReceived = "clause-received"
	LedgerTypeReward         = "reward"
	LedgerTypeAdjustment     = "adjustment"
)

// Transfer causes
const (
	TransferCauseAuctionWin = "AUCTION_WIN"
	TransferCauseSale       = "SALE"
	TransferCauseClause     = "CLAUSE"
)

// Roster slot positions
const (
	SlotGoalkeeper = "GK"
	SlotDefender   = "DEF"
	SlotMidfielder = "MID"
	SlotForward    = "FWD"
	SlotBench      = "BENCH"
)

// Team is a manager account inside a league. BudgetRemaining and
// BudgetReserved are minor-unit integer amounts; BudgetRemaining only ever
// changes through the ledger, BudgetReserved only through bid placement and
// settlement. Available budget is BudgetRemaining - BudgetReserved.
type Team struct {
	gorm.Model      `json:"-"`
	TeamID          string    `gorm:"uniqueIndex" json:"team_id"`
	LeagueID        string    `gorm:"index" json:"league_id"`
	Name            string    `json:"name"`
	BudgetRemaining int64     `json:"budget_remaining"`
	BudgetReserved  int64     `json:"budget_reserved"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available returns the budget a team may still commit to new bids.
func (t *Team) Available() int64 {
	return t.BudgetRemaining - t.BudgetReserved
}

// League configuration consumed by the market engine. MarketCloseTime is a
// wall-clock "HH:MM" in the league's timezone; orders created for the league
// close at the next occurrence of that time.
type League struct {
	gorm.Model      `json:"-"`
	LeagueID        string    `gorm:"uniqueIndex" json:"league_id"`
	Name            string    `json:"name"`
	Timezone        string    `json:"timezone"`
	MarketCloseTime string    `json:"market_close_time"`
	DefaultMinPrice int64     `json:"default_min_price"`
	SourcePool      string    `json:"source_pool"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Player is a catalog entry. SourcePool ties the player to the competition the
// catalog was ingested from; a league only trades players of its own pool.
type Player struct {
	gorm.Model  `json:"-"`
	PlayerID    string    `gorm:"uniqueIndex" json:"player_id"`
	Name        string    `json:"name"`
	Position    string    `json:"position"`
	ClubCode    string    `gorm:"index" json:"club_code"`
	SourcePool  string    `gorm:"index" json:"source_pool"`
	MarketValue int64     `json:"market_value"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Game is an upcoming fixture. Roster slots of players whose club is involved
// get locked around kickoff so clause payments cannot race a match.
type Game struct {
	gorm.Model `json:"-"`
	GameID     string    `gorm:"uniqueIndex" json:"game_id"`
	SourcePool string    `gorm:"index" json:"source_pool"`
	HomeClub   string    `json:"home_club"`
	AwayClub   string    `json:"away_club"`
	KickoffAt  time.Time `json:"kickoff_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarketOrder is a listing or auction for one player. OwnerTeamID is nil for
// free-agent auctions. Status transitions only through settlement or explicit
// cancellation; CLOSED and SETTLED orders are immutable.
type MarketOrder struct {
	gorm.Model  `json:"-"`
	OrderID     string    `gorm:"uniqueIndex" json:"order_id"`
	LeagueID    string    `gorm:"index" json:"league_id"`
	PlayerID    string    `gorm:"index" json:"player_id"`
	OwnerTeamID *string   `json:"owner_team_id,omitempty"`
	OrderType   string    `json:"order_type"` // AUCTION or LISTING
	Status      string    `gorm:"index" json:"status"`
	MinPrice    int64     `json:"min_price"`
	OpensAt     time.Time `json:"opens_at"`
	ClosesAt    time.Time `json:"closes_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bid is append-only; a team raising its own offer inserts a new row. The
// bidder's commitment on an order is its highest bid, not the sum.
type Bid struct {
	gorm.Model   `json:"-"`
	BidID        string    `gorm:"uniqueIndex" json:"bid_id"`
	OrderID      string    `gorm:"index" json:"order_id"`
	BidderTeamID string    `gorm:"index" json:"bidder_team_id"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// RosterSlot records a team's hold on a player within a league. At most one
// slot per (league, player) is active at any instant; ownership changes close
// the old row and insert a new one.
type RosterSlot struct {
	gorm.Model       `json:"-"`
	SlotID           string     `gorm:"uniqueIndex" json:"slot_id"`
	LeagueID         string     `gorm:"index" json:"league_id"`
	TeamID           string     `gorm:"index" json:"team_id"`
	PlayerID         string     `gorm:"index" json:"player_id"`
	Slot             string     `json:"slot"`
	Starter          bool       `json:"starter"`
	Active           bool       `gorm:"index" json:"active"`
	AcquisitionPrice int64      `json:"acquisition_price"`
	ClauseValue      int64      `json:"clause_value"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LedgerEntry is the append-only audit record of one realized balance change.
// Created in lock-step with every BudgetRemaining mutation, inside the same
// transaction. Never updated or deleted.
type LedgerEntry struct {
	gorm.Model   `json:"-"`
	EntryID      string    `gorm:"uniqueIndex" json:"entry_id"`
	TeamID       string    `gorm:"index" json:"team_id"`
	EntryType    string    `json:"entry_type"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	RefID        string    `gorm:"index" json:"ref_id,omitempty"`
	Metadata     string    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// JobLease is one row per advisory lock name. A lease is held while an
// unexpired row with the holder's token exists; expired leases may be taken
// over.
type JobLease struct {
	gorm.Model
	Name      string `gorm:"uniqueIndex"`
	Token     string `gorm:"index"`
	ExpiresAt time.Time
}

// JobRun records when a scheduled job last completed, so run-once-per-day
// jobs survive restarts and coordinate across instances.
type JobRun struct {
	gorm.Model
	Name      string `gorm:"uniqueIndex"`
	LastRunAt time.Time
}

// Transfer is the audit record of one ownership change.
type Transfer struct {
	gorm.Model `json:"-"`
	TransferID string    `gorm:"uniqueIndex" json:"transfer_id"`
	LeagueID   string    `gorm:"index" json:"league_id"`
	PlayerID   string    `gorm:"index" json:"player_id"`
	FromTeamID *string   `json:"from_team_id,omitempty"`
	ToTeamID   string    `gorm:"index" json:"to_team_id"`
	Amount     int64     `json:"amount"`
	Cause      string    `json:"cause"`
	RefID      string    `json:"ref_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
