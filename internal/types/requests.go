package types

import "time"

// CreateListingRequest is the payload for listing a player on the market.
// MinPrice is optional; when zero the player's current market value is used.
type CreateListingRequest struct {
	LeagueID string `json:"league_id" binding:"required"`
	PlayerID string `json:"player_id" binding:"required"`
	MinPrice int64  `json:"min_price" binding:"gte=0"`
}

// PlaceBidRequest is the payload for bidding on an open order.
type PlaceBidRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
}

// AcceptListingRequest resolves a listing to one of its bids. BidID is
// optional; when empty the current top bid is accepted.
type AcceptListingRequest struct {
	BidID string `json:"bid_id"`
}

// PayClauseRequest is the payload for a direct clause payment.
type PayClauseRequest struct {
	LeagueID string `json:"league_id" binding:"required"`
	PlayerID string `json:"player_id" binding:"required"`
}

// LedgerDeltaRequest is the internal payload for reward and adjustment flows
// that move money outside the bid/settlement path.
type LedgerDeltaRequest struct {
	TeamID    string `json:"team_id" binding:"required"`
	Delta     int64  `json:"delta" binding:"required"`
	EntryType string `json:"entry_type" binding:"required"`
	Metadata  string `json:"metadata"`
	RefID     string `json:"ref_id"`
}

// BidResult reports an accepted bid. Reserved is the incremental amount added
// to the bidder's reservation, not the full bid.
type BidResult struct {
	BidID       string `json:"bid_id"`
	Reserved    int64  `json:"reserved"`
	MinRequired int64  `json:"min_required"`
}

// SettlementResult reports one settlement sweep. Processed counts every
// expired order touched; Settled counts orders that ended in a transfer.
type SettlementResult struct {
	Processed int `json:"processed"`
	Settled   int `json:"settled"`
}

// BalanceResult reports a team's budget after a ledger operation.
type BalanceResult struct {
	TeamID          string `json:"team_id"`
	BudgetRemaining int64  `json:"budget_remaining"`
	BudgetReserved  int64  `json:"budget_reserved"`
	Available       int64  `json:"available"`
}

// TransferResult reports a completed direct transfer (listing acceptance or
// clause payment).
type TransferResult struct {
	TransferID string    `json:"transfer_id"`
	PlayerID   string    `json:"player_id"`
	FromTeamID *string   `json:"from_team_id,omitempty"`
	ToTeamID   string    `json:"to_team_id"`
	Amount     int64     `json:"amount"`
	Cause      string    `json:"cause"`
	Timestamp  time.Time `json:"timestamp"`
}
