package market

import (
	"github.com/gin-gonic/gin"
	"github.com/openleague/market-engine/internal/types"
	"github.com/openleague/market-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for market endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func callerTeamID(c *gin.Context) (string, bool) {
	teamID := c.GetString("teamID")
	if teamID == "" {
		response.Unauthorized(c, "Missing team identity")
		return "", false
	}
	return teamID, true
}

// CreateListingHandler handles POST requests to list a player
// Requires a valid JWT token; the seller is the authenticated team
func (h *GinHandlers) CreateListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := callerTeamID(c)
		if !ok {
			return
		}

		var req types.CreateListingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateListing(req.LeagueID, teamID, req.PlayerID, req.MinPrice)
		response.Handle(c, order, err)
	}
}

// PlaceBidHandler handles POST requests to bid on an open order
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := callerTeamID(c)
		if !ok {
			return
		}

		var req types.PlaceBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceBid(req.OrderID, teamID, req.Amount)
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler handles POST requests to cancel an open order
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := callerTeamID(c)
		if !ok {
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), teamID)
		response.Handle(c, order, err)
	}
}

// AcceptListingHandler handles POST requests to resolve a listing to a bid
// URL parameter: order_id
func (h *GinHandlers) AcceptListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := callerTeamID(c)
		if !ok {
			return
		}

		var req types.AcceptListingRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.AcceptListing(c.Param("order_id"), teamID, req.BidID)
		response.Handle(c, result, err)
	}
}

// PayClauseHandler handles POST requests for direct clause payments
func (h *GinHandlers) PayClauseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		teamID, ok := callerTeamID(c)
		if !ok {
			return
		}

		var req types.PayClauseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PayClause(req.LeagueID, teamID, req.PlayerID)
		response.Handle(c, result, err)
	}
}

// OpenAuctionHandler handles POST requests to open a free-agent auction
// Requires internal authentication
func (h *GinHandlers) OpenAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			LeagueID string `json:"league_id" binding:"required"`
			PlayerID string `json:"player_id" binding:"required"`
			MinPrice int64  `json:"min_price" binding:"gte=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.OpenAuction(req.LeagueID, req.PlayerID, req.MinPrice)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// GetLeagueOrdersHandler handles GET requests for a league's order book
// URL parameter: league_id; optional query parameter: status
func (h *GinHandlers) GetLeagueOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.GetLeagueOrders(c.Param("league_id"), c.Query("status"))
		response.Handle(c, orders, err)
	}
}

// GetOrderBidsHandler handles GET requests for an order's bids
// URL parameter: order_id
func (h *GinHandlers) GetOrderBidsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bids, err := h.service.GetOrderBids(c.Param("order_id"))
		response.Handle(c, bids, err)
	}
}
