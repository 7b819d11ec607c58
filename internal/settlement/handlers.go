package settlement

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openleague/market-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CloseAuctionsHandler handles POST requests to run the settlement sweep for
// a league on demand, outside the scheduler cadence
// Requires internal authentication; URL parameter: league_id
func (h *GinHandlers) CloseAuctionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.CloseDailyAuctions(c.Param("league_id"), time.Now())
		response.Handle(c, result, err)
	}
}
