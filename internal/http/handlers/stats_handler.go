package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/escrow-engine/internal/http/handlers/common"
	"github.com/agentpay/escrow-engine/internal/service"
)

// StatsHandler serves the caller's aggregated counters.
type StatsHandler struct {
	escrow *service.EscrowService
}

func NewStatsHandler(escrow *service.EscrowService) *StatsHandler {
	return &StatsHandler{escrow: escrow}
}

// GetMyStats handles GET /api/stats.
func (h *StatsHandler) GetMyStats(c *gin.Context) {
	caller, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	stats, err := h.escrow.GetStats(c.Request.Context(), caller)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
