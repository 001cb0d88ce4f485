package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/lexisync/internal/http/response"
	"github.com/example/lexisync/internal/leaderboard"
	"github.com/example/lexisync/internal/logger"
)

type LeaderboardHandler struct {
	log *logger.Logger
	agg *leaderboard.Aggregator
}

func NewLeaderboardHandler(log *logger.Logger, agg *leaderboard.Aggregator) *LeaderboardHandler {
	return &LeaderboardHandler{log: log.With("handler", "LeaderboardHandler"), agg: agg}
}

// GET /api/leaderboard?limit=
func (h *LeaderboardHandler) Top(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	rows, err := h.agg.Top(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"standings": rows})
}
