package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/leaderboard"
	"github.com/senutpal/devradar/internal/middleware"
	"github.com/senutpal/devradar/pkg/response"
)

// LeaderboardHandler 周榜处理器
type LeaderboardHandler struct {
	store *leaderboard.Store
}

// NewLeaderboardHandler 创建周榜处理器
func NewLeaderboardHandler(store *leaderboard.Store) *LeaderboardHandler {
	return &LeaderboardHandler{store: store}
}

// GetTop 分页查询本周榜单
// GET /api/v1/leaderboard/:metric?page=1&limit=20
func (h *LeaderboardHandler) GetTop(c *gin.Context) {
	metric := c.Param("metric")
	if !leaderboard.ValidMetric(metric) {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, "unknown metric")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := h.store.Top(c.Request.Context(), leaderboard.Metric(metric), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	total, err := h.store.Count(c.Request.Context(), leaderboard.Metric(metric))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  entries,
		"total": total,
	})
}

// GetMyRank 查询自己的本周排名
// GET /api/v1/leaderboard/:metric/me
func (h *LeaderboardHandler) GetMyRank(c *gin.Context) {
	metric := c.Param("metric")
	if !leaderboard.ValidMetric(metric) {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, "unknown metric")
		return
	}

	userID := middleware.GetUserID(c)

	entry, err := h.store.Rank(c.Request.Context(), leaderboard.Metric(metric), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, entry)
}
