package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/middleware"
	"github.com/senutpal/devradar/internal/stats"
	"github.com/senutpal/devradar/pkg/response"
)

// StatsHandler 统计处理器
type StatsHandler struct {
	engine *stats.Engine
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(engine *stats.Engine) *StatsHandler {
	return &StatsHandler{engine: engine}
}

// SessionRequest 会话上报请求
type SessionRequest struct {
	DurationSeconds int64  `json:"durationSeconds"`
	Language        string `json:"language"`
	Project         string `json:"project"`
}

// ReportSession 上报一次编码会话
// POST /api/v1/stats/sessions
func (h *StatsHandler) ReportSession(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	result, err := h.engine.RecordSession(c.Request.Context(), &stats.Report{
		UserID:          userID,
		DurationSeconds: req.DurationSeconds,
		Language:        req.Language,
		Project:         req.Project,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CommitsRequest 提交数上报请求
type CommitsRequest struct {
	Count int64 `json:"count"`
}

// ReportCommits 上报提交数
// POST /api/v1/stats/commits
func (h *StatsHandler) ReportCommits(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req CommitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, err.Error())
		return
	}

	if err := h.engine.RecordCommits(c.Request.Context(), userID, req.Count); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// GetStreak 查询自己的连击记录
// GET /api/v1/stats/streak
func (h *StatsHandler) GetStreak(c *gin.Context) {
	userID := middleware.GetUserID(c)

	rec, err := h.engine.GetStreak(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, rec)
}

// GetDaily 查询某日累计编码时长
// GET /api/v1/stats/daily?date=2026-08-24
func (h *StatsHandler) GetDaily(c *gin.Context) {
	userID := middleware.GetUserID(c)

	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.ErrorWithMsg(c, apperrors.CodeInvalidParams, "invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	seconds, err := h.engine.GetDailySeconds(c.Request.Context(), userID, day)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"date":    stats.DayKey(day),
		"seconds": seconds,
	})
}
