package router

import (
	"github.com/gin-gonic/gin"

	"github.com/senutpal/devradar/internal/auth"
	"github.com/senutpal/devradar/internal/gateway"
	"github.com/senutpal/devradar/internal/handler"
	"github.com/senutpal/devradar/internal/health"
	"github.com/senutpal/devradar/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	authService *auth.Service,
	gw *gateway.Server,
	checker *health.Checker,
	statsHandler *handler.StatsHandler,
	lbHandler *handler.LeaderboardHandler,
	presenceHandler *handler.PresenceHandler,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	// 实时连接入口，凭证走查询参数
	r.GET("/ws", gin.WrapF(gw.HandleWS))

	r.GET("/health", gin.WrapH(checker))

	// API v1
	v1 := r.Group("/api/v1")
	v1.Use(middleware.TokenAuth(authService))
	{
		stats := v1.Group("/stats")
		{
			stats.POST("/sessions", statsHandler.ReportSession)
			stats.POST("/commits", statsHandler.ReportCommits)
			stats.GET("/streak", statsHandler.GetStreak)
			stats.GET("/daily", statsHandler.GetDaily)
		}

		lb := v1.Group("/leaderboard")
		{
			lb.GET("/:metric", lbHandler.GetTop)
			lb.GET("/:metric/me", lbHandler.GetMyRank)
		}

		v1.GET("/presence/:id", presenceHandler.GetPresence)
	}

	return r
}
