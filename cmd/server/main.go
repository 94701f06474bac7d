package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/senutpal/devradar/internal/auth"
	"github.com/senutpal/devradar/internal/config"
	"github.com/senutpal/devradar/internal/connection"
	"github.com/senutpal/devradar/internal/fanout"
	"github.com/senutpal/devradar/internal/friends"
	"github.com/senutpal/devradar/internal/gateway"
	"github.com/senutpal/devradar/internal/handler"
	"github.com/senutpal/devradar/internal/health"
	"github.com/senutpal/devradar/internal/leaderboard"
	"github.com/senutpal/devradar/internal/natsx"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/internal/router"
	"github.com/senutpal/devradar/internal/stats"
	"github.com/senutpal/devradar/internal/task"
	"github.com/senutpal/devradar/internal/workerpool"
)

func main() {
	// 本地开发从 .env 读机密项，生产直接走环境变量
	_ = godotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if cfg.Auth.TokenSecret == "" {
		logger.Error("TOKEN_SECRET is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// NATS
	natsClient, err := natsx.NewClient(cfg.NATS, logger)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// Postgres
	pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		logger.Error("Invalid postgres dsn", "error", err)
		os.Exit(1)
	}
	if cfg.Postgres.MaxConns > 0 {
		pgCfg.MaxConns = cfg.Postgres.MaxConns
	}
	db, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		logger.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to Postgres")

	// 组件装配
	pool := workerpool.New(cfg.Gateway.Workers, cfg.Gateway.WorkerQueueSize, logger)
	defer pool.Shutdown()

	scheduler := task.NewScheduler(pool, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	authService := auth.NewService(cfg.Auth.TokenSecret, cfg.Auth.TokenExpire)
	connMgr := connection.NewManager()
	presenceStore := presence.NewStore(rdb, natsClient, cfg.Presence.TTL, logger)
	fanoutRouter := fanout.NewRouter(natsClient, connMgr, pool, logger)
	friendRepo := friends.NewRepository(db)

	lbStore := leaderboard.NewStore(rdb, cfg.Leaderboard.Retention, logger)
	engine := stats.NewEngine(rdb, lbStore, presenceStore, pool,
		cfg.Stats.LanguageAllowList, cfg.Stats.DailyRetention, logger)

	gw := gateway.New(cfg.Gateway, authService, connMgr, fanoutRouter,
		presenceStore, friendRepo, scheduler, logger)

	// 心跳超时的连接直接关闭，离线走关闭后的宽限期流程
	hbChecker := connection.NewHeartbeatChecker(connMgr,
		cfg.Gateway.HeartbeatTimeout, cfg.Gateway.HeartbeatCheckInterval, logger,
		func(conn *connection.Connection) {
			logger.Info("Heartbeat timed out", "user_id", conn.UserID())
		})
	go hbChecker.Start(ctx)

	checker := health.NewChecker(natsClient, rdb, connMgr, pool, scheduler)

	if strings.ToLower(cfg.Logging.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := router.SetupRouter(authService, gw, checker,
		handler.NewStatsHandler(engine),
		handler.NewLeaderboardHandler(lbStore),
		handler.NewPresenceHandler(presenceStore, friendRepo),
	)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: ginEngine,
	}

	go func() {
		logger.Info("Server started",
			"addr", cfg.Server.Addr,
			"node_id", cfg.Server.NodeID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	gw.Shutdown()
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
