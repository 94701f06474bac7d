package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/senutpal/devradar/internal/protocol"
)

// HeartbeatChecker 心跳超时检测器
// 客户端侧有自己的看门狗，这里兜底清理半开连接
type HeartbeatChecker struct {
	manager       *Manager
	timeout       time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
	onTimeout     func(conn *Connection)
}

// NewHeartbeatChecker 创建心跳检测器
func NewHeartbeatChecker(manager *Manager, timeout, checkInterval time.Duration, logger *slog.Logger, onTimeout func(conn *Connection)) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &HeartbeatChecker{
		manager:       manager,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
		onTimeout:     onTimeout,
	}
}

// Start 启动心跳检测（阻塞，应在 goroutine 中调用）
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"check_interval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			h.checkConnections()
		}
	}
}

func (h *HeartbeatChecker) checkConnections() {
	conns := h.manager.All()
	now := time.Now()
	timeoutCount := 0

	for _, conn := range conns {
		if now.Sub(conn.LastHeartbeat()) <= h.timeout {
			continue
		}
		timeoutCount++
		h.logger.Debug("Connection heartbeat timeout",
			"user_id", conn.UserID(),
			"last_heartbeat", conn.LastHeartbeat())

		if h.onTimeout != nil {
			h.onTimeout(conn)
		}

		// 关闭即触发读循环退出，后续清理走连接的正常收尾路径
		// 1001 对客户端是异常断开会触发重连，1000 会被当成主动登出
		conn.CloseWithCode(protocol.CloseGoingAway, "heartbeat timeout")
	}

	if timeoutCount > 0 {
		h.logger.Info("Heartbeat check completed",
			"total", len(conns),
			"timeout", timeoutCount)
	}
}
