package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status 健康状态
type Status struct {
	Service      string `json:"service"`
	NATS         string `json:"nats"`
	Redis        string `json:"redis"`
	Connections  int    `json:"connections"`
	QueuedTasks  int    `json:"queuedTasks"`
	PendingTasks int    `json:"pendingTasks"`
}

// ConnectionCounter 连接计数端
type ConnectionCounter interface {
	Count() int
}

// FeedStatus 变更频道连接状态
type FeedStatus interface {
	Connected() bool
}

// QueueDepth 任务积压深度
type QueueDepth interface {
	Queued() int
}

// PendingTasks 未到期的延迟任务数
type PendingTasks interface {
	Pending() int
}

// Checker 健康检查器
type Checker struct {
	feed        FeedStatus
	redisClient *redis.Client
	connCounter ConnectionCounter
	queue       QueueDepth
	scheduler   PendingTasks
}

func NewChecker(feed FeedStatus, redisClient *redis.Client, connCounter ConnectionCounter, queue QueueDepth, scheduler PendingTasks) *Checker {
	return &Checker{
		feed:        feed,
		redisClient: redisClient,
		connCounter: connCounter,
		queue:       queue,
		scheduler:   scheduler,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service: "devradar",
	}

	if h.feed != nil && h.feed.Connected() {
		status.NATS = "connected"
	} else {
		status.NATS = "disconnected"
	}

	if h.redisClient != nil {
		redisCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := h.redisClient.Ping(redisCtx).Err(); err == nil {
			status.Redis = "connected"
		} else {
			status.Redis = "disconnected"
		}
	} else {
		status.Redis = "not configured"
	}

	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
	}
	if h.queue != nil {
		status.QueuedTasks = h.queue.Queued()
	}
	if h.scheduler != nil {
		status.PendingTasks = h.scheduler.Pending()
	}

	return status
}

// IsHealthy 检查是否健康
// 变更频道断开时扇出失效，视为不健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	status := h.Check(ctx)
	return status.NATS == "connected" && status.Redis == "connected"
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.NATS != "connected" || status.Redis != "connected" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
