package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/senutpal/devradar/internal/natsx"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/internal/protocol"
	"github.com/senutpal/devradar/internal/workerpool"
)

// Sender 帧投递端（由连接注册表实现）
// 目标无活跃连接时返回 false，投递静默丢弃
type Sender interface {
	SendToUser(userID int64, data []byte) bool
}

// Feed 变更订阅端
type Feed interface {
	Subscribe(subject string, handler func(data []byte)) (natsx.Subscription, error)
}

// Submitter 投递任务提交端
type Submitter interface {
	Submit(task workerpool.Task) bool
}

// channelState 单个发布者频道的订阅状态
// 订阅按 viewer 计数：顶号切换时旧会话的收尾和新会话的订阅
// 会短暂叠加，退订只抵消一次订阅
type channelState struct {
	subscribers map[int64]int
	sub         natsx.Subscription
}

// Router 订阅/扇出路由
// 每个发布者一个频道；首个订阅者挂上变更监听，最后一个离开时拆除
type Router struct {
	mu       sync.RWMutex
	channels map[int64]*channelState
	feed     Feed
	sender   Sender
	pool     Submitter
	logger   *slog.Logger
}

func NewRouter(feed Feed, sender Sender, pool Submitter, logger *slog.Logger) *Router {
	return &Router{
		channels: make(map[int64]*channelState),
		feed:     feed,
		sender:   sender,
		pool:     pool,
		logger:   logger,
	}
}

// Subscribe 订阅发布者的状态变更
func (r *Router) Subscribe(viewerID, publisherID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[publisherID]
	if !ok {
		sub, err := r.feed.Subscribe(presence.Subject(publisherID), func(data []byte) {
			r.dispatch(publisherID, data)
		})
		if err != nil {
			return err
		}
		ch = &channelState{
			subscribers: make(map[int64]int),
			sub:         sub,
		}
		r.channels[publisherID] = ch
	}

	ch.subscribers[viewerID]++
	return nil
}

// Unsubscribe 退订；频道无订阅者时拆除监听
func (r *Router) Unsubscribe(viewerID, publisherID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[publisherID]
	if !ok {
		return
	}

	ch.subscribers[viewerID]--
	if ch.subscribers[viewerID] <= 0 {
		delete(ch.subscribers, viewerID)
	}
	if len(ch.subscribers) == 0 {
		if err := ch.sub.Unsubscribe(); err != nil {
			r.logger.Warn("Failed to unsubscribe channel",
				"publisher_id", publisherID,
				"error", err)
		}
		delete(r.channels, publisherID)
	}
}

// UnsubscribeAll 退订一组发布者（连接关闭时）
func (r *Router) UnsubscribeAll(viewerID int64, publisherIDs []int64) {
	for _, pid := range publisherIDs {
		r.Unsubscribe(viewerID, pid)
	}
}

// SubscriberCount 频道当前订阅者数
func (r *Router) SubscriberCount(publisherID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[publisherID]
	if !ok {
		return 0
	}
	return len(ch.subscribers)
}

// ChannelCount 活跃频道数
func (r *Router) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// dispatch 变更事件到达：查当前订阅者集合，逐个投递
// 离线订阅者由 Sender 丢弃，状态不为离线好友排队
func (r *Router) dispatch(publisherID int64, data []byte) {
	var ev presence.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Error("Failed to unmarshal presence event",
			"publisher_id", publisherID,
			"error", err)
		return
	}

	var env *protocol.Envelope
	var err error
	switch {
	case ev.Presence != nil:
		env, err = protocol.NewEnvelope(protocol.TypeFriendStatus, &protocol.FriendStatusPayload{
			UserID:    ev.Presence.UserID,
			Status:    ev.Presence.Status,
			Activity:  ev.Presence.Activity,
			UpdatedAt: ev.Presence.UpdatedAt,
		})
	case ev.Achievement != nil:
		env, err = protocol.NewEnvelope(protocol.TypeAchievement, ev.Achievement)
	default:
		return
	}
	if err != nil {
		r.logger.Error("Failed to build fanout envelope",
			"publisher_id", publisherID,
			"error", err)
		return
	}

	frame, err := env.Encode()
	if err != nil {
		r.logger.Error("Failed to encode fanout frame",
			"publisher_id", publisherID,
			"error", err)
		return
	}

	r.mu.RLock()
	ch, ok := r.channels[publisherID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	subscribers := make([]int64, 0, len(ch.subscribers))
	for id := range ch.subscribers {
		subscribers = append(subscribers, id)
	}
	r.mu.RUnlock()

	for _, viewerID := range subscribers {
		viewerID := viewerID
		r.pool.Submit(func() {
			r.sender.SendToUser(viewerID, frame)
		})
	}
}
