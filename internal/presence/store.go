package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/protocol"
)

const keyPrefix = "radar:presence:"

// Key 在线状态记录的 Redis Key
func Key(userID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

// Subject 用户状态变更的 NATS 主题（每个发布者一个频道）
func Subject(userID int64) string {
	return fmt.Sprintf("radar.presence.%d", userID)
}

// Record 用户在线状态记录
// 临时状态：无写入者时随 TTL 自动过期
type Record struct {
	UserID    int64              `json:"userId"`
	Status    string             `json:"status"`
	Activity  *protocol.Activity `json:"activity,omitempty"`
	UpdatedAt int64              `json:"updatedAt"`
}

// Event 变更事件（频道上的消息联合体）
// 状态变更和成就广播复用同一频道
type Event struct {
	Presence    *Record                      `json:"presence,omitempty"`
	Achievement *protocol.AchievementPayload `json:"achievement,omitempty"`
}

// Publisher 变更事件发布端
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Store 在线状态存储
type Store struct {
	rdb    *redis.Client
	pub    Publisher
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(rdb *redis.Client, pub Publisher, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		pub:    pub,
		ttl:    ttl,
		logger: logger,
	}
}

// Set 写入状态记录并发布变更事件
// 发布失败只记日志：在线状态是尽力而为的临时数据
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}

	if err := s.rdb.Set(ctx, Key(rec.UserID), data, s.ttl).Err(); err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}

	s.publish(rec.UserID, &Event{Presence: rec})
	return nil
}

// Get 读取用户状态，记录缺失或过期视为离线
func (s *Store) Get(ctx context.Context, userID int64) (*Record, error) {
	data, err := s.rdb.Get(ctx, Key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return offlineRecord(userID), nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}
	return &rec, nil
}

// GetBatch 批量读取（建连时的好友快照），pipeline 一次往返
func (s *Store) GetBatch(ctx context.Context, userIDs []int64) ([]*Record, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Get(ctx, Key(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	records := make([]*Record, 0, len(userIDs))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			records = append(records, offlineRecord(userIDs[i]))
			continue
		}
		if err != nil {
			s.logger.Warn("Failed to read presence record",
				"user_id", userIDs[i],
				"error", err)
			records = append(records, offlineRecord(userIDs[i]))
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("Failed to unmarshal presence record",
				"user_id", userIDs[i],
				"error", err)
			records = append(records, offlineRecord(userIDs[i]))
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// MarkOffline 标记用户离线（宽限期到期后由调度任务调用）
func (s *Store) MarkOffline(ctx context.Context, userID int64) error {
	rec := offlineRecord(userID)
	rec.UpdatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}

	// 离线记录留短暂 TTL 供 REST 查询，然后自然过期
	if err := s.rdb.Set(ctx, Key(userID), data, s.ttl).Err(); err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}

	s.publish(userID, &Event{Presence: rec})
	return nil
}

// PublishAchievement 在用户频道上广播成就事件（尽力而为）
func (s *Store) PublishAchievement(userID int64, payload *protocol.AchievementPayload) {
	s.publish(userID, &Event{Achievement: payload})
}

func (s *Store) publish(userID int64, ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal presence event",
			"user_id", userID,
			"error", err)
		return
	}
	if err := s.pub.Publish(Subject(userID), data); err != nil {
		s.logger.Warn("Failed to publish presence event",
			"user_id", userID,
			"error", err)
	}
}

func offlineRecord(userID int64) *Record {
	return &Record{
		UserID: userID,
		Status: protocol.StatusOffline,
	}
}
