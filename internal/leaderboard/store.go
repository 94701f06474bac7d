package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/senutpal/devradar/internal/apperrors"
)

// Metric 榜单指标
type Metric string

const (
	MetricCodingTime Metric = "coding_time"
	MetricCommits    Metric = "commits"
)

// ValidMetric 判断指标是否合法
func ValidMetric(m string) bool {
	switch Metric(m) {
	case MetricCodingTime, MetricCommits:
		return true
	}
	return false
}

const (
	// MaxPageSize 分页上限
	MaxPageSize = 100
)

// WeekKey 周榜 Key，ISO 周编号，跨周自动翻页
func WeekKey(metric Metric, t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("radar:lb:%s:%04d%02d", metric, year, week)
}

// Entry 榜单条目
type Entry struct {
	UserID int64 `json:"userId"`
	Score  int64 `json:"score"`
	Rank   int64 `json:"rank"` // 1 起始
}

// Store 周榜存储（Redis 有序集合）
// 周内分数单调递增，排名与区间读 O(log N)
type Store struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *slog.Logger
}

func NewStore(rdb *redis.Client, retention time.Duration, logger *slog.Logger) *Store {
	return &Store{
		rdb:       rdb,
		retention: retention,
		logger:    logger,
	}
}

// IncrScore 为用户累加本周分数
func (s *Store) IncrScore(ctx context.Context, metric Metric, userID int64, delta int64) error {
	if delta <= 0 {
		return nil
	}

	key := WeekKey(metric, time.Now())
	member := strconv.FormatInt(userID, 10)

	pipe := s.rdb.Pipeline()
	pipe.ZIncrBy(ctx, key, float64(delta), member)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}
	return nil
}

// Rank 查询用户本周排名与分数，未上榜返回 rank=0
func (s *Store) Rank(ctx context.Context, metric Metric, userID int64) (*Entry, error) {
	key := WeekKey(metric, time.Now())
	member := strconv.FormatInt(userID, 10)

	rank, err := s.rdb.ZRevRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return &Entry{UserID: userID}, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	return &Entry{
		UserID: userID,
		Score:  int64(score),
		Rank:   rank + 1,
	}, nil
}

// Top 分页读取本周榜单
func (s *Store) Top(ctx context.Context, metric Metric, page, limit int) ([]Entry, error) {
	page, limit = ClampPage(page, limit)

	key := WeekKey(metric, time.Now())
	start := int64((page - 1) * limit)
	stop := start + int64(limit) - 1

	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			s.logger.Warn("Invalid leaderboard member",
				"member", member,
				"error", err)
			continue
		}
		entries = append(entries, Entry{
			UserID: userID,
			Score:  int64(z.Score),
			Rank:   start + int64(i) + 1,
		})
	}

	return entries, nil
}

// Count 本周上榜人数
func (s *Store) Count(ctx context.Context, metric Metric) (int64, error) {
	n, err := s.rdb.ZCard(ctx, WeekKey(metric, time.Now())).Result()
	if err != nil {
		return 0, apperrors.ErrStoreError.Wrap(err)
	}
	return n, nil
}

// ClampPage 归一化分页参数
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
