package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/leaderboard"
	"github.com/senutpal/devradar/internal/protocol"
	"github.com/senutpal/devradar/internal/workerpool"
)

const (
	// MaxSessionSeconds 单次会话上报的秒数上限（一天）
	MaxSessionSeconds = 86400

	// streakTTLDays 连击记录保活天数：容忍整整漏一天再留余量
	streakTTLDays = 4

	// heatmapTTL 热力图分钟计数器保留时长
	heatmapTTL = 2 * time.Hour

	otherLanguage = "other"
)

// 连击更新必须对同一用户的并发上报原子执行：
// 读-改-写拆开会出现两个"当日首报"同时算出 count+1 的丢失更新。
// 整段逻辑放进一个 Lua 脚本，Redis 单线程执行保证不可分割。
// 返回 {advanced, count, longest}。
var streakScript = redis.NewScript(`
local key = KEYS[1]
local today = ARGV[1]
local yesterday = ARGV[2]
local ttl = tonumber(ARGV[3])

local last = redis.call('HGET', key, 'last_active_date')
local count = tonumber(redis.call('HGET', key, 'count') or '0')
local longest = tonumber(redis.call('HGET', key, 'longest') or '0')

if last == today then
  return {0, count, longest}
end

local candidate
if last == yesterday then
  candidate = count + 1
else
  candidate = 1
end
if candidate > longest then
  longest = candidate
end

redis.call('HSET', key, 'count', candidate, 'longest', longest, 'last_active_date', today)
redis.call('EXPIRE', key, ttl)
return {1, candidate, longest}
`)

// milestones 连击成就里程碑，从高到低检查，单次跨越只发最高一档
var milestones = []int64{100, 30, 7}

// Report 会话上报
type Report struct {
	UserID          int64
	DurationSeconds int64
	Language        string
	Project         string
}

// Validate 校验会话上报
func (r *Report) Validate() error {
	if r.UserID <= 0 {
		return apperrors.ErrInvalidParams
	}
	if r.DurationSeconds < 0 || r.DurationSeconds > MaxSessionSeconds {
		return apperrors.ErrInvalidParams
	}
	return nil
}

// StreakResult 连击更新结果
type StreakResult struct {
	Advanced bool  `json:"advanced"`
	Count    int64 `json:"count"`
	Longest  int64 `json:"longest"`
}

// StreakRecord 连击记录
type StreakRecord struct {
	Count          int64  `json:"count"`
	Longest        int64  `json:"longest"`
	LastActiveDate string `json:"lastActiveDate"`
}

// Broadcaster 成就广播端（尽力而为）
type Broadcaster interface {
	PublishAchievement(userID int64, payload *protocol.AchievementPayload)
}

// Engine 统计引擎
// 把一次会话上报变成四类效果：连击（当日至多一次）、当日时长、
// 周榜分数、热力图计数；成就检查只在连击实际推进时执行
type Engine struct {
	rdb            *redis.Client
	lb             *leaderboard.Store
	broadcaster    Broadcaster
	pool           *workerpool.Pool
	allowLangs     map[string]struct{}
	dailyRetention time.Duration
	logger         *slog.Logger
}

func NewEngine(rdb *redis.Client, lb *leaderboard.Store, broadcaster Broadcaster, pool *workerpool.Pool, allowLangs []string, dailyRetention time.Duration, logger *slog.Logger) *Engine {
	allow := make(map[string]struct{}, len(allowLangs))
	for _, l := range allowLangs {
		allow[strings.ToLower(l)] = struct{}{}
	}

	return &Engine{
		rdb:            rdb,
		lb:             lb,
		broadcaster:    broadcaster,
		pool:           pool,
		allowLangs:     allow,
		dailyRetention: dailyRetention,
		logger:         logger,
	}
}

// RecordSession 处理一次会话上报
// 连击/当日/周榜失败向上传播；热力图与成就是旁路副作用，
// 失败只记日志，绝不影响上报方的成功应答
func (e *Engine) RecordSession(ctx context.Context, report *Report) (*StreakResult, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	streak, err := e.updateStreak(ctx, report.UserID, now)
	if err != nil {
		return nil, err
	}

	if report.DurationSeconds > 0 {
		if err := e.accumulateDaily(ctx, report.UserID, now, report.DurationSeconds); err != nil {
			return nil, err
		}
		if err := e.lb.IncrScore(ctx, leaderboard.MetricCodingTime, report.UserID, report.DurationSeconds); err != nil {
			return nil, err
		}
	}

	// 旁路副作用：热力图 + 成就
	userID := report.UserID
	language := report.Language
	e.pool.Submit(func() {
		e.bumpHeatmap(userID, language, now)
	})
	if streak.Advanced {
		count := streak.Count
		e.pool.Submit(func() {
			e.checkAchievements(userID, count)
		})
	}

	return streak, nil
}

// RecordCommits 累加提交数榜单
func (e *Engine) RecordCommits(ctx context.Context, userID int64, count int64) error {
	if userID <= 0 || count <= 0 || count > 10000 {
		return apperrors.ErrInvalidParams
	}
	return e.lb.IncrScore(ctx, leaderboard.MetricCommits, userID, count)
}

// GetStreak 读取用户连击记录
func (e *Engine) GetStreak(ctx context.Context, userID int64) (*StreakRecord, error) {
	vals, err := e.rdb.HGetAll(ctx, streakKey(userID)).Result()
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	rec := &StreakRecord{LastActiveDate: vals["last_active_date"]}
	rec.Count, _ = strconv.ParseInt(vals["count"], 10, 64)
	rec.Longest, _ = strconv.ParseInt(vals["longest"], 10, 64)
	return rec, nil
}

// GetDailySeconds 读取用户某日累计秒数
func (e *Engine) GetDailySeconds(ctx context.Context, userID int64, day time.Time) (int64, error) {
	val, err := e.rdb.Get(ctx, dailyKey(userID, day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.ErrStoreError.Wrap(err)
	}
	return strconv.ParseInt(val, 10, 64)
}

func (e *Engine) updateStreak(ctx context.Context, userID int64, now time.Time) (*StreakResult, error) {
	today := DayKey(now)
	yesterday := DayKey(now.AddDate(0, 0, -1))
	ttlSeconds := int64(streakTTLDays * 24 * time.Hour / time.Second)

	res, err := streakScript.Run(ctx, e.rdb,
		[]string{streakKey(userID)},
		today, yesterday, ttlSeconds,
	).Int64Slice()
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}
	if len(res) != 3 {
		return nil, apperrors.ErrStoreError
	}

	return &StreakResult{
		Advanced: res[0] == 1,
		Count:    res[1],
		Longest:  res[2],
	}, nil
}

func (e *Engine) accumulateDaily(ctx context.Context, userID int64, now time.Time, seconds int64) error {
	key := dailyKey(userID, now)

	pipe := e.rdb.Pipeline()
	pipe.IncrBy(ctx, key, seconds)
	pipe.Expire(ctx, key, e.dailyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}
	return nil
}

// bumpHeatmap 刷新"现在有多少人在写代码"热力图计数
func (e *Engine) bumpHeatmap(userID int64, language string, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	minute := now.Format("200601021504")

	pipe := e.rdb.Pipeline()
	pipe.Incr(ctx, fmt.Sprintf("radar:heatmap:minute:%s", minute))
	pipe.Expire(ctx, fmt.Sprintf("radar:heatmap:minute:%s", minute), heatmapTTL)

	if language != "" {
		lang := e.BucketLanguage(language)
		langKey := fmt.Sprintf("radar:heatmap:lang:%s:%s", lang, minute)
		pipe.Incr(ctx, langKey)
		pipe.Expire(ctx, langKey, heatmapTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Warn("Heatmap update failed",
			"user_id", userID,
			"error", err)
	}
}

// BucketLanguage 允许列表之外的语言归并为 other，约束键空间
func (e *Engine) BucketLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return otherLanguage
	}
	if _, ok := e.allowLangs[lang]; ok {
		return lang
	}
	return otherLanguage
}

// checkAchievements 连击推进后检查里程碑
// 从高到低取第一个达到的档位；SETNX 保证同一 user+档位幂等
func (e *Engine) checkAchievements(userID int64, count int64) {
	milestone := PickMilestone(count)
	if milestone == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	kind := fmt.Sprintf("streak_%d", milestone)
	granted, err := e.rdb.SetNX(ctx, achievementKey(userID, kind), DayKey(time.Now().UTC()), 0).Result()
	if err != nil {
		e.logger.Warn("Achievement grant failed",
			"user_id", userID,
			"kind", kind,
			"error", err)
		return
	}
	if !granted {
		return
	}

	e.logger.Info("Achievement granted",
		"user_id", userID,
		"kind", kind,
		"streak", count)

	e.broadcaster.PublishAchievement(userID, &protocol.AchievementPayload{
		UserID: userID,
		Kind:   kind,
		Streak: count,
	})
}

// PickMilestone 返回 count 达到的最高档位，未达任何档位返回 0
func PickMilestone(count int64) int64 {
	for _, m := range milestones {
		if count >= m {
			return m
		}
	}
	return 0
}

// DayKey UTC 日历日 Key
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func streakKey(userID int64) string {
	return fmt.Sprintf("radar:streak:%d", userID)
}

func dailyKey(userID int64, t time.Time) string {
	return fmt.Sprintf("radar:daily:%d:%s", userID, DayKey(t))
}

func achievementKey(userID int64, kind string) string {
	return fmt.Sprintf("radar:achv:%d:%s", userID, kind)
}
