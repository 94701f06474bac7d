package stats

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/senutpal/devradar/internal/leaderboard"
	"github.com/senutpal/devradar/internal/protocol"
	"github.com/senutpal/devradar/internal/workerpool"
)

type noopBroadcaster struct{}

func (noopBroadcaster) PublishAchievement(int64, *protocol.AchievementPayload) {}

// newTestEngine 基于进程内 Redis 的完整引擎，连击脚本真实执行
func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	lb := leaderboard.NewStore(rdb, time.Hour, slog.Default())
	pool := workerpool.New(1, 16, slog.Default())
	t.Cleanup(pool.Shutdown)

	return NewEngine(rdb, lb, noopBroadcaster{}, pool, []string{"go"}, time.Hour, slog.Default())
}

func TestUpdateStreak_OncePerDay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	first, err := e.updateStreak(ctx, 1, day)
	if err != nil {
		t.Fatalf("期望首报成功, 实际 = %v", err)
	}
	if !first.Advanced || first.Count != 1 || first.Longest != 1 {
		t.Fatalf("期望首报推进到 count=1, 实际 = %+v", first)
	}

	// 同日重复上报不推进，哪怕换个时刻
	for _, hour := range []int{11, 18, 23} {
		res, err := e.updateStreak(ctx, 1, day.Add(time.Duration(hour-10)*time.Hour))
		if err != nil {
			t.Fatalf("期望重复上报成功, 实际 = %v", err)
		}
		if res.Advanced {
			t.Errorf("期望同日不推进, 实际 = %+v", res)
		}
		if res.Count != 1 || res.Longest != 1 {
			t.Errorf("期望 count=1 longest=1, 实际 = %+v", res)
		}
	}
}

func TestUpdateStreak_ConsecutiveDays(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res, err := e.updateStreak(ctx, 1, day.AddDate(0, 0, i))
		if err != nil {
			t.Fatalf("第 %d 天上报失败: %v", i+1, err)
		}
		if !res.Advanced {
			t.Fatalf("期望第 %d 天推进", i+1)
		}
		if res.Count != int64(i+1) || res.Longest != int64(i+1) {
			t.Errorf("第 %d 天期望 count=longest=%d, 实际 = %+v", i+1, i+1, res)
		}
	}
}

func TestUpdateStreak_GapResets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	e.updateStreak(ctx, 1, day)
	e.updateStreak(ctx, 1, day.AddDate(0, 0, 1))

	// 漏一天，连击归一，最长记录保留
	res, err := e.updateStreak(ctx, 1, day.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("期望上报成功, 实际 = %v", err)
	}
	if !res.Advanced || res.Count != 1 {
		t.Errorf("期望断档后 count=1, 实际 = %+v", res)
	}
	if res.Longest != 2 {
		t.Errorf("期望 longest 保留 2, 实际 = %d", res.Longest)
	}

	rec, err := e.GetStreak(ctx, 1)
	if err != nil {
		t.Fatalf("读取连击失败: %v", err)
	}
	if rec.Count != 1 || rec.Longest != 2 {
		t.Errorf("期望存储 count=1 longest=2, 实际 = %+v", rec)
	}
}

func TestRecordSession_AccumulatesDailyAndWeekly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, secs := range []int64{30, 45} {
		res, err := e.RecordSession(ctx, &Report{
			UserID:          1,
			DurationSeconds: secs,
			Language:        "go",
		})
		if err != nil {
			t.Fatalf("上报失败: %v", err)
		}
		if res.Count != 1 || res.Longest != 1 {
			t.Errorf("期望连击 count=1 longest=1, 实际 = %+v", res)
		}
	}

	total, err := e.GetDailySeconds(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("读取当日秒数失败: %v", err)
	}
	if total != 75 {
		t.Errorf("期望当日累计 75 秒, 实际 = %d", total)
	}

	entry, err := e.lb.Rank(ctx, leaderboard.MetricCodingTime, 1)
	if err != nil {
		t.Fatalf("读取周榜失败: %v", err)
	}
	if entry.Score != 75 || entry.Rank != 1 {
		t.Errorf("期望周榜 score=75 rank=1, 实际 = %+v", entry)
	}
}
