package client

import (
	"math"
	"math/rand"
	"time"
)

// Backoff 指数退避策略
// 基础延迟按倍数增长并封顶，再叠加 ±Jitter 比例的随机抖动，
// 避免大量客户端同步重连
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // 抖动比例，0.25 表示 ±25%
}

// DefaultBackoff 默认退避策略
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// Delay 计算第 attempt 次重连（0 起始）的延迟
func (b Backoff) Delay(attempt int) time.Duration {
	base := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if base > float64(b.Max) {
		base = float64(b.Max)
	}

	if b.Jitter > 0 {
		// [-Jitter, +Jitter] 区间内均匀抖动
		offset := (rand.Float64()*2 - 1) * b.Jitter
		base *= 1 + offset
	}

	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
