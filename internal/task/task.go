package task

import (
	"context"
	"time"
)

// Func 任务执行函数类型
type Func func(ctx context.Context, userID int64) error

// Task 延迟任务
// 网关用它调度掉线宽限期：宽限期内重连则按 ID 取消
type Task struct {
	ID        string // 任务唯一ID（同一用户的宽限任务 ID 固定，便于取消）
	UserID    int64  // 关联用户
	Delay     int    // 延迟秒数 (1-59)
	Fn        Func
	CreatedAt time.Time
}

// New 创建延迟任务
func New(id string, userID int64, delay int, fn Func) *Task {
	return &Task{
		ID:        id,
		UserID:    userID,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.UserID)
}
