package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/senutpal/devradar/internal/workerpool"
)

// Scheduler 延迟任务调度器
// 1 秒一跳推进时间轮，到期任务交给共享 worker pool 执行
type Scheduler struct {
	wheel     *TimeWheel
	pool      *workerpool.Pool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	running   bool
	runningMu sync.Mutex
}

func NewScheduler(pool *workerpool.Pool, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		wheel:  NewTimeWheel(),
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.runningMu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("Task scheduler started")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Scheduler) onTick() {
	tasks := s.wheel.Tick()
	if len(tasks) == 0 {
		return
	}

	for _, t := range tasks {
		t := t
		s.pool.Submit(func() {
			if err := t.Execute(s.ctx); err != nil {
				s.logger.Error("Scheduled task failed",
					"task_id", t.ID,
					"user_id", t.UserID,
					"error", err)
			}
		})
	}
}

// Schedule 调度延迟任务
func (s *Scheduler) Schedule(t *Task) error {
	return s.wheel.Add(t)
}

// Cancel 按任务 ID 取消未到期任务
func (s *Scheduler) Cancel(taskID string) bool {
	return s.wheel.Remove(taskID)
}

// Pending 未到期任务总数
func (s *Scheduler) Pending() int {
	return s.wheel.TotalTaskCount()
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("Task scheduler stopped")
}
