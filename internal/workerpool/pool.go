package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

// Task 定义任务函数类型
type Task func()

// Pool 推送与旁路副作用共用的 Worker Pool
// 投递失败只影响单条任务，panic 在 worker 内兜底
type Pool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New 创建 Worker Pool
// workers: worker 数量, queueSize: 任务队列大小
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		"workers", workers,
		"queue_size", queueSize)

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("Task panic recovered",
							"worker_id", id,
							"panic", r)
					}
				}()
				task()
			}()
		}
	}
}

// Submit 提交任务，队列满时阻塞直到有空位或池已关闭
func (p *Pool) Submit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	}
}

// TrySubmit 尝试提交任务，队列满了立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Queued 当前积压任务数（健康检查用）
func (p *Pool) Queued() int {
	return len(p.taskQueue)
}

// Shutdown 优雅关闭，等待在执行的任务完成
func (p *Pool) Shutdown() {
	p.cancel()
	close(p.taskQueue)
	p.wg.Wait()
	p.logger.Info("Worker pool shutdown completed")
}
