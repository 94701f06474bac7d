package client

import (
	"sync"
	"time"
)

// QueuedFrame 离线期间积压的出站帧
type QueuedFrame struct {
	Data       []byte
	EnqueuedAt time.Time
}

// Queue 有界离线队列
// 超龄条目在入队与取出时都会被丢弃，队列满时淘汰最旧条目
type Queue struct {
	mu     sync.Mutex
	items  []QueuedFrame
	max    int
	maxAge time.Duration
	now    func() time.Time
}

// NewQueue 创建离线队列
func NewQueue(max int, maxAge time.Duration) *Queue {
	return &Queue{
		max:    max,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Push 追加一帧，必要时先淘汰超龄与最旧条目
func (q *Queue) Push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	if len(q.items) >= q.max {
		// 淘汰最旧：积压时新状态比旧状态更有价值
		q.items = q.items[1:]
	}
	q.items = append(q.items, QueuedFrame{Data: data, EnqueuedAt: q.now()})
}

// Drain 按入队顺序取出全部未超龄条目并清空队列
func (q *Queue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	out := make([][]byte, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Data)
	}
	q.items = nil
	return out
}

// Len 当前积压条目数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear 清空队列
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *Queue) pruneLocked() {
	if q.maxAge <= 0 {
		return
	}
	cutoff := q.now().Add(-q.maxAge)
	kept := q.items[:0]
	for _, item := range q.items {
		if item.EnqueuedAt.After(cutoff) {
			kept = append(kept, item)
		}
	}
	q.items = kept
}
