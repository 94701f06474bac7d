package task

import (
	"fmt"
	"sync"
)

const (
	// SlotCount 时间轮槽位数量（60 秒，秒级粒度）
	SlotCount = 60
)

// TimeWheel 秒级时间轮
// 按任务 ID 记录落槽位置，取消不依赖当前指针
type TimeWheel struct {
	slots       [SlotCount]*Slot
	index       map[string]int
	currentSlot int
	mu          sync.Mutex
}

func NewTimeWheel() *TimeWheel {
	tw := &TimeWheel{
		index: make(map[string]int),
	}
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// Add 添加任务到时间轮
// 延迟超出轮长直接拒绝，静默截断会悄悄缩短宽限期
func (tw *TimeWheel) Add(task *Task) error {
	if task.Delay < 1 || task.Delay >= SlotCount {
		return fmt.Errorf("task delay %d out of range [1, %d]", task.Delay, SlotCount-1)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	// 同 ID 任务覆盖：先从旧槽位摘除
	if prev, ok := tw.index[task.ID]; ok {
		tw.slots[prev].Remove(task.ID)
	}

	target := (tw.currentSlot + task.Delay) % SlotCount
	tw.slots[target].Add(task)
	tw.index[task.ID] = target
	return nil
}

// Remove 按任务 ID 删除未到期任务
func (tw *TimeWheel) Remove(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	slot, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[slot].Remove(taskID)
}

// Tick 推进一格，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	tasks := tw.slots[tw.currentSlot].DrainDue()
	for _, t := range tasks {
		delete(tw.index, t.ID)
	}
	return tasks
}

// CurrentSlot 当前槽位索引
func (tw *TimeWheel) CurrentSlot() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	return tw.currentSlot
}

// TotalTaskCount 所有槽位任务总数
func (tw *TimeWheel) TotalTaskCount() int {
	total := 0
	for i := 0; i < SlotCount; i++ {
		total += tw.slots[i].Count()
	}
	return total
}
