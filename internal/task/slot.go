package task

import "sync"

// Slot 时间轮槽位
type Slot struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewSlot() *Slot {
	return &Slot{
		tasks: make(map[string]*Task),
	}
}

// Add 添加任务到槽位，同 ID 任务覆盖
func (s *Slot) Add(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = task
}

// Remove 从槽位删除任务
func (s *Slot) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; exists {
		delete(s.tasks, taskID)
		return true
	}
	return false
}

// DrainDue 获取所有任务并清空槽位
func (s *Slot) DrainDue() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) == 0 {
		return nil
	}

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*Task)

	return tasks
}

// Count 槽位任务数量
func (s *Slot) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tasks)
}
