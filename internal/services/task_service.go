// internal/services/task_service.go
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskStatus 异步任务状态
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task 异步任务跟踪信息
type Task struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Status    TaskStatus  `json:"status"`
	Message   string      `json:"message,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TaskService 异步任务跟踪服务
// 长耗时操作（如AI生成）创建任务后立即返回任务ID，调用方轮询或订阅结果
type TaskService struct {
	tasks       map[string]*Task
	subscribers map[string][]chan *Task
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewTaskService 创建任务服务并启动过期清理
func NewTaskService(logger zerolog.Logger) *TaskService {
	ts := &TaskService{
		tasks:       make(map[string]*Task),
		subscribers: make(map[string][]chan *Task),
		logger:      logger.With().Str("component", "task_service").Logger(),
	}
	go ts.cleanupLoop()
	return ts
}

// CreateTask 创建新任务，初始状态为运行中
func (ts *TaskService) CreateTask(kind string) string {
	now := time.Now()
	task := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    TaskStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ts.mu.Lock()
	ts.tasks[task.ID] = task
	ts.mu.Unlock()

	return task.ID
}

// GetTask 查询任务状态
func (ts *TaskService) GetTask(id string) (*Task, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	task, exists := ts.tasks[id]
	return task, exists
}

// CompleteTask 标记任务完成并附带结果
func (ts *TaskService) CompleteTask(id string, result interface{}) {
	ts.update(id, func(task *Task) {
		task.Status = TaskStatusCompleted
		task.Result = result
	})
}

// FailTask 标记任务失败并附带原因
func (ts *TaskService) FailTask(id, message string) {
	ts.update(id, func(task *Task) {
		task.Status = TaskStatusFailed
		task.Message = message
	})
}

// Subscribe 订阅任务的状态更新
// 任务已是终态时立即收到一次通知后关闭
func (ts *TaskService) Subscribe(id string) <-chan *Task {
	ch := make(chan *Task, 4)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	task, exists := ts.tasks[id]
	if exists && task.Status != TaskStatusRunning {
		ch <- task
		close(ch)
		return ch
	}

	ts.subscribers[id] = append(ts.subscribers[id], ch)
	return ch
}

func (ts *TaskService) update(id string, fn func(*Task)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	task, exists := ts.tasks[id]
	if !exists {
		ts.logger.Warn().Str("task_id", id).Msg("更新不存在的任务")
		return
	}

	fn(task)
	task.UpdatedAt = time.Now()

	if task.Status != TaskStatusRunning {
		for _, ch := range ts.subscribers[id] {
			select {
			case ch <- task:
			default:
			}
			close(ch)
		}
		delete(ts.subscribers, id)
	}
}

// 定期清理已到终态超过1小时的任务
func (ts *TaskService) cleanupLoop() {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)

		ts.mu.Lock()
		for id, task := range ts.tasks {
			if task.Status != TaskStatusRunning && task.UpdatedAt.Before(cutoff) {
				delete(ts.tasks, id)
			}
		}
		ts.mu.Unlock()
	}
}
