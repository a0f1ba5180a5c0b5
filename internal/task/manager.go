// Package task 在后台运行入库任务，并提供状态查询与取消。
package task

import (
	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/ingest"
	"FrameFinder/pkg/progress"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound 表示任务ID不存在。
	ErrTaskNotFound = errors.New("找不到任务")
	// ErrTaskRunning 表示已有入库任务在运行。
	ErrTaskRunning = errors.New("另一个入库任务正在进行中")
)

// TaskStatus 定义了任务可能的状态。
type TaskStatus string

const (
	StatusPending             TaskStatus = "pending"
	StatusRunning             TaskStatus = "running"
	StatusCompleted           TaskStatus = "completed"
	StatusCompletedWithErrors TaskStatus = "completed_with_errors"
	StatusCancelled           TaskStatus = "cancelled"
	StatusFailed              TaskStatus = "failed"
)

// Finished 判断任务是否已经结束。
func (s TaskStatus) Finished() bool {
	return s != StatusPending && s != StatusRunning
}

// Task 结构体代表一个具体的后台任务。
type Task struct {
	ID        string         `json:"id"`
	Status    TaskStatus     `json:"status"`
	Stage     progress.Stage `json:"stage,omitempty"`
	Progress  float64        `json:"progress"`
	Messages  []string       `json:"messages,omitempty"`
	Error     string         `json:"error,omitempty"`
	Report    *ingest.Report `json:"report,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`

	add    []models.Video
	remove []models.Video
	cancel context.CancelFunc
	done   chan struct{}
}

// snapshot 返回可以安全交给调用方的副本，调用方需持有读锁。
func (t *Task) snapshot() *Task {
	return &Task{
		ID:        t.ID,
		Status:    t.Status,
		Stage:     t.Stage,
		Progress:  t.Progress,
		Messages:  append([]string(nil), t.Messages...),
		Error:     t.Error,
		Report:    t.Report,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
	}
}

// Manager 结构体是任务管理器。
type Manager struct {
	tasks map[string]*Task
	mu    sync.RWMutex

	pipeline ingest.Pipeline
	ctx      context.Context
}

// NewManager 创建并返回一个新的任务管理器实例。ctx 取消时所有任务随之取消。
func NewManager(ctx context.Context, p ingest.Pipeline) *Manager {
	return &Manager{
		tasks:    make(map[string]*Task),
		pipeline: p,
		ctx:      ctx,
	}
}

// StartIngestTask 创建一个新的入库任务，并立即在后台启动它。同一时间只允许一个入库任务。
func (m *Manager) StartIngestTask(add, remove []models.Video) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if !t.Status.Finished() {
			return "", fmt.Errorf("%w (ID: %s)，请等待其完成后再试", ErrTaskRunning, t.ID)
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	newTask := &Task{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		StartTime: time.Now(),
		add:       add,
		remove:    remove,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.tasks[newTask.ID] = newTask

	go m.runIngest(ctx, newTask)

	return newTask.ID, nil
}

// GetTaskStatus 根据任务ID检索特定任务的当前状态。
func (m *Manager) GetTaskStatus(taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.tasks[taskID]
	if !exists {
		return nil, apperr.Wrap(ErrTaskNotFound, apperr.KindNotFound, "task.GetTaskStatus", taskID)
	}
	return t.snapshot(), nil
}

// Cancel 请求取消任务。正在处理的帧会完成，之后不再开始新的工作。
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	t, exists := m.tasks[taskID]
	m.mu.RUnlock()
	if !exists {
		return apperr.Wrap(ErrTaskNotFound, apperr.KindNotFound, "task.Cancel", taskID)
	}
	t.cancel()
	return nil
}

// Wait 阻塞直到任务结束或 ctx 取消，返回任务的最终状态。
func (m *Manager) Wait(ctx context.Context, taskID string) (*Task, error) {
	m.mu.RLock()
	t, exists := m.tasks[taskID]
	m.mu.RUnlock()
	if !exists {
		return nil, apperr.Wrap(ErrTaskNotFound, apperr.KindNotFound, "task.Wait", taskID)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.GetTaskStatus(taskID)
}

// ListTasks 返回所有任务，按开始时间排序。
func (m *Manager) ListTasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *Manager) runIngest(ctx context.Context, t *Task) {
	defer close(t.done)
	defer t.cancel()

	m.mu.Lock()
	t.Status = StatusRunning
	m.mu.Unlock()
	slog.Info("任务启动", "task", t.ID, "add", len(t.add), "remove", len(t.remove))

	rep := m.pipeline.Run(ctx, t.add, t.remove, func(e progress.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.Stage = e.Stage
		if e.Percent > t.Progress {
			t.Progress = e.Percent
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	t.Report = rep
	t.Messages = append(t.Messages, rep.Messages...)
	if rep.Err != nil {
		t.Error = rep.Err.Error()
	}
	switch rep.Outcome {
	case ingest.OutcomeCompleted:
		t.Status = StatusCompleted
	case ingest.OutcomeCompletedWithErrors:
		t.Status = StatusCompletedWithErrors
	case ingest.OutcomeCancelled:
		t.Status = StatusCancelled
	default:
		t.Status = StatusFailed
	}
	if t.Status == StatusCompleted || t.Status == StatusCompletedWithErrors {
		t.Progress = 100
	}
	endTime := time.Now()
	t.EndTime = &endTime
	slog.Info("任务结束", "task", t.ID, "status", t.Status, "failed", rep.Failed())
}
