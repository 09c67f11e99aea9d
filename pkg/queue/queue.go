// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// TaskType 定义任务类型
const (
	TaskTypePlanIngest = "plan:ingest"
	TaskTypeTakeoffRun = "takeoff:run"
)

// Queue names and their weights.
var Queues = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

var (
	ErrAlreadyQueued = errors.New("task with the same id is already queued or running")
	ErrTaskNotFound  = errors.New("task not found")
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	MaxRetry  int               `json:"maxRetry"`
	Timeout   time.Duration     `json:"timeout"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// IngestPayload 摄取任务载荷
type IngestPayload struct {
	PlanID string `json:"planId"`
}

// IngestTaskID is the task id for a plan; one ingestion per plan can be
// queued or running at a time.
func IngestTaskID(planID string) string {
	return "ingest:" + planID
}

func NewIngestTask(planID string) (*Task, error) {
	payload, err := json.Marshal(IngestPayload{PlanID: planID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:        IngestTaskID(planID),
		Type:      TaskTypePlanIngest,
		Priority:  1,
		Timeout:   time.Hour,
		Payload:   payload,
		Metadata:  map[string]string{"planId": planID},
		CreatedAt: time.Now(),
	}, nil
}

// NewTakeoffTask wraps an orchestrator request.
func NewTakeoffTask(runID, planID string, request interface{}) (*Task, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:        "takeoff:" + runID,
		Type:      TaskTypeTakeoffRun,
		Priority:  2,
		Timeout:   2 * time.Hour,
		Payload:   payload,
		Metadata:  map[string]string{"planId": planID, "runId": runID},
		CreatedAt: time.Now(),
	}, nil
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Type       string    `json:"type,omitempty"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    taskClient
	inspector taskInspector
	redis     *redis.Client
	statusTTL time.Duration
	logger    logger.Logger
}

// GetQueue 获取队列实例
func GetQueue(log logger.Logger) (*AsynqQueue, error) {
	return NewAsynqQueue(config.GetRedisConfig(), log)
}

// RedisOpt is shared by the queue client and the worker server.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *config.RedisConfig, log logger.Logger) (*AsynqQueue, error) {
	redisOpt := RedisOpt(cfg)

	// 创建 Redis 客户端
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		statusTTL: 24 * time.Hour,
		logger:    log.Named("queue"),
	}, nil
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	// 序列化整个任务
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	// 设置任务选项
	queueName := queueFor(task.Priority)
	opts := []asynq.Option{
		asynq.MaxRetry(task.MaxRetry),
		asynq.Timeout(timeout),
		asynq.TaskID(task.ID),
		asynq.Queue(queueName),
	}

	t := asynq.NewTask(task.Type, payload)
	info, err := q.client.EnqueueContext(ctx, t, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		// 已归档或已完成的任务仍占用 id, 释放后重新入队
		released, relErr := q.release(queueName, task.ID)
		if relErr != nil {
			return relErr
		}
		if !released {
			return fmt.Errorf("%w: %s", ErrAlreadyQueued, task.ID)
		}
		q.logger.Info("Released finished task id", logger.String("taskId", task.ID))
		info, err = q.client.EnqueueContext(ctx, t, opts...)
	}
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", ErrAlreadyQueued, task.ID)
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	if q.redis != nil {
		// 清除上一次运行的最终状态
		if err := q.redis.Del(ctx, statusKey(info.ID)).Err(); err != nil {
			q.logger.Warn("Failed to clear previous task status", logger.String("taskId", info.ID), logger.Error(err))
		}
	}

	task.ID = info.ID
	q.logger.Info("Task enqueued",
		logger.String("taskId", info.ID),
		logger.String("type", task.Type),
		logger.String("queue", info.Queue),
	)
	return nil
}

// release deletes an archived or completed task so its id can be reused.
// It reports false while the task is still pending, scheduled, active or
// retrying.
func (q *AsynqQueue) release(queueName, taskID string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(queueName, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}

	if err := q.inspector.DeleteTask(queueName, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("failed to delete finished task %s: %w", taskID, err)
	}
	return true, nil
}

// 根据优先级选择队列
func queueFor(priority int) string {
	switch priority {
	case 1:
		return "critical"
	case 2:
		return "default"
	default:
		return "low"
	}
}

// GetTaskStatus 获取任务状态
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	// 首先尝试从 Redis 获取最终状态
	data, err := q.redis.Get(ctx, statusKey(taskID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	if err == nil {
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	// 从所有队列中查找
	for name := range Queues {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// CancelTask 取消任务
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	var lastErr error
	for name := range Queues {
		err := q.inspector.DeleteTask(name, taskID)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to cancel task: %w", lastErr)
}

// SaveFinalStatus 保存最终任务状态
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, statusKey(status.TaskID), data, q.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	q.inspector.Close()
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}

func statusKey(taskID string) string {
	return fmt.Sprintf("task_status:%s", taskID)
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		Type:      info.Type,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateAggregating:
		status.Status = "pending"
	case asynq.TaskStateActive:
		status.Status = "running"
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = "completed"
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry:
		status.Status = "retrying"
		status.Error = info.LastErr
	case asynq.TaskStateArchived:
		status.Status = "failed"
		status.Error = info.LastErr
	}
	return status
}
