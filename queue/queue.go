package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// Kind 作业类型
type Kind string

const (
	// KindRun 启动新任务（已有检查点时自动恢复）
	KindRun Kind = "run"
	// KindResume 审核决策写入后继续执行
	KindResume Kind = "resume"
)

// Job 队列作业
type Job struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Kind       Kind      `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempt 被 Recover 重新投递的次数
	Attempt int `json:"attempt"`

	// raw 出队时的原始载荷，RedisQueue 用它 Ack
	raw string
}

// NewJob creates a job with a fresh id.
func NewJob(taskID string, kind Kind) *Job {
	return &Job{ID: uuid.NewString(), TaskID: taskID, Kind: kind}
}

func (j *Job) prepare() {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
}

func (j *Job) encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, err
	}
	j.raw = raw
	return &j, nil
}

// Queue 可靠作业队列
type Queue interface {
	// Enqueue appends a job; ID and EnqueuedAt are filled when empty
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue blocks until a job is available or ctx is done
	Dequeue(ctx context.Context) (*Job, error)

	// Ack removes a finished job from the in-flight set
	Ack(ctx context.Context, job *Job) error

	// Recover moves abandoned in-flight jobs back to pending and returns how many moved.
	// Call it before consuming: the caller's own in-flight jobs count as abandoned.
	Recover(ctx context.Context) (int, error)

	// Len returns the number of pending jobs
	Len(ctx context.Context) (int, error)

	Close() error
}
