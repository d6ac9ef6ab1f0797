// Package notify 发布任务进度与失败事件。
//
// 所有 Notifier 都是 fire-and-forget：发布失败只记录日志，工作流核心不消费返回值。
package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventProgress EventType = "progress"
	EventFailed   EventType = "failed"
)

// Event 任务事件
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Step      string    `json:"step"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal encodes e as JSON.
func (e Event) Marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Notifier 通知契约
type Notifier interface {
	PublishProgress(ctx context.Context, taskID, step, status string)
	PublishFailed(ctx context.Context, taskID, step string, err error)
}

// sink 按事件发布的后端
type sink interface {
	publish(ctx context.Context, e Event)
}

// notifier 把 sink 适配成 Notifier
type notifier struct {
	sink sink
}

func (n notifier) PublishProgress(ctx context.Context, taskID, step, status string) {
	n.sink.publish(ctx, Event{Type: EventProgress, TaskID: taskID, Step: step, Status: status, Timestamp: time.Now()})
}

func (n notifier) PublishFailed(ctx context.Context, taskID, step string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	n.sink.publish(ctx, Event{Type: EventFailed, TaskID: taskID, Step: step, Status: "failed", Error: msg, Timestamp: time.Now()})
}

// Multi 依次通知多个 Notifier
func Multi(notifiers ...Notifier) Notifier {
	filtered := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

type multi []Notifier

func (m multi) PublishProgress(ctx context.Context, taskID, step, status string) {
	for _, n := range m {
		n.PublishProgress(ctx, taskID, step, status)
	}
}

func (m multi) PublishFailed(ctx context.Context, taskID, step string, err error) {
	for _, n := range m {
		n.PublishFailed(ctx, taskID, step, err)
	}
}

// NewLogNotifier 只写日志的 Notifier
func NewLogNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return notifier{sink: logSink{logger: logger.With(zap.String("component", "notify"))}}
}

type logSink struct {
	logger *zap.Logger
}

func (s logSink) publish(ctx context.Context, e Event) {
	fields := []zap.Field{
		zap.String("task_id", e.TaskID),
		zap.String("step", e.Step),
		zap.String("status", e.Status),
	}
	if e.Type == EventFailed {
		s.logger.Warn("task failed", append(fields, zap.String("error", e.Error))...)
		return
	}
	s.logger.Debug("task progress", fields...)
}

// Nop 丢弃所有事件
func Nop() Notifier { return multi(nil) }
