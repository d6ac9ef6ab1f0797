package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/roadmapflow/types"
)

// EventRecorder 记录流式阶段事件，可并发使用
type EventRecorder struct {
	mu     sync.Mutex
	events []types.StageEvent
}

// Emit 记录一条事件，可作为 types.StageEmitter 使用
func (r *EventRecorder) Emit(e types.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Context 返回挂载了该 Recorder 的上下文
func (r *EventRecorder) Context(ctx context.Context) context.Context {
	return types.WithStageEmitter(ctx, r.Emit)
}

// Events 返回已记录事件的副本
func (r *EventRecorder) Events() []types.StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.StageEvent(nil), r.events...)
}

// NotifierCall 单次通知调用
type NotifierCall struct {
	TaskID string
	Step   string
	Status string
	Err    error
}

// MockNotifier 记录 notify.Notifier 调用
type MockNotifier struct {
	mu       sync.Mutex
	progress []NotifierCall
	failed   []NotifierCall
}

// PublishProgress implements notify.Notifier.
func (n *MockNotifier) PublishProgress(_ context.Context, taskID, step, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, NotifierCall{TaskID: taskID, Step: step, Status: status})
}

// PublishFailed implements notify.Notifier.
func (n *MockNotifier) PublishFailed(_ context.Context, taskID, step string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, NotifierCall{TaskID: taskID, Step: step, Err: err})
}

// Progress 返回进度通知副本
func (n *MockNotifier) Progress() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifierCall(nil), n.progress...)
}

// Failed 返回失败通知副本
func (n *MockNotifier) Failed() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifierCall(nil), n.failed...)
}
