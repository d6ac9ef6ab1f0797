package types

import "context"

// StageEvent 阶段流式事件。Partial=true 表示阶段仍在产出，后续还有事件；
// Partial=false 为该阶段的最终事件。
type StageEvent struct {
	TaskID  string `json:"task_id"`
	Stage   string `json:"stage"`
	Partial bool   `json:"partial"`
	Data    any    `json:"data,omitempty"`
}

// StageEmitter 接收阶段事件的回调。内容生成阶段会从多个 goroutine 并发调用。
type StageEmitter func(StageEvent)

// stageEmitterKey is the context key for StageEmitter.
type stageEmitterKey struct{}

// WithStageEmitter stores a StageEmitter in the context.
func WithStageEmitter(ctx context.Context, emitter StageEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stageEmitterKey{}, emitter)
}

// EmitStageEvent delivers e to the emitter in ctx, if any.
func EmitStageEvent(ctx context.Context, e StageEvent) {
	if ctx == nil {
		return
	}
	if emit, ok := ctx.Value(stageEmitterKey{}).(StageEmitter); ok && emit != nil {
		emit(e)
	}
}
