// MockAgent 的通用 Agent 测试模拟实现。
//
// 支持固定输出、按调用序号编排输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"
)

// MockAgent 是 agent.Agent[I, O] 的模拟实现
type MockAgent[I, O any] struct {
	mu sync.Mutex

	output O
	err    error
	fn     func(ctx context.Context, call int, input I) (O, error)
	delay  time.Duration
	inputs []I
	onCall func(call int)
}

// NewMockAgent 创建返回零值输出的 MockAgent
func NewMockAgent[I, O any]() *MockAgent[I, O] {
	return &MockAgent[I, O]{}
}

// WithOutput 设置固定输出
func (m *MockAgent[I, O]) WithOutput(out O) *MockAgent[I, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = out
	return m
}

// WithError 设置返回错误
func (m *MockAgent[I, O]) WithError(err error) *MockAgent[I, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFunc 设置自定义行为，call 从 1 开始
func (m *MockAgent[I, O]) WithFunc(fn func(ctx context.Context, call int, input I) (O, error)) *MockAgent[I, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// WithDelay 设置模拟延迟，ctx 取消时提前返回
func (m *MockAgent[I, O]) WithDelay(d time.Duration) *MockAgent[I, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// OnCall 注册调用钩子，在返回前执行
func (m *MockAgent[I, O]) OnCall(hook func(call int)) *MockAgent[I, O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall = hook
	return m
}

// Execute implements agent.Agent.
func (m *MockAgent[I, O]) Execute(ctx context.Context, input I) (O, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	call := len(m.inputs)
	output, err, fn, delay, hook := m.output, m.err, m.fn, m.delay, m.onCall
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero O
			return zero, ctx.Err()
		}
	}
	if hook != nil {
		hook(call)
	}
	if fn != nil {
		return fn(ctx, call, input)
	}
	return output, err
}

// CallCount 返回调用次数
func (m *MockAgent[I, O]) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Inputs 返回全部调用输入的副本
func (m *MockAgent[I, O]) Inputs() []I {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]I(nil), m.inputs...)
}

// LastInput 返回最近一次输入
func (m *MockAgent[I, O]) LastInput() (I, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		var zero I
		return zero, false
	}
	return m.inputs[len(m.inputs)-1], true
}
