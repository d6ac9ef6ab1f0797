package workflow

import "sync"

// StateManager 记录每个任务正在执行的阶段。
// 检查点只在阶段之间写入，阶段执行中的查询以这里为准。
type StateManager struct {
	mu    sync.RWMutex
	steps map[string]Stage
}

// NewStateManager 创建 StateManager
func NewStateManager() *StateManager {
	return &StateManager{steps: make(map[string]Stage)}
}

// SetLiveStep 记录任务当前执行的阶段
func (m *StateManager) SetLiveStep(taskID string, step Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[taskID] = step
}

// LiveStep 返回任务当前执行的阶段
func (m *StateManager) LiveStep(taskID string) (Stage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	step, ok := m.steps[taskID]
	return step, ok
}

// ClearLiveStep 清除任务的实时阶段
func (m *StateManager) ClearLiveStep(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, taskID)
}

// Len 返回正在执行的任务数
func (m *StateManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}
