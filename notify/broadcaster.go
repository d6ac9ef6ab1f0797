package notify

import (
	"context"
	"sync"
)

// Subscriber 事件订阅通道
type Subscriber chan Event

// Broadcaster 进程内事件分发，按 task_id 订阅。
// 发送不阻塞：订阅者缓冲区满时丢弃该事件。
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]struct{}
	bufferSize  int
}

// NewBroadcaster 创建 Broadcaster
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		subscribers: make(map[string]map[Subscriber]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe 订阅 taskID 的事件；taskID 为空订阅全部任务
func (b *Broadcaster) Subscribe(taskID string) Subscriber {
	ch := make(Subscriber, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[taskID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (b *Broadcaster) Unsubscribe(taskID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[taskID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subscribers, taskID)
	}
	close(sub)
}

// SubscriberCount 返回 taskID 的订阅者数量
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}

// Broadcast 向 e.TaskID 与全局订阅者发送事件
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	send := func(subs map[Subscriber]struct{}) {
		for sub := range subs {
			select {
			case sub <- e:
			default:
			}
		}
	}
	send(b.subscribers[e.TaskID])
	if e.TaskID != "" {
		send(b.subscribers[""])
	}
}

func (b *Broadcaster) publish(ctx context.Context, e Event) { b.Broadcast(e) }

// Notifier 返回向本 Broadcaster 发布的 Notifier
func (b *Broadcaster) Notifier() Notifier {
	return notifier{sink: b}
}
