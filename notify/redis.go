package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier 通过 Redis Pub/Sub 发布事件，频道为 {prefix}{task_id}
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisNotifier 创建 Redis Notifier
func NewRedisNotifier(client redis.UniversalClient, prefix string, logger *zap.Logger) Notifier {
	return notifier{sink: newRedisSink(client, prefix, logger)}
}

func newRedisSink(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "roadmapflow:events:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger.With(zap.String("component", "redis_notifier"))}
}

func (n *RedisNotifier) publish(ctx context.Context, e Event) {
	if err := n.client.Publish(ctx, n.prefix+e.TaskID, e.Marshal()).Err(); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("task_id", e.TaskID),
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}

// Relay 订阅所有任务频道并转发到本地 Broadcaster，直到 ctx 结束。
// API 进程用它把 worker 进程发布的事件推给 WebSocket 客户端。
func Relay(ctx context.Context, client redis.UniversalClient, prefix string, b *Broadcaster, logger *zap.Logger) error {
	if prefix == "" {
		prefix = "roadmapflow:events:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "event_relay"))

	pubsub := client.PSubscribe(ctx, prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.Warn("dropping undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if e.TaskID == "" {
				e.TaskID = strings.TrimPrefix(msg.Channel, prefix)
			}
			b.Broadcast(e)
		}
	}
}
