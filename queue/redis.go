package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPollTimeout BLMOVE 单次阻塞时长。go-redis 默认不把 ctx 截止时间
// 传给连接，阻塞过长会拖慢关闭。
const DefaultPollTimeout = time.Second

// DefaultLeaseTTL 消费者租约时长，心跳间隔为其三分之一
const DefaultLeaseTTL = 30 * time.Second

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithLeaseTTL sets how long a silent consumer keeps its in-flight jobs.
func WithLeaseTTL(ttl time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		if ttl > 0 {
			q.leaseTTL = ttl
		}
	}
}

// WithConsumerID overrides the generated consumer id.
func WithConsumerID(id string) RedisQueueOption {
	return func(q *RedisQueue) {
		if id != "" {
			q.consumer = id
		}
	}
}

// RedisQueue 可靠队列。所有消费者共享 {prefix}pending，每个消费者有自己的
// {prefix}processing:{id} 列表与 {prefix}lease:{id} 租约；
// 只有租约过期的消费者遗留的作业才会被 Recover 放回 pending。
type RedisQueue struct {
	client      redis.UniversalClient
	prefix      string
	pending     string
	processing  string
	lease       string
	consumers   string
	consumer    string
	pollTimeout time.Duration
	leaseTTL    time.Duration
	closed      atomic.Bool

	registerOnce sync.Once
	registerErr  error
	stop         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
}

// NewRedisQueue creates a Redis backed queue.
func NewRedisQueue(client redis.UniversalClient, prefix string, pollTimeout time.Duration, opts ...RedisQueueOption) *RedisQueue {
	if prefix == "" {
		prefix = "roadmapflow:queue:"
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	q := &RedisQueue{
		client:      client,
		prefix:      prefix,
		pending:     prefix + "pending",
		consumers:   prefix + "consumers",
		consumer:    uuid.NewString(),
		pollTimeout: pollTimeout,
		leaseTTL:    DefaultLeaseTTL,
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.processing = q.processingKey(q.consumer)
	q.lease = q.leaseKey(q.consumer)
	return q
}

func (q *RedisQueue) processingKey(consumer string) string {
	return q.prefix + "processing:" + consumer
}

func (q *RedisQueue) leaseKey(consumer string) string {
	return q.prefix + "lease:" + consumer
}

// ConsumerID returns the id of this consumer.
func (q *RedisQueue) ConsumerID() string { return q.consumer }

// =============================================================================
// 💓 消费者租约
// =============================================================================

// register 写入租约并启动心跳，只执行一次
func (q *RedisQueue) register(ctx context.Context) error {
	q.registerOnce.Do(func() {
		if q.registerErr = q.heartbeat(ctx); q.registerErr != nil {
			close(q.stopped)
			return
		}
		go q.keepAlive()
	})
	return q.registerErr
}

// heartbeat 先续租约再登记，保证登记可见时租约已存在
func (q *RedisQueue) heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.lease, time.Now().UTC().Format(time.RFC3339Nano), q.leaseTTL)
		pipe.SAdd(ctx, q.consumers, q.consumer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh consumer lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) keepAlive() {
	defer close(q.stopped)

	ticker := time.NewTicker(q.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), q.leaseTTL/3)
			_ = q.heartbeat(ctx)
			cancel()
		}
	}
}

// =============================================================================
// 📬 Queue 实现
// =============================================================================

// Enqueue LPUSHes the encoded job.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	job.prepare()
	raw, err := job.encode()
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.LPush(ctx, q.pending, raw).Err()
}

// Dequeue atomically moves the oldest job into this consumer's processing list.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.register(ctx); err != nil {
		return nil, err
	}
	for {
		if q.closed.Load() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		job, err := decodeJob(raw)
		if err != nil {
			// 无法解析的载荷直接丢弃，避免反复阻塞队列
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			return nil, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Ack removes the job from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	raw := job.raw
	if raw == "" {
		var err error
		if raw, err = job.encode(); err != nil {
			return err
		}
	}
	return q.client.LRem(ctx, q.processing, 1, raw).Err()
}

// Recover requeues this consumer's leftover jobs plus the jobs of every
// consumer whose lease has expired. Jobs of live consumers stay put.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrQueueClosed
	}
	if err := q.register(ctx); err != nil {
		return 0, err
	}

	moved, err := q.requeue(ctx, q.processing)
	if err != nil {
		return moved, err
	}

	members, err := q.client.SMembers(ctx, q.consumers).Result()
	if err != nil {
		return moved, err
	}
	for _, id := range members {
		if id == q.consumer {
			continue
		}
		alive, err := q.client.Exists(ctx, q.leaseKey(id)).Result()
		if err != nil {
			return moved, err
		}
		if alive > 0 {
			continue
		}
		n, err := q.requeue(ctx, q.processingKey(id))
		moved += n
		if err != nil {
			return moved, err
		}
		// 消费者若只是暂时失联，下一次心跳会重新登记
		if err := q.client.SRem(ctx, q.consumers, id).Err(); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// requeue pushes every job of list back to pending with Attempt incremented.
func (q *RedisQueue) requeue(ctx context.Context, list string) (int, error) {
	moved := 0
	for {
		raw, err := q.client.RPop(ctx, list).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		job, err := decodeJob(raw)
		if err != nil {
			continue
		}
		job.Attempt++
		encoded, err := job.encode()
		if err != nil {
			continue
		}
		if err := q.client.RPush(ctx, q.pending, encoded).Err(); err != nil {
			return moved, err
		}
		moved++
	}
}

// Len returns LLEN of the pending list.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pending).Result()
	return int(n), err
}

// InFlight returns LLEN of this consumer's processing list.
func (q *RedisQueue) InFlight(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.processing).Result()
	return int(n), err
}

// Close stops the heartbeat. A consumer with no in-flight jobs deregisters;
// otherwise its lease expires and another consumer recovers the jobs.
// The shared client stays open.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		q.registerOnce.Do(func() { close(q.stopped) })
		close(q.stop)
		<-q.stopped

		ctx, cancel := context.WithTimeout(context.Background(), q.leaseTTL/3)
		defer cancel()
		if n, err := q.client.LLen(ctx, q.processing).Result(); err == nil && n == 0 {
			_, _ = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, q.lease)
				pipe.SRem(ctx, q.consumers, q.consumer)
				return nil
			})
		}
	})
	return nil
}

var _ Queue = (*RedisQueue)(nil)
