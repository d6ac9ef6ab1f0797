// Package pool provides a bounded goroutine pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool 限制同时运行的 goroutine 数量。
// 调用方先 Acquire 一个槽位，再在槽位上启动任务，
// 因此生产者可以在拿到槽位之后才去拉取下一份工作。
type GoroutinePool struct {
	slots  chan struct{}
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	active atomic.Int32

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	panicHandler func(any)
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int       `json:"max_workers"`
	PanicHandler func(any) `json:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{MaxWorkers: 4}
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	return &GoroutinePool{
		slots:        make(chan struct{}, config.MaxWorkers),
		closed:       make(chan struct{}),
		panicHandler: config.PanicHandler,
	}
}

// Slot 已占用的执行槽位。Go 与 Release 只能调用其一，且只能调用一次。
type Slot struct {
	pool *GoroutinePool
	used atomic.Bool
}

// Acquire blocks until a slot is free, ctx is done or the pool is closed.
func (p *GoroutinePool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, ctx.Err()
	}

	// Close 与 Acquire 竞争时以 Close 为准
	select {
	case <-p.closed:
		<-p.slots
		return nil, ErrPoolClosed
	default:
	}
	p.wg.Add(1)
	return &Slot{pool: p}, nil
}

// TryAcquire returns ErrPoolFull instead of blocking.
func (p *GoroutinePool) TryAcquire() (*Slot, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case p.slots <- struct{}{}:
		p.wg.Add(1)
		return &Slot{pool: p}, nil
	default:
		p.rejected.Add(1)
		return nil, ErrPoolFull
	}
}

// Go runs task on the slot's goroutine and frees the slot when it returns.
func (s *Slot) Go(ctx context.Context, task Task) {
	if !s.used.CompareAndSwap(false, true) {
		return
	}
	p := s.pool
	p.submitted.Add(1)
	go func() {
		defer p.release()
		p.active.Add(1)
		err := p.executeTask(ctx, task)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()
}

// Release frees the slot without running anything.
func (s *Slot) Release() {
	if s.used.CompareAndSwap(false, true) {
		s.pool.release()
	}
}

func (p *GoroutinePool) release() {
	<-p.slots
	p.wg.Done()
}

// Submit acquires a slot and runs task on it.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	slot.Go(ctx, task)
	return nil
}

func (p *GoroutinePool) executeTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = errors.New("task panicked")
		}
	}()

	return task(ctx)
}

// Close stops accepting work and waits for running tasks to finish.
func (p *GoroutinePool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}

// Wait blocks until running tasks finish or ctx is done.
func (p *GoroutinePool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Capacity:  cap(p.slots),
		Active:    int(p.active.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Capacity  int   `json:"capacity"`
	Active    int   `json:"active"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
