package agent

import (
	"context"
	"time"

	"github.com/BaSui01/roadmapflow/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries      int           `yaml:"max_retries" env:"MAX_RETRIES"`           // 最大重试次数（0 表示不重试）
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"` // 初始延迟时间
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`         // 最大延迟时间
	Multiplier      float64       `yaml:"multiplier" env:"MULTIPLIER"`             // 指数退避倍增因子
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// IsRateLimitClass 只有限流、超时与上游瞬时错误会被重试。
func IsRateLimitClass(err error) bool {
	if types.IsRetryable(err) {
		return true
	}
	switch types.GetErrorCode(err) {
	case types.ErrRateLimited, types.ErrTimeout, types.ErrUpstreamError:
		return true
	}
	return false
}

// WithRetry 为 Agent 增加指数退避重试；重试耗尽后返回最后一次错误，核心视其为本次调用的最终结果。
func WithRetry[I, O any](name string, a Agent[I, O], policy RetryPolicy, logger *zap.Logger) Agent[I, O] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "agent_retry"), zap.String("agent", name))

	return Func[I, O](func(ctx context.Context, input I) (O, error) {
		attempt := 0
		op := func() (O, error) {
			attempt++
			out, err := a.Execute(ctx, input)
			if err != nil && !IsRateLimitClass(err) {
				return out, backoff.Permanent(err)
			}
			return out, err
		}
		notify := func(err error, delay time.Duration) {
			logger.Debug("retrying agent call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}

		out, err := backoff.RetryNotifyWithData(op, policy.newBackOff(ctx), notify)
		if err != nil {
			logger.Warn("agent call failed",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
		}
		return out, err
	})
}
