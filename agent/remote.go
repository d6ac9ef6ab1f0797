package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/internal/tlsutil"
	"github.com/BaSui01/roadmapflow/types"
)

// RemoteConfig 远程 Agent 服务配置
type RemoteConfig struct {
	// BaseURL Agent 服务地址，例如 http://agents:9000
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIToken 以 Bearer 方式发送
	APIToken string `yaml:"api_token" env:"API_TOKEN"`
	// Timeout 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RequestsPerSecond 客户端侧限速，0 表示不限速
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// Burst 限速突发量
	Burst int `yaml:"burst" env:"BURST"`
	// MaxConnsPerHost 保持的空闲连接数，通常等于内容生成并发度
	MaxConnsPerHost int `yaml:"-" env:"-"`
}

// RemoteClient 通过 HTTP JSON 调用 Agent 服务：POST {base}/v1/agents/{name}
type RemoteClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// RemoteOption 定制 RemoteClient
type RemoteOption func(*RemoteClient)

// WithMetrics 记录每次调用的结果与耗时
func WithMetrics(m *metrics.Collector) RemoteOption {
	return func(c *RemoteClient) { c.metrics = m }
}

// NewRemoteClient 创建远程 Agent 客户端
func NewRemoteClient(cfg RemoteConfig, logger *zap.Logger, opts ...RemoteOption) *RemoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &RemoteClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		httpClient: tlsutil.SecureHTTPClient(timeout, cfg.MaxConnsPerHost),
		limiter:    limiter,
		logger:     logger.With(zap.String("component", "remote_agent")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func callStatus(code int) string {
	switch {
	case code < 300:
		return "success"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "error"
	}
}

// remoteError 服务端错误响应
type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// call 发送一次请求。状态码映射：429 → RATE_LIMITED（可重试），5xx → UPSTREAM_ERROR（可重试），其它 4xx 不可重试。
func (c *RemoteClient) call(ctx context.Context, name string, input, output any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal %s input: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agents/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAgentCall(name, "unreachable", time.Since(start))
		return types.NewError(types.ErrUpstreamError, "agent "+name+" unreachable").
			WithCause(err).WithRetryable(true).WithAgent(name)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "read agent response").
			WithCause(err).WithRetryable(true).WithAgent(name)
	}

	elapsed := time.Since(start)
	c.metrics.RecordAgentCall(name, callStatus(resp.StatusCode), elapsed)
	c.logger.Debug("agent call finished",
		zap.String("agent", name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)

	if resp.StatusCode >= 300 {
		var re remoteError
		_ = json.Unmarshal(data, &re)
		msg := re.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewRateLimitError(msg).WithAgent(name)
		case resp.StatusCode >= 500:
			return types.NewError(types.ErrUpstreamError, msg).
				WithHTTPStatus(resp.StatusCode).WithRetryable(true).WithAgent(name)
		default:
			return types.NewError(types.ErrAgentFailed, msg).
				WithHTTPStatus(resp.StatusCode).WithAgent(name)
		}
	}

	if err := json.Unmarshal(data, output); err != nil {
		return types.NewError(types.ErrAgentFailed, "decode agent response").WithCause(err).WithAgent(name)
	}
	return nil
}

// remote 把一个远程端点包装成 Agent
func remote[I, O any](c *RemoteClient, name string) Agent[I, *O] {
	return Func[I, *O](func(ctx context.Context, input I) (*O, error) {
		out := new(O)
		if err := c.call(ctx, name, input, out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Agent endpoint names
const (
	NameIntentAnalyzer      = "intent_analyzer"
	NameCurriculumDesigner  = "curriculum_designer"
	NameStructureValidator  = "structure_validator"
	NameRoadmapEditor       = "roadmap_editor"
	NameTutorialGenerator   = "tutorial_generator"
	NameResourceRecommender = "resource_recommender"
	NameQuizGenerator       = "quiz_generator"
)

// SetOptions 控制 NewRemoteSet 的装饰器
type SetOptions struct {
	Retry RetryPolicy
	// Idempotency 为 nil 时不缓存
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
}

// NewRemoteSet 构造全部远程 Agent，并依次套上幂等与重试装饰器
func NewRemoteSet(c *RemoteClient, opts SetOptions, logger *zap.Logger) Set {
	return Set{
		Intent:    decorate(NameIntentAnalyzer, remote[types.UserRequest, types.IntentAnalysis](c, NameIntentAnalyzer), opts, logger),
		Designer:  decorate(NameCurriculumDesigner, remote[DesignInput, types.RoadmapFramework](c, NameCurriculumDesigner), opts, logger),
		Validator: decorate(NameStructureValidator, remote[ValidateInput, types.ValidationResult](c, NameStructureValidator), opts, logger),
		Editor:    decorate(NameRoadmapEditor, remote[EditInput, types.RoadmapFramework](c, NameRoadmapEditor), opts, logger),
		Tutorial:  decorate(NameTutorialGenerator, remote[ConceptInput, types.Tutorial](c, NameTutorialGenerator), opts, logger),
		Resources: decorate(NameResourceRecommender, remote[ResourceInput, types.ResourceList](c, NameResourceRecommender), opts, logger),
		Quiz:      decorate(NameQuizGenerator, remote[ConceptInput, types.Quiz](c, NameQuizGenerator), opts, logger),
	}
}

func decorate[I, O any](name string, a Agent[I, O], opts SetOptions, logger *zap.Logger) Agent[I, O] {
	wrapped := WithRetry(name, a, opts.Retry, logger)
	if opts.Idempotency != nil {
		wrapped = WithIdempotency(name, wrapped, opts.Idempotency, opts.IdempotencyTTL, logger)
	}
	return wrapped
}
