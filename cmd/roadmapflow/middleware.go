package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/roadmapflow/api/handlers"
	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/types"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件，记录 panic 现场的调用栈
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					goerr := goerrors.Wrap(rec, 2)
					logger.Error("panic recovered",
						zap.String("error", goerr.Error()),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", goerr.Stack()))
					writeJSONError(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewStatusRecorder(w)
			next.ServeHTTP(rw, r)

			traceID, _ := types.TraceID(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.Status()),
				zap.Int64("bytes", rw.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", traceID),
			)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID 并写入 context 作为 trace id。
// 客户端已带的 ID 原样保留。
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithTraceID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 通用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// =============================================================================
// MetricsMiddleware
// =============================================================================

// metricsResponseWriter 记录状态码与响应体大小
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Hijack WebSocket 升级需要接管底层连接
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	w.wroteHeader = true
	w.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// MetricsMiddleware 记录 HTTP 请求指标。路径里的任务 ID 归一为 :id，避免标签基数膨胀。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(mrw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), mrw.statusCode,
				time.Since(start), requestSize, mrw.bytesWritten)
		})
	}
}

// idSegmentPattern 匹配 UUID、十六进制串、ULID 与纯数字
var idSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9A-HJKMNP-TV-Z]{26}$|^[0-9]+$`,
)

// normalizePath 把动态路径段替换为 :id。
//
//	/api/v1/tasks/4f0c...e1/events -> /api/v1/tasks/:id/events
//	/api/v1/tasks                  -> /api/v1/tasks
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/ready", "/readyz", "/version", "/metrics", "/api/v1/tasks", "/api/v1/status":
		return path
	}

	segments := strings.Split(path, "/")
	// /api/v1/tasks/{id}/... 的第 4 段总是任务 ID
	if len(segments) > 4 && segments[1] == "api" && segments[3] == "tasks" && segments[4] != "" {
		segments[4] = ":id"
		return strings.Join(segments, "/")
	}

	normalized := false
	for i, seg := range segments {
		if seg != "" && idSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// OTelTracing
// =============================================================================

// OTelTracing 为每个请求创建 server span，并从请求头提取上游 trace 上下文
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := otel.Tracer("roadmapflow/http").Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewStatusRecorder(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.Status()))
		})
	}
}

// =============================================================================
// RateLimiter（可热更新）
// =============================================================================

// RateLimiter 基于客户端 IP 的令牌桶限流。空闲 3 分钟的访客自动过期。
type RateLimiter struct {
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
	visitors *ttlcache.Cache[string, *rate.Limiter]
	logger   *zap.Logger
}

// NewRateLimiter 创建限流器；rps<=0 表示不限流。调用 Stop 释放后台清理 goroutine。
func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	visitors := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](3 * time.Minute),
	)
	go visitors.Start()
	return &RateLimiter{
		limit:    toLimit(rps),
		burst:    burst,
		visitors: visitors,
		logger:   logger,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Update 调整限流参数，已有访客的令牌桶同步生效
func (l *RateLimiter) Update(rps float64, burst int) {
	l.mu.Lock()
	l.limit = toLimit(rps)
	l.burst = burst
	l.mu.Unlock()

	for _, item := range l.visitors.Items() {
		lim := item.Value()
		lim.SetLimit(toLimit(rps))
		lim.SetBurst(burst)
	}
	l.logger.Info("rate limit updated", zap.Float64("rps", rps), zap.Int("burst", burst))
}

// Stop 停止过期清理
func (l *RateLimiter) Stop() {
	l.visitors.Stop()
}

// Allow 消耗 key 的一个令牌
func (l *RateLimiter) Allow(key string) bool {
	l.mu.RLock()
	limit, burst := l.limit, l.burst
	l.mu.RUnlock()
	if limit == rate.Inf {
		return true
	}

	var lim *rate.Limiter
	if item := l.visitors.Get(key); item != nil {
		lim = item.Value()
	} else {
		lim = rate.NewLimiter(limit, burst)
		l.visitors.Set(key, lim, ttlcache.DefaultTTL)
	}
	return lim.Allow()
}

// Middleware 返回限流中间件
func (l *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.Allow(ip) {
				writeJSONError(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// ReviewerAuth
// =============================================================================

// ReviewerAuth 为审核与恢复接口识别操作人。
// 配置了 JWT 密钥时，审核与恢复请求必须携带 HS256 Bearer token，sub 即操作人；
// 未配置时（开发环境）取 X-Reviewer 请求头。其余接口上的合法 token 同样写入 context。
func ReviewerAuth(cfg config.AuthConfig, logger *zap.Logger) Middleware {
	secret := []byte(cfg.JWTSecret)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required := r.Method == http.MethodPost &&
				(strings.HasSuffix(r.URL.Path, "/approve") || strings.HasSuffix(r.URL.Path, "/resume"))

			if len(secret) == 0 {
				if reviewer := strings.TrimSpace(r.Header.Get("X-Reviewer")); reviewer != "" {
					r = r.WithContext(types.WithReviewer(r.Context(), reviewer))
				}
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				if required {
					writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "missing or malformed Authorization header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			var claims jwt.RegisteredClaims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), &claims, keyFunc, parserOpts...)
			if err != nil || !token.Valid || claims.Subject == "" {
				logger.Debug("reviewer token rejected", zap.Error(err))
				writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or expired token")
				return
			}

			ctx := types.WithUserID(r.Context(), claims.Subject)
			ctx = types.WithReviewer(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeJSONError 以 API 统一格式写出错误
func writeJSONError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, code, message)
}
