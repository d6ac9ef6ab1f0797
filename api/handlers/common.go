package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/queue"
	"github.com/BaSui01/roadmapflow/types"
)

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Agent     string `json:"agent,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写入任意 JSON 值
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envelope(r *http.Request, data any, info *ErrorInfo) Response {
	resp := Response{
		Success:   info == nil,
		Data:      data,
		Error:     info,
		Timestamp: time.Now().UTC(),
	}
	if r != nil {
		resp.RequestID, _ = types.TraceID(r.Context())
	}
	return resp
}

// WriteSuccess 200 + 信封
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, envelope(r, data, nil))
}

// WriteAccepted 202 + 信封，用于已入队的异步操作
func WriteAccepted(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusAccepted, envelope(r, data, nil))
}

// =============================================================================
// ❌ 错误响应
// =============================================================================

// 错误码到 HTTP 状态码；未列出的按 500 处理
var errorStatus = map[types.ErrorCode]int{
	types.ErrInvalidRequest:      http.StatusBadRequest,
	types.ErrMissingInput:        http.StatusBadRequest,
	types.ErrUnauthorized:        http.StatusUnauthorized,
	types.ErrForbidden:           http.StatusForbidden,
	types.ErrTaskNotFound:        http.StatusNotFound,
	types.ErrCheckpointNotFound:  http.StatusNotFound,
	types.ErrInvalidState:        http.StatusConflict,
	types.ErrTaskCancelled:       http.StatusConflict,
	types.ErrEditBudgetExhausted: http.StatusConflict,
	types.ErrRateLimited:         http.StatusTooManyRequests,
	types.ErrUpstreamError:       http.StatusBadGateway,
	types.ErrAgentFailed:         http.StatusBadGateway,
	types.ErrStorageUnavailable:  http.StatusServiceUnavailable,
	types.ErrRoadmapIDExhausted:  http.StatusServiceUnavailable,
	types.ErrTimeout:             http.StatusGatewayTimeout,
}

func statusFor(e *types.Error) int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	if s, ok := errorStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// toAPIError 把存储层、队列与上下文错误归一为 types.Error
func toAPIError(err error) *types.Error {
	if apiErr, ok := types.AsError(err); ok {
		return apiErr
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.WrapError(err, types.ErrTaskNotFound, "task not found")
	case errors.Is(err, persistence.ErrTaskCancelled):
		return types.WrapError(err, types.ErrTaskCancelled, "task was cancelled")
	case errors.Is(err, persistence.ErrStatusConflict):
		return types.WrapError(err, types.ErrInvalidState, "task status changed concurrently").WithRetryable(true)
	case errors.Is(err, persistence.ErrInvalidInput):
		return types.WrapError(err, types.ErrInvalidRequest, "invalid input")
	case errors.Is(err, queue.ErrQueueClosed), errors.Is(err, persistence.ErrStoreClosed):
		return types.WrapError(err, types.ErrStorageUnavailable, "service is shutting down").WithRetryable(true)
	case errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(err, types.ErrTimeout, "request timed out").WithRetryable(true)
	default:
		return types.WrapError(err, types.ErrInternalError, "internal error")
	}
}

// WriteError 写入错误信封。5xx 按 Error 记录，4xx 只记 Debug。
func WriteError(w http.ResponseWriter, r *http.Request, e *types.Error, logger *zap.Logger) {
	status := statusFor(e)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(e.Code)),
			zap.Int("status", status),
			zap.Error(e.Cause),
		}
		if r != nil {
			fields = append(fields, zap.String("path", r.URL.Path))
			if id, ok := types.TraceID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error(e.Message, fields...)
		} else {
			logger.Debug(e.Message, fields...)
		}
	}

	WriteJSON(w, status, envelope(r, nil, &ErrorInfo{
		Code:      string(e.Code),
		Message:   e.Message,
		Agent:     e.Agent,
		Retryable: e.Retryable,
	}))
}

// WriteErrorMessage 以指定状态码写入简单错误
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// WriteServiceError 写入服务层返回的任意错误
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	WriteError(w, r, toAPIError(err), logger)
}

// =============================================================================
// 🛡️ 请求体
// =============================================================================

// maxBodyBytes 请求体上限 1 MB
const maxBodyBytes = 1 << 20

// DecodeJSON 校验 Content-Type 并严格解码单个 JSON 对象；失败时已写入错误响应
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json", logger)
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteErrorMessage(w, r, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
				"request body exceeds 1 MB", logger)
		case errors.Is(err, io.EOF):
			WriteError(w, r, types.NewInvalidRequestError("request body is empty"), logger)
		default:
			WriteError(w, r, types.WrapError(err, types.ErrInvalidRequest, "invalid JSON body"), logger)
		}
		return false
	}
	if dec.More() {
		WriteError(w, r, types.NewInvalidRequestError("request body must hold a single JSON object"), logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 状态码记录
// =============================================================================

// StatusRecorder 记录状态码与写出字节数，供访问日志与追踪中间件使用
type StatusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

// NewStatusRecorder wraps w.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

// Status returns the written status, 200 if the handler wrote a body only.
func (rw *StatusRecorder) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// BytesWritten returns the body size.
func (rw *StatusRecorder) BytesWritten() int64 { return rw.written }

// WriteHeader records the first status.
func (rw *StatusRecorder) WriteHeader(code int) {
	if rw.status != 0 {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *StatusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack 事件流的 WebSocket 升级需要接管底层连接
func (rw *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap 供 http.ResponseController 使用
func (rw *StatusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
