package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/roadmapflow/queue"
	"github.com/BaSui01/roadmapflow/tasks"
)

// =============================================================================
// 🏥 存活、就绪与负载
// =============================================================================

// 就绪状态
const (
	ReadyStatusReady       = "ready"
	ReadyStatusDegraded    = "degraded"
	ReadyStatusUnavailable = "unavailable"
)

// Dependency 就绪检查依赖的后端（任务存储、检查点存储、Redis、数据库）
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
	// Optional 失败只降级，不摘除流量
	Optional bool
}

// WorkloadReporter 提供队列深度与未结束任务统计
type WorkloadReporter interface {
	Workload(ctx context.Context) (*tasks.Workload, error)
}

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// DependencyStatus 单个依赖的检查结果
type DependencyStatus struct {
	Status    string `json:"status"` // pass / fail
	Optional  bool   `json:"optional,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Readiness /readyz 响应
type Readiness struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Worker       *queue.WorkerState          `json:"worker,omitempty"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// Liveness /healthz 响应
type Liveness struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusReport /api/v1/status 响应
type StatusReport struct {
	Workload      *tasks.Workload    `json:"workload"`
	Worker        *queue.WorkerState `json:"worker,omitempty"`
	Build         BuildInfo          `json:"build"`
	UptimeSeconds int64              `json:"uptime_seconds"`
}

// HealthHandler 服务存活、就绪与负载视图
type HealthHandler struct {
	deps     []Dependency
	workload WorkloadReporter
	worker   func() queue.WorkerState
	build    BuildInfo
	timeout  time.Duration
	started  time.Time
	logger   *zap.Logger
}

// HealthOption configures a HealthHandler.
type HealthOption func(*HealthHandler)

// WithDependency adds a backend to the readiness check.
func WithDependency(dep Dependency) HealthOption {
	return func(h *HealthHandler) { h.deps = append(h.deps, dep) }
}

// WithWorkload enables the workload view.
func WithWorkload(r WorkloadReporter) HealthOption {
	return func(h *HealthHandler) { h.workload = r }
}

// WithWorker reports an in-process worker; readiness fails while it is stopped.
func WithWorker(state func() queue.WorkerState) HealthOption {
	return func(h *HealthHandler) { h.worker = state }
}

// WithBuildInfo sets the reported build.
func WithBuildInfo(b BuildInfo) HealthOption {
	return func(h *HealthHandler) { h.build = b }
}

// WithCheckTimeout bounds each dependency ping.
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHealthHandler creates the handler.
func NewHealthHandler(logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthHandler{
		timeout: 2 * time.Second,
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleLive)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion)
	mux.HandleFunc("GET /api/v1/status", h.HandleStatus)
}

// HandleLive 进程存活即返回 200，不访问任何后端
// @Summary 存活检查
// @Tags 健康
// @Produce json
// @Success 200 {object} Liveness
// @Router /healthz [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, Liveness{
		Status:        "alive",
		Version:       h.build.Version,
		UptimeSeconds: h.uptime(),
	})
}

// HandleReady 并发检查全部依赖。必需依赖失败或内嵌 worker 已停止时返回 503，
// 仅可选依赖失败时返回 200 与 degraded。
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} Readiness
// @Failure 503 {object} Readiness
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())
	status := http.StatusOK
	if report.Status == ReadyStatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

// Check runs every dependency ping and folds the results into a readiness report.
func (h *HealthHandler) Check(ctx context.Context) *Readiness {
	results := make([]DependencyStatus, len(h.deps))

	var g errgroup.Group
	for i, dep := range h.deps {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := dep.Ping(pctx)
			res := DependencyStatus{
				Status:    "pass",
				Optional:  dep.Optional,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
				h.logger.Warn("dependency check failed",
					zap.String("dependency", dep.Name),
					zap.Bool("optional", dep.Optional),
					zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := &Readiness{
		Status:       ReadyStatusReady,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
		Timestamp:    time.Now().UTC(),
	}
	for i, dep := range h.deps {
		res := results[i]
		report.Dependencies[dep.Name] = res
		if res.Status == "pass" {
			continue
		}
		if dep.Optional {
			if report.Status == ReadyStatusReady {
				report.Status = ReadyStatusDegraded
			}
			continue
		}
		report.Status = ReadyStatusUnavailable
	}

	if h.worker != nil {
		state := h.worker()
		report.Worker = &state
		if !state.Running {
			report.Status = ReadyStatusUnavailable
		}
	}
	return report
}

// HandleStatus 队列深度、挂起待审核任务数与 worker 状态
// @Summary 负载视图
// @Tags 健康
// @Produce json
// @Success 200 {object} Response{data=StatusReport}
// @Failure 503 {object} Response
// @Router /api/v1/status [get]
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.workload == nil {
		WriteErrorMessage(w, r, http.StatusNotFound, "STATUS_DISABLED", "workload view is not enabled", h.logger)
		return
	}
	workload, err := h.workload.Workload(r.Context())
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	report := StatusReport{
		Workload:      workload,
		Build:         h.build,
		UptimeSeconds: h.uptime(),
	}
	if h.worker != nil {
		state := h.worker()
		report.Worker = &state
	}
	WriteSuccess(w, r, report)
}

// HandleVersion 构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} Response{data=BuildInfo}
// @Router /version [get]
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.build)
}

func (h *HealthHandler) uptime() int64 {
	return int64(time.Since(h.started).Seconds())
}
