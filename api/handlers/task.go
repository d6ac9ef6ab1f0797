package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/api"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/tasks"
	"github.com/BaSui01/roadmapflow/types"
)

// =============================================================================
// 📋 Task Handler
// =============================================================================

// maxListLimit 单次列表查询上限
const maxListLimit = 200

// TaskService 任务处理器依赖的业务接口
type TaskService interface {
	Submit(ctx context.Context, req types.UserRequest) (*persistence.Task, error)
	Approve(ctx context.Context, taskID string, d tasks.Decision) error
	Cancel(ctx context.Context, taskID string) (*persistence.Task, error)
	Resume(ctx context.Context, taskID string) (*persistence.Task, error)
	Status(ctx context.Context, taskID string) (*tasks.View, error)
	List(ctx context.Context, filter persistence.TaskFilter) ([]*persistence.Task, error)
}

// TaskHandler 任务提交、查询、审核与取消
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		service: service,
		logger:  logger.With(zap.String("component", "task_handler")),
	}
}

// Register 注册任务路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/approve", h.HandleApprove)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("POST /api/v1/tasks/{id}/resume", h.HandleResume)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleSubmit 提交路线图生成任务
// @Summary 提交任务
// @Description 创建任务并放入执行队列
// @Tags task
// @Accept json
// @Produce json
// @Param request body api.SubmitTaskRequest true "生成请求"
// @Success 202 {object} Response{data=api.SubmitTaskResponse} "已受理"
// @Failure 400 {object} Response "请求无效"
// @Failure 503 {object} Response "队列不可用"
// @Router /api/v1/tasks [post]
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitTaskRequest
	if !DecodeJSON(w, r, &req, h.logger) {
		return
	}

	userReq := req.ToUserRequest()
	if userReq.UserID == "" {
		if uid, ok := types.UserID(r.Context()); ok {
			userReq.UserID = uid
		}
	}

	task, err := h.service.Submit(r.Context(), userReq)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	WriteAccepted(w, r, api.SubmitTaskResponse{
		TaskID:     task.TaskID,
		Status:     task.Status,
		QueueJobID: task.QueueJobID,
		CreatedAt:  task.CreatedAt,
	})
}

// HandleGet 查询任务状态
// @Summary 任务状态
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=tasks.View} "任务状态"
// @Failure 404 {object} Response "任务不存在"
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, view)
}

// HandleList 列出任务
// @Summary 任务列表
// @Tags task
// @Produce json
// @Param user_id query string false "按用户过滤"
// @Param status query string false "按状态过滤，逗号分隔"
// @Param limit query int false "返回条数"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response{data=api.TaskListResponse} "任务列表"
// @Router /api/v1/tasks [get]
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	if list == nil {
		list = []*persistence.Task{}
	}

	WriteSuccess(w, r, api.TaskListResponse{
		Tasks:  list,
		Count:  len(list),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleApprove 记录人工审核决策并恢复工作流
// @Summary 审核任务
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body api.ApproveTaskRequest true "审核决策"
// @Success 202 {object} Response{data=api.ApproveTaskResponse} "已恢复"
// @Failure 404 {object} Response "任务不存在"
// @Failure 409 {object} Response "任务不在待审核状态"
// @Security BearerAuth
// @Router /api/v1/tasks/{id}/approve [post]
func (h *TaskHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.ApproveTaskRequest
	if !DecodeJSON(w, r, &req, h.logger) {
		return
	}

	taskID := r.PathValue("id")
	if !req.Approved && strings.TrimSpace(req.Feedback) == "" {
		WriteError(w, r, types.NewInvalidRequestError("feedback is required when rejecting"), h.logger)
		return
	}

	if err := h.service.Approve(r.Context(), taskID, tasks.Decision{
		Approved: req.Approved,
		Feedback: req.Feedback,
	}); err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	WriteAccepted(w, r, api.ApproveTaskResponse{
		TaskID:   taskID,
		Approved: req.Approved,
		Resumed:  true,
	})
}

// HandleCancel 取消任务
// @Summary 取消任务
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=persistence.Task} "已取消"
// @Failure 409 {object} Response "任务已结束"
// @Router /api/v1/tasks/{id}/cancel [post]
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, task)
}

// HandleResume 重新排队失败的任务，从最新检查点继续
// @Summary 恢复失败任务
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 202 {object} Response{data=persistence.Task} "已重新排队"
// @Failure 404 {object} Response "任务不存在"
// @Failure 409 {object} Response "任务未失败或编辑次数已耗尽"
// @Security BearerAuth
// @Router /api/v1/tasks/{id}/resume [post]
func (h *TaskHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteAccepted(w, r, task)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func parseTaskFilter(r *http.Request) (persistence.TaskFilter, error) {
	q := r.URL.Query()
	filter := persistence.TaskFilter{UserID: q.Get("user_id")}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := persistence.TaskStatus(strings.TrimSpace(s))
			if !status.IsValid() {
				return filter, types.NewInvalidRequestError("unknown status: " + string(status))
			}
			filter.Status = append(filter.Status, status)
		}
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	if filter.Limit == 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return filter, nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewInvalidRequestError(name + " must be a non-negative integer")
	}
	return n, nil
}
