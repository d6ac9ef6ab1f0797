package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/tasks"
)

// =============================================================================
// 📡 任务事件流 Handler
// =============================================================================

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// TaskStatusReader 事件流需要的任务查询接口
type TaskStatusReader interface {
	Status(ctx context.Context, taskID string) (*tasks.View, error)
}

// StreamMessage 推送给客户端的消息：首条为任务快照，之后为事件
type StreamMessage struct {
	Type  string        `json:"type"` // "snapshot", "event"
	Task  *tasks.View   `json:"task,omitempty"`
	Event *notify.Event `json:"event,omitempty"`
}

// EventsHandler 通过 WebSocket 推送任务进度
type EventsHandler struct {
	tasks          TaskStatusReader
	broadcaster    *notify.Broadcaster
	pingInterval   time.Duration
	originPatterns []string
	logger         *zap.Logger
}

// EventsOption configures the EventsHandler
type EventsOption func(*EventsHandler)

// WithPingInterval 设置保活 ping 间隔
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginPatterns 允许的跨域来源
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) {
		h.originPatterns = patterns
	}
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(reader TaskStatusReader, b *notify.Broadcaster, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		tasks:        reader,
		broadcaster:  b,
		pingInterval: defaultPingInterval,
		logger:       logger.With(zap.String("component", "events_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 注册事件流路由
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tasks/{id}/events", h.HandleEvents)
}

// HandleEvents 升级为 WebSocket 并推送任务事件，任务结束后正常关闭
// @Summary 任务事件流
// @Tags task
// @Param id path string true "Task ID"
// @Success 101 {object} StreamMessage "WebSocket 消息"
// @Failure 404 {object} Response "任务不存在"
// @Router /api/v1/tasks/{id}/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	// 先订阅再读快照，避免遗漏中间事件
	sub := h.broadcaster.Subscribe(taskID)
	defer h.broadcaster.Unsubscribe(taskID, sub)

	view, err := h.tasks.Status(r.Context(), taskID)
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := h.logger.With(zap.String("task_id", taskID))
	log.Debug("event stream opened")

	if err := h.write(ctx, conn, StreamMessage{Type: "snapshot", Task: view}); err != nil {
		log.Debug("snapshot write failed", zap.Error(err))
		return
	}
	if view.Status.IsTerminal() {
		conn.Close(websocket.StatusNormalClosure, "task finished")
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by client")
			return
		case e, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, StreamMessage{Type: "event", Event: &e}); err != nil {
				log.Debug("event write failed", zap.Error(err))
				return
			}
			if finalEvent(e) {
				conn.Close(websocket.StatusNormalClosure, "task finished")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// finalEvent 任务进入终态后不会再有事件
func finalEvent(e notify.Event) bool {
	return e.Type == notify.EventFailed || persistence.TaskStatus(e.Status).IsTerminal()
}
