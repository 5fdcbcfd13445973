// Package handler 提供 HTTP 请求处理器
package handler

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"letter-stream-engine/internal/application/generation"
	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/internal/interfaces/http/dto"
	"letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/metrics"
)

const defaultHeartbeat = 15 * time.Second

// GenerationHandler 生成会话处理器，向 UI 以 SSE 推送快照与终止通知
type GenerationHandler struct {
	manager   *generation.Manager
	records   repository.SessionRecordRepository
	heartbeat time.Duration
}

// NewGenerationHandler 创建生成会话处理器；records 为空时不提供会话历史
func NewGenerationHandler(manager *generation.Manager, records repository.SessionRecordRepository) *GenerationHandler {
	return &GenerationHandler{
		manager:   manager,
		records:   records,
		heartbeat: defaultHeartbeat,
	}
}

// relay 合并快照：UI 只需要最新的累积文本，慢消费者不会阻塞会话
type relay struct {
	mu     sync.Mutex
	latest *entity.Snapshot
	term   *entity.Terminal
	notify chan struct{}
}

func newRelay() *relay {
	return &relay{notify: make(chan struct{}, 1)}
}

func (r *relay) OnSnapshot(snap entity.Snapshot) {
	r.mu.Lock()
	if r.latest != nil && !r.latest.Final {
		metrics.StreamFramesTotal.WithLabelValues("ui", "coalesced").Inc()
	}
	r.latest = &snap
	r.mu.Unlock()
	r.signal()
}

func (r *relay) OnTerminal(term entity.Terminal) {
	r.mu.Lock()
	r.term = &term
	r.mu.Unlock()
	r.signal()
}

func (r *relay) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *relay) take() (*entity.Snapshot, *entity.Terminal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, term := r.latest, r.term
	r.latest = nil
	return snap, term
}

// Generate 启动生成
// @Summary 启动信件生成
// @Description 取消目标上的进行中会话并开始新会话，以 SSE 推送 snapshot/terminal 事件
// @Tags Generation
// @Accept json
// @Produce text/event-stream
// @Param tid path string true "目标文档 ID"
// @Param body body dto.GenerateRequest true "生成请求"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/targets/{tid}/generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	targetID := dto.BindTargetID(c)

	var body dto.GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	req, err := entity.NewGenerationRequest(targetID, body.TemplateID, body.Variables)
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	r := newRelay()
	s, err := h.manager.Start(c.Request.Context(), req, r)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	h.stream(c, s, r)
}

// Regenerate 以最近一次请求重新生成
// @Summary 重新生成
// @Tags Generation
// @Produce text/event-stream
// @Param tid path string true "目标文档 ID"
// @Success 200 "SSE stream"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/targets/{tid}/regenerate [post]
func (h *GenerationHandler) Regenerate(c *gin.Context) {
	r := newRelay()
	s, err := h.manager.Restart(c.Request.Context(), dto.BindTargetID(c), r)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	h.stream(c, s, r)
}

// stream 推送会话事件直到终止；客户端断开不取消会话
func (h *GenerationHandler) stream(c *gin.Context, s *generation.Session, r *relay) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("session", gin.H{
		"session_id": s.ID(),
		"target_id":  dto.BindTargetID(c),
	})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-r.notify:
			snap, term := r.take()
			if snap != nil {
				c.SSEvent("snapshot", dto.ToSnapshotEvent(*snap))
			}
			if term != nil {
				c.SSEvent("terminal", dto.ToTerminalEvent(*term))
				return false
			}
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().Unix()})
			return true
		case <-ctx.Done():
			logger.Info(ctx, "ui stream disconnected, session continues",
				"session_id", s.ID(), "target_id", dto.BindTargetID(c))
			return false
		}
	})
}

// Cancel 取消进行中的会话
// @Summary 取消生成
// @Tags Generation
// @Produce json
// @Param tid path string true "目标文档 ID"
// @Success 200 {object} dto.Response[map[string]bool]
// @Router /v1/targets/{tid}/generation [delete]
func (h *GenerationHandler) Cancel(c *gin.Context) {
	cancelled := h.manager.Cancel(c.Request.Context(), dto.BindTargetID(c))
	dto.Success(c, gin.H{"cancelled": cancelled})
}

// RetryPersist 重试保存
// @Summary 重试持久化
// @Description 对持久化失败的会话重新保存保留的文本，不重新生成
// @Tags Generation
// @Produce json
// @Param tid path string true "目标文档 ID"
// @Success 200 {object} dto.Response[entity.SessionStatus]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/targets/{tid}/persist [post]
func (h *GenerationHandler) RetryPersist(c *gin.Context) {
	status, err := h.manager.RetryPersist(c.Request.Context(), dto.BindTargetID(c))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, status)
}

// Bind 绑定已有文档
// @Summary 绑定后端文档
// @Tags Generation
// @Accept json
// @Produce json
// @Param tid path string true "目标文档 ID"
// @Param body body dto.BindingRequest true "文档 ID"
// @Success 204
// @Router /v1/targets/{tid}/binding [put]
func (h *GenerationHandler) Bind(c *gin.Context) {
	var body dto.BindingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.manager.Bind(c.Request.Context(), dto.BindTargetID(c), body.DocumentID); err != nil {
		dto.AppError(c, err)
		return
	}
	dto.NoContent(c)
}

// Unbind 解除文档绑定
// @Summary 解除后端文档绑定
// @Tags Generation
// @Param tid path string true "目标文档 ID"
// @Success 204
// @Router /v1/targets/{tid}/binding [delete]
func (h *GenerationHandler) Unbind(c *gin.Context) {
	if err := h.manager.Unbind(c.Request.Context(), dto.BindTargetID(c)); err != nil {
		dto.AppError(c, err)
		return
	}
	dto.NoContent(c)
}

// Status 获取最近一次会话状态
// @Summary 会话状态
// @Tags Generation
// @Produce json
// @Param tid path string true "目标文档 ID"
// @Success 200 {object} dto.Response[entity.SessionStatus]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/targets/{tid} [get]
func (h *GenerationHandler) Status(c *gin.Context) {
	status, ok := h.manager.Status(dto.BindTargetID(c))
	if !ok {
		dto.AppError(c, errors.ErrSessionNotFound)
		return
	}
	dto.Success(c, status)
}

// History 会话审计历史
// @Summary 会话历史
// @Tags Generation
// @Produce json
// @Param tid path string true "目标文档 ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.SessionHistoryResponse]
// @Router /v1/targets/{tid}/sessions [get]
func (h *GenerationHandler) History(c *gin.Context) {
	if h.records == nil {
		dto.ServiceUnavailable(c, "session audit disabled")
		return
	}
	ctx := c.Request.Context()
	targetID := dto.BindTargetID(c)
	page := dto.BindPage(c)

	result, err := h.records.ListByTarget(ctx, targetID, page)
	if err != nil {
		logger.Error(ctx, "failed to list session records", err)
		dto.InternalError(c, "failed to list session records")
		return
	}
	creates, err := h.records.CountCreates(ctx, targetID)
	if err != nil {
		logger.Error(ctx, "failed to count document creates", err)
		dto.InternalError(c, "failed to list session records")
		return
	}

	resp := dto.SessionHistoryResponse{
		Sessions:    make([]*dto.SessionRecordResponse, 0, len(result.Items)),
		CreateCount: creates,
	}
	for _, rec := range result.Items {
		resp.Sessions = append(resp.Sessions, dto.ToSessionRecordResponse(rec))
	}
	dto.SuccessWithPage(c, resp, dto.NewPageMeta(result))
}
