package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/application/template"
	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/internal/infrastructure/stream"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/metrics"
)

var tracer = otel.Tracer("generation")

// ErrManagerClosed Manager 已关闭
var ErrManagerClosed = apperrors.New(apperrors.CodeServiceUnavailable, "generation manager closed")

const (
	defaultPersistTimeout = 30 * time.Second
	defaultRetainTTL      = 15 * time.Minute
	defaultRetainLimit    = 1024
)

// TemplateResolver 模板解析
type TemplateResolver interface {
	Resolve(ctx context.Context, id string) (entity.TemplateRecord, error)
}

// EventSink 发布信件持久化事件
type EventSink interface {
	PublishLetterPersisted(ctx context.Context, evt entity.LetterPersisted) error
}

// Options Manager 依赖与参数
type Options struct {
	Templates TemplateResolver
	Transport stream.Transport
	Documents repository.DocumentStore
	// Bindings 为空时使用进程内存储
	Bindings repository.BindingStore
	// Records 可选，终止会话写入审计表
	Records repository.SessionRecordRepository
	// Events 可选，持久化成功后发布事件
	Events EventSink

	MinChars       int
	PersistTimeout time.Duration
	// RetainTTL/RetainLimit 空闲目标（最近会话与请求）的保留时长与数量
	RetainTTL   time.Duration
	RetainLimit int

	Now   func() time.Time
	NewID func() string
}

// target 单个目标文档的会话状态
type target struct {
	// refs 持有该目标的调用与会话协程数，受 Manager.mu 保护
	refs int

	mu      sync.Mutex
	current *Session
	lastReq *entity.GenerationRequest

	// persistMu 串行化同一目标的持久化，documentID 受其保护
	persistMu  sync.Mutex
	documentID string
}

// Manager 生成会话管理器
//
// 每个目标同时至多一个非终止会话；新会话启动前取消旧会话。
// 同一目标的持久化串行执行：未绑定时 create 并绑定返回的 ID，之后一律 update。
type Manager struct {
	templates TemplateResolver
	transport stream.Transport
	documents repository.DocumentStore
	bindings  repository.BindingStore
	records   repository.SessionRecordRepository
	events    EventSink

	minChars       int
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string

	mu      sync.Mutex
	targets map[string]*target
	// recent 空闲目标，过期或超出上限后丢弃，绑定关系仍在 BindingStore
	recent *expirable.LRU[string, *target]
	closed bool
	wg     sync.WaitGroup
}

// NewManager 创建会话管理器
func NewManager(opts Options) (*Manager, error) {
	if opts.Templates == nil || opts.Transport == nil || opts.Documents == nil {
		return nil, fmt.Errorf("generation manager requires templates, transport and documents")
	}
	m := &Manager{
		templates:      opts.Templates,
		transport:      opts.Transport,
		documents:      opts.Documents,
		bindings:       opts.Bindings,
		records:        opts.Records,
		events:         opts.Events,
		minChars:       opts.MinChars,
		persistTimeout: opts.PersistTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
		targets:        make(map[string]*target),
	}
	if m.bindings == nil {
		m.bindings = NewMemoryBindingStore()
	}
	if m.minChars < 1 {
		m.minChars = 1
	}
	if m.persistTimeout <= 0 {
		m.persistTimeout = defaultPersistTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	ttl, limit := opts.RetainTTL, opts.RetainLimit
	if ttl <= 0 {
		ttl = defaultRetainTTL
	}
	if limit <= 0 {
		limit = defaultRetainLimit
	}
	m.recent = expirable.NewLRU[string, *target](limit, nil, ttl)
	return m, nil
}

// acquire 取得目标并增加引用，必要时从空闲目标中恢复；create 为 false 且不存在时返回 nil
func (m *Manager) acquire(targetID string, create bool) *target {
	m.mu.Lock()
	defer m.mu.Unlock()
	tg, ok := m.targets[targetID]
	if !ok {
		if tg, ok = m.recent.Get(targetID); ok {
			m.recent.Remove(targetID)
		} else if create {
			tg = &target{}
		} else {
			return nil
		}
		m.targets[targetID] = tg
	}
	tg.refs++
	return tg
}

// release 释放引用；最后一个引用释放时目标上已无运行中的会话，转入空闲目标
func (m *Manager) release(targetID string, tg *target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tg.refs--
	if tg.refs > 0 || m.targets[targetID] != tg {
		return
	}
	delete(m.targets, targetID)
	if !m.closed {
		m.recent.Add(targetID, tg)
	}
}

// peek 只读查找，不延长空闲目标的保留期
func (m *Manager) peek(targetID string) *target {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tg, ok := m.targets[targetID]; ok {
		return tg
	}
	tg, _ := m.recent.Peek(targetID)
	return tg
}

// Start 启动新会话，先取消该目标上未结束的会话
// 会话与调用方 ctx 的取消解耦，只由 Cancel/Restart/Close 结束
func (m *Manager) Start(ctx context.Context, req entity.GenerationRequest, obs Observer) (*Session, error) {
	tg := m.acquire(req.TargetID(), true)
	defer m.release(req.TargetID(), tg)

	tg.mu.Lock()
	defer tg.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.wg.Add(1)
	// 会话协程的引用，run 结束时释放
	tg.refs++
	m.mu.Unlock()

	if prev := tg.current; prev != nil {
		m.cancelSession(ctx, prev)
	}

	sessionID := m.newID()
	sctx := context.WithoutCancel(ctx)
	sctx = logger.WithContext(sctx, logger.TargetIDKey, req.TargetID())
	sctx = logger.WithContext(sctx, logger.SessionIDKey, sessionID)
	sctx = logger.WithContext(sctx, logger.TemplateIDKey, req.TemplateID())
	sctx, cancel := context.WithCancel(sctx)

	s := newSession(sessionID, req, obs, cancel, m.now())
	tg.current = s
	reqCopy := req
	tg.lastReq = &reqCopy
	metrics.GenerationActiveSessions.Inc()

	go m.run(sctx, tg, s)
	return s, nil
}

// Restart 取消当前会话并以该目标最近一次请求重新生成
func (m *Manager) Restart(ctx context.Context, targetID string, obs Observer) (*Session, error) {
	tg := m.acquire(targetID, false)
	if tg == nil {
		return nil, apperrors.ErrSessionNotFound.WithDetail(targetID)
	}
	tg.mu.Lock()
	last := tg.lastReq
	tg.mu.Unlock()
	m.release(targetID, tg)
	if last == nil {
		return nil, apperrors.ErrSessionNotFound.WithDetail(targetID)
	}
	return m.Start(ctx, *last, obs)
}

// Cancel 取消目标上未结束的会话，返回是否确有会话被取消
// 返回后该会话不会再向观察者派发任何事件
func (m *Manager) Cancel(ctx context.Context, targetID string) bool {
	tg := m.acquire(targetID, false)
	if tg == nil {
		return false
	}
	defer m.release(targetID, tg)
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.current == nil {
		return false
	}
	return m.cancelSession(ctx, tg.current)
}

// cancelSession 调用方持有 tg.mu
func (m *Manager) cancelSession(ctx context.Context, s *Session) bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	h := s.handle
	s.text = ""
	s.terminateLocked(entity.SessionStateCancelled, nil, m.now())
	s.mu.Unlock()

	s.cancel()
	if h != nil {
		h.Close()
	}
	logger.Info(ctx, "generation session cancelled", "target_id", s.targetID, "session_id", s.id)
	return true
}

// run 会话主流程：解析模板、打开流、等待结束、持久化
func (m *Manager) run(ctx context.Context, tg *target, s *Session) {
	defer m.wg.Done()
	defer m.release(s.targetID, tg)
	defer s.cancel()

	rec, err := m.templates.Resolve(ctx, s.req.TemplateID())
	if err != nil {
		s.mu.Lock()
		if s.state == entity.SessionStateStarting {
			logger.Warn(ctx, "template resolve failed", "error", err)
			s.terminateLocked(entity.SessionStateFailed, err, m.now())
		}
		s.mu.Unlock()
		m.afterTerminal(ctx, s)
		return
	}

	vars := s.req.Variables()
	if missing := template.Missing(rec.InstructionBody, vars); len(missing) > 0 {
		logger.Warn(ctx, "template variables missing, substituted with empty text",
			"missing", strings.Join(missing, ","))
	}
	sreq := entity.StreamRequest{
		SessionID:       s.id,
		TargetID:        s.targetID,
		TemplateID:      rec.ID,
		TemplateVersion: rec.Version,
		Instruction:     template.Substitute(rec.InstructionBody, vars),
		RoleText:        rec.RoleText,
		Temperature:     rec.Temperature,
		MaxTokens:       rec.MaxTokens,
	}

	s.mu.Lock()
	if s.state != entity.SessionStateStarting {
		s.mu.Unlock()
		m.afterTerminal(ctx, s)
		return
	}
	s.state = entity.SessionStateStreaming
	s.templateVersion = rec.Version
	s.mu.Unlock()

	acc := NewAccumulator(m.minChars,
		func(text string, final bool) { m.onSnapshot(s, text, final) },
		func(text string, err error) { m.onFinished(ctx, s, text, err) },
	)
	h := m.transport.Open(ctx, sreq, acc)

	s.mu.Lock()
	s.handle = h
	cancelled := s.state == entity.SessionStateCancelled
	s.mu.Unlock()
	if cancelled {
		h.Close()
	}

	select {
	case <-s.persistReady:
		m.persist(ctx, tg, s)
	case <-s.ended:
	}
	<-s.ended

	// 先取计数再加 s.mu：累积器回调持有 a.mu 时会获取 s.mu
	fragments := acc.Fragments()
	s.mu.Lock()
	s.fragments = fragments
	s.mu.Unlock()
	m.afterTerminal(ctx, s)
}

func (m *Manager) onSnapshot(s *Session, text string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.SessionStateStreaming {
		return
	}
	s.text = text
	s.obs.OnSnapshot(entity.Snapshot{
		SessionID: s.id,
		TargetID:  s.targetID,
		Text:      text,
		Final:     final,
	})
}

func (m *Manager) onFinished(ctx context.Context, s *Session, text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.SessionStateStreaming {
		return
	}
	if err != nil {
		// 传输错误与空结果不保留部分文本
		s.text = ""
		logger.Warn(ctx, "generation stream ended with error", "error", err)
		s.terminateLocked(entity.SessionStateFailed, err, m.now())
		return
	}
	s.text = text
	s.state = entity.SessionStatePersisting
	close(s.persistReady)
}

// persist 持久化会话文本；取消发生在写入开始之前则不写入
func (m *Manager) persist(ctx context.Context, tg *target, s *Session) {
	tg.persistMu.Lock()
	defer tg.persistMu.Unlock()

	s.mu.Lock()
	if s.state != entity.SessionStatePersisting {
		s.mu.Unlock()
		return
	}
	text := s.text
	meta := entity.DocumentMetadata{
		TargetID:        s.targetID,
		SessionID:       s.id,
		TemplateID:      s.req.TemplateID(),
		TemplateVersion: s.templateVersion,
		Variables:       s.req.Variables(),
		GeneratedAt:     m.now().UTC(),
	}
	s.mu.Unlock()

	docID, op, err := m.save(ctx, tg, text, meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = op
	if s.state != entity.SessionStatePersisting {
		// 写入期间被取消：绑定已生效，不再通知
		return
	}
	if err != nil {
		logger.Error(ctx, "document persistence failed", err, "op", string(op))
		s.terminateLocked(entity.SessionStateFailed,
			apperrors.Wrap(err, apperrors.CodePersistenceFailure, "document persistence failed"), m.now())
		return
	}
	s.documentID = docID
	s.terminateLocked(entity.SessionStateDone, nil, m.now())
}

// save 调用方持有 tg.persistMu
func (m *Manager) save(ctx context.Context, tg *target, text string, meta entity.DocumentMetadata) (string, entity.PersistOp, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "generation.persist",
		trace.WithAttributes(
			attribute.String("target.id", meta.TargetID),
			attribute.String("session.id", meta.SessionID),
		))
	defer span.End()

	fail := func(op entity.PersistOp, err error) (string, entity.PersistOp, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.GenerationPersistTotal.WithLabelValues(string(op), "error").Inc()
		return "", op, err
	}

	boundID, err := m.boundID(ctx, tg, meta.TargetID)
	if err != nil {
		return fail(entity.PersistOpNone, err)
	}

	if boundID != "" {
		span.SetAttributes(attribute.String("persist.op", string(entity.PersistOpUpdate)))
		if err := m.documents.UpdateDocument(ctx, boundID, text, meta); err != nil {
			return fail(entity.PersistOpUpdate, err)
		}
		metrics.GenerationPersistTotal.WithLabelValues(string(entity.PersistOpUpdate), "success").Inc()
		return boundID, entity.PersistOpUpdate, nil
	}

	span.SetAttributes(attribute.String("persist.op", string(entity.PersistOpCreate)))
	id, err := m.documents.CreateDocument(ctx, text, meta)
	if err != nil {
		return fail(entity.PersistOpCreate, err)
	}
	if id == "" {
		return fail(entity.PersistOpCreate, apperrors.ErrPersistenceFailure.WithDetail("backend returned empty document id"))
	}
	tg.documentID = id
	if err := m.bindings.Set(ctx, meta.TargetID, id); err != nil {
		// 进程内绑定已生效，后续持久化仍走 update
		logger.Error(ctx, "failed to store document binding", err, "document_id", id)
	}
	metrics.GenerationPersistTotal.WithLabelValues(string(entity.PersistOpCreate), "success").Inc()
	logger.Info(ctx, "document created and bound", "document_id", id)
	return id, entity.PersistOpCreate, nil
}

// boundID 调用方持有 tg.persistMu
func (m *Manager) boundID(ctx context.Context, tg *target, targetID string) (string, error) {
	if tg.documentID != "" {
		return tg.documentID, nil
	}
	id, ok, err := m.bindings.Get(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("load document binding: %w", err)
	}
	if ok {
		tg.documentID = id
	}
	return tg.documentID, nil
}

// afterTerminal 会话结束后的指标、审计与事件
func (m *Manager) afterTerminal(ctx context.Context, s *Session) {
	s.mu.Lock()
	if !s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	state := s.state
	code := ""
	if s.err != nil {
		code = string(apperrors.CodeOf(s.err))
	}
	duration := s.endedAt.Sub(s.startedAt)
	rec := s.recordLocked(m.newID())
	evt := entity.LetterPersisted{
		TargetID:    s.targetID,
		DocumentID:  s.documentID,
		SessionID:   s.id,
		TemplateID:  s.req.TemplateID(),
		Op:          s.op,
		CharCount:   len([]rune(s.text)),
		PersistedAt: s.endedAt,
	}
	s.mu.Unlock()

	metrics.GenerationSessionsTotal.WithLabelValues(string(state), code).Inc()
	metrics.GenerationSessionDuration.WithLabelValues(string(state)).Observe(duration.Seconds())

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
	defer cancel()

	if m.records != nil {
		if err := m.records.Create(actx, rec); err != nil {
			logger.Warn(actx, "failed to record generation session", "error", err)
		}
	}
	if state == entity.SessionStateDone && m.events != nil {
		if err := m.events.PublishLetterPersisted(actx, evt); err != nil {
			logger.Warn(actx, "failed to publish letter persisted event", "error", err)
		}
	}
}

// RetryPersist 重新保存持久化失败会话的文本，不重新生成
func (m *Manager) RetryPersist(ctx context.Context, targetID string) (entity.SessionStatus, error) {
	tg := m.acquire(targetID, false)
	if tg == nil {
		return entity.SessionStatus{}, apperrors.ErrSessionNotFound.WithDetail(targetID)
	}
	defer m.release(targetID, tg)

	tg.mu.Lock()
	s := tg.current
	if s == nil {
		tg.mu.Unlock()
		return entity.SessionStatus{}, apperrors.ErrSessionNotFound.WithDetail(targetID)
	}
	s.mu.Lock()
	if s.state != entity.SessionStateFailed || !errors.Is(s.err, apperrors.ErrPersistenceFailure) {
		s.mu.Unlock()
		tg.mu.Unlock()
		return entity.SessionStatus{}, apperrors.ErrConflict.WithDetail("no failed persistence to retry")
	}
	s.state = entity.SessionStatePersisting
	s.err = nil
	s.endedAt = time.Time{}
	metrics.GenerationActiveSessions.Inc()
	s.mu.Unlock()
	tg.mu.Unlock()

	m.persist(ctx, tg, s)
	m.afterTerminal(ctx, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusLocked()
	return st, s.err
}

// Bind 将目标绑定到已存在的后端文档，之后的持久化均为 update
func (m *Manager) Bind(ctx context.Context, targetID, documentID string) error {
	targetID = strings.TrimSpace(targetID)
	documentID = strings.TrimSpace(documentID)
	if targetID == "" || documentID == "" {
		return apperrors.ErrInvalidParam.WithDetail("target id and document id are required")
	}
	tg := m.acquire(targetID, true)
	defer m.release(targetID, tg)

	tg.persistMu.Lock()
	defer tg.persistMu.Unlock()
	if err := m.bindings.Set(ctx, targetID, documentID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "store document binding")
	}
	tg.documentID = documentID
	return nil
}

// Unbind 解除目标与后端文档的绑定，下一次持久化重新 create
// 用于后端文档被删除或需要另存为新文档的场景
func (m *Manager) Unbind(ctx context.Context, targetID string) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return apperrors.ErrInvalidParam.WithDetail("target id is required")
	}
	tg := m.acquire(targetID, true)
	defer m.release(targetID, tg)

	tg.persistMu.Lock()
	defer tg.persistMu.Unlock()
	if err := m.bindings.Delete(ctx, targetID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "delete document binding")
	}
	tg.documentID = ""
	logger.Info(ctx, "document binding removed", "target_id", targetID)
	return nil
}

// Status 返回目标最近一次会话的状态
func (m *Manager) Status(targetID string) (entity.SessionStatus, bool) {
	tg := m.peek(targetID)
	if tg == nil {
		return entity.SessionStatus{}, false
	}
	tg.mu.Lock()
	s := tg.current
	tg.mu.Unlock()
	if s == nil {
		return entity.SessionStatus{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(), true
}

// Close 取消全部会话并等待会话协程退出
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	targets := make([]*target, 0, len(m.targets))
	for _, tg := range m.targets {
		targets = append(targets, tg)
	}
	m.mu.Unlock()

	for _, tg := range targets {
		tg.mu.Lock()
		if tg.current != nil {
			m.cancelSession(ctx, tg.current)
		}
		tg.mu.Unlock()
	}
	m.wg.Wait()
	m.recent.Purge()
}
