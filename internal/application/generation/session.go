package generation

import (
	"context"
	"sort"
	"sync"
	"time"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/infrastructure/stream"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/metrics"
)

// Observer 接收会话进度的 UI 端
// 回调在会话锁内同步执行：实现方不得阻塞，也不得同步回调 Manager
type Observer interface {
	OnSnapshot(snap entity.Snapshot)
	OnTerminal(term entity.Terminal)
}

// ObserverFuncs 以函数形式实现 Observer，未设置的回调忽略
type ObserverFuncs struct {
	Snapshot func(entity.Snapshot)
	Terminal func(entity.Terminal)
}

func (o ObserverFuncs) OnSnapshot(snap entity.Snapshot) {
	if o.Snapshot != nil {
		o.Snapshot(snap)
	}
}

func (o ObserverFuncs) OnTerminal(term entity.Terminal) {
	if o.Terminal != nil {
		o.Terminal(term)
	}
}

// Session 一次生成尝试
type Session struct {
	id       string
	targetID string
	req      entity.GenerationRequest
	obs      Observer
	cancel   context.CancelFunc

	mu              sync.Mutex
	state           entity.SessionState
	text            string
	err             error
	documentID      string
	op              entity.PersistOp
	templateVersion int
	fragments       int
	handle          stream.Handle
	startedAt       time.Time
	endedAt         time.Time

	persistReady chan struct{}
	ended        chan struct{}
	endedClosed  bool
}

func newSession(id string, req entity.GenerationRequest, obs Observer, cancel context.CancelFunc, now time.Time) *Session {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &Session{
		id:           id,
		targetID:     req.TargetID(),
		req:          req,
		obs:          obs,
		cancel:       cancel,
		state:        entity.SessionStateStarting,
		startedAt:    now,
		persistReady: make(chan struct{}),
		ended:        make(chan struct{}),
	}
}

// ID 会话 ID
func (s *Session) ID() string { return s.id }

// State 当前状态
func (s *Session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done 会话进入终止状态后关闭
func (s *Session) Done() <-chan struct{} { return s.ended }

// terminateLocked 进入终止状态并通知观察者，调用方持有 s.mu
func (s *Session) terminateLocked(state entity.SessionState, err error, now time.Time) {
	s.state = state
	s.err = err
	s.endedAt = now
	if !s.endedClosed {
		s.endedClosed = true
		close(s.ended)
	}
	metrics.GenerationActiveSessions.Dec()

	s.obs.OnTerminal(entity.Terminal{
		SessionID:  s.id,
		TargetID:   s.targetID,
		State:      state,
		DocumentID: s.documentID,
		Err:        err,
	})
}

// statusLocked 调用方持有 s.mu
func (s *Session) statusLocked() entity.SessionStatus {
	st := entity.SessionStatus{
		SessionID:  s.id,
		TargetID:   s.targetID,
		TemplateID: s.req.TemplateID(),
		State:      s.state,
		Text:       s.text,
		DocumentID: s.documentID,
		StartedAt:  s.startedAt,
	}
	if s.err != nil {
		ae := apperrors.AsAppError(s.err)
		st.ErrorCode = string(ae.Code)
		st.Error = ae.Error()
	}
	if !s.endedAt.IsZero() {
		end := s.endedAt
		st.EndedAt = &end
	}
	return st
}

// recordLocked 调用方持有 s.mu
func (s *Session) recordLocked(id string) *entity.SessionRecord {
	rec := &entity.SessionRecord{
		ID:              id,
		SessionID:       s.id,
		TargetID:        s.targetID,
		TemplateID:      s.req.TemplateID(),
		TemplateVersion: s.templateVersion,
		State:           s.state,
		DocumentID:      s.documentID,
		PersistOp:       s.op,
		FragmentCount:   s.fragments,
		CharCount:       len([]rune(s.text)),
		DurationMs:      s.endedAt.Sub(s.startedAt).Milliseconds(),
		StartedAt:       s.startedAt,
		CompletedAt:     s.endedAt,
	}
	for name := range s.req.Variables() {
		rec.VariableNames = append(rec.VariableNames, name)
	}
	sort.Strings(rec.VariableNames)
	if s.err != nil {
		ae := apperrors.AsAppError(s.err)
		rec.ErrorCode = string(ae.Code)
		rec.ErrorMessage = ae.Error()
	}
	return rec
}
