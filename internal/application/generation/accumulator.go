// Package generation 协调生成会话：流式累积、单目标单会话与幂等持久化
package generation

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/metrics"
)

// Accumulator 将流式片段拼接为完整文本
//
// 片段原样追加（不裁剪、不去重），每个片段发布一次快照。
// 完成时有效字符数（去除首尾空白后）少于 minChars 视为空结果。
// 结束之后到达的事件一律忽略。实现 stream.Observer。
type Accumulator struct {
	mu        sync.Mutex
	buf       strings.Builder
	fragments int
	finished  bool
	minChars  int

	onSnapshot func(text string, final bool)
	onFinish   func(text string, err error)
}

// NewAccumulator 创建累积器
func NewAccumulator(minChars int, onSnapshot func(text string, final bool), onFinish func(text string, err error)) *Accumulator {
	if minChars < 1 {
		minChars = 1
	}
	return &Accumulator{
		minChars:   minChars,
		onSnapshot: onSnapshot,
		onFinish:   onFinish,
	}
}

// OnFragment 追加片段并发布快照
func (a *Accumulator) OnFragment(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.buf.WriteString(text)
	a.fragments++
	metrics.GenerationFragmentsTotal.Inc()
	a.onSnapshot(a.buf.String(), false)
}

// OnComplete 流正常结束
func (a *Accumulator) OnComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true

	text := a.buf.String()
	if utf8.RuneCountInString(strings.TrimSpace(text)) < a.minChars {
		a.onFinish(text, apperrors.ErrEmptyResult)
		return
	}
	a.onSnapshot(text, true)
	a.onFinish(text, nil)
}

// OnError 流异常结束；凭证错误原样透传，其余归为传输错误
func (a *Accumulator) OnError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true

	switch {
	case err == nil:
		err = apperrors.ErrTransport
	case errors.Is(err, apperrors.ErrAuthMissing), errors.Is(err, apperrors.ErrTransport):
	default:
		err = apperrors.Wrap(err, apperrors.CodeTransportError, "stream transport failed")
	}
	a.onFinish(a.buf.String(), err)
}

// text 返回当前累积值
func (a *Accumulator) text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Fragments 返回已接收的片段数
func (a *Accumulator) Fragments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fragments
}
