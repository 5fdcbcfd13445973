// Package stream 提供生成后端的流式传输
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/pkg/metrics"
)

// Observer 流事件接收方
// 每个 Handle 至多派发一次 OnComplete 或 OnError，且之后不再派发 OnFragment
// 回调内不得同步调用该流的 Handle.Close
type Observer interface {
	OnFragment(text string)
	OnComplete()
	OnError(err error)
}

// Handle 已打开的流
type Handle interface {
	// Close 幂等；等待进行中的回调结束，返回后不再派发任何事件
	Close()
}

// Transport 流式传输
type Transport interface {
	// Open 发起一次生成请求并异步派发事件
	// 前置条件失败（如缺少凭证）时在返回前派发 OnError，返回的 Handle 已关闭
	Open(ctx context.Context, req entity.StreamRequest, obs Observer) Handle
}

// dispatcher 负责事件派发与关闭状态
// mu 覆盖“检查关闭 + 回调”整个过程，Close 持有 mu 后才返回
type dispatcher struct {
	obs       Observer
	transport string
	cancel    context.CancelFunc

	mu   sync.Mutex
	done atomic.Bool
}

func newDispatcher(obs Observer, transport string, cancel context.CancelFunc) *dispatcher {
	return &dispatcher{obs: obs, transport: transport, cancel: cancel}
}

func (d *dispatcher) Close() {
	// 先置位再取锁：进行中的派发结束后，后续派发都会看到 done
	d.done.Store(true)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
}

// closed 读循环的快速退出判断，不作为派发依据
func (d *dispatcher) closed() bool {
	return d.done.Load()
}

func (d *dispatcher) fragment(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done.Load() {
		return
	}
	metrics.StreamFramesTotal.WithLabelValues(d.transport, "fragment").Inc()
	d.obs.OnFragment(text)
}

func (d *dispatcher) complete() {
	d.finish("complete", d.obs.OnComplete)
}

func (d *dispatcher) fail(err error) {
	d.finish("error", func() { d.obs.OnError(err) })
}

func (d *dispatcher) finish(kind string, notify func()) {
	d.mu.Lock()
	if d.done.CompareAndSwap(false, true) {
		metrics.StreamFramesTotal.WithLabelValues(d.transport, kind).Inc()
		notify()
	}
	d.mu.Unlock()
	d.cancel()
}

type closedHandle struct{}

func (closedHandle) Close() {}
