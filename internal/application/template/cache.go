// Package template 提供提示词模板的解析、缓存与变量替换
package template

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/domain/repository"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/metrics"
)

var tracer = otel.Tracer("template")

// SourceMode 模板来源模式，构造时确定，运行期不切换
type SourceMode string

const (
	SourceRemote SourceMode = "remote"
	SourceStatic SourceMode = "static"
)

// ErrCacheClosed 缓存已关闭
var ErrCacheClosed = apperrors.New(apperrors.CodeServiceUnavailable, "template cache closed")

// Options 模板缓存选项
type Options struct {
	Mode SourceMode
	// Remote 后端模板来源，Mode=remote 时必填
	Remote repository.TemplateSource
	// Static 内置模板来源，为空时使用 NewStaticSource()
	Static repository.TemplateSource
	// Shared 可选的二级缓存（Redis）
	Shared repository.TemplateStore
}

// Cache 模板缓存
//
// 条目以值形式整体替换，不做原地修改。每个 ID 维护一个失效代数（epoch），
// 全局失效维护一个全局代数：加载完成时代数未变才写入缓存，
// 因此失效之前发起的加载可以把结果返回给自己的调用方，但不会被之后的调用方读到。
type Cache struct {
	mode   SourceMode
	source repository.TemplateSource
	shared repository.TemplateStore

	mu      sync.RWMutex
	entries map[string]entity.TemplateRecord
	epochs  map[string]uint64
	global  uint64
	closed  bool

	group singleflight.Group
}

// NewCache 创建模板缓存
func NewCache(opts Options) (*Cache, error) {
	var source repository.TemplateSource
	switch opts.Mode {
	case SourceRemote:
		if opts.Remote == nil {
			return nil, fmt.Errorf("remote template source is required in %s mode", opts.Mode)
		}
		source = opts.Remote
	case SourceStatic:
		source = opts.Static
		if source == nil {
			source = NewStaticSource()
		}
	default:
		return nil, fmt.Errorf("unknown template source mode: %q", opts.Mode)
	}

	return &Cache{
		mode:    opts.Mode,
		source:  source,
		shared:  opts.Shared,
		entries: make(map[string]entity.TemplateRecord),
		epochs:  make(map[string]uint64),
	}, nil
}

// Mode 返回来源模式
func (c *Cache) Mode() SourceMode {
	return c.mode
}

// Resolve 解析模板
// 可能的错误：ErrTemplateNotFound / ErrTemplateInvalid / ErrTransport / ErrAuthMissing
func (c *Cache) Resolve(ctx context.Context, id string) (entity.TemplateRecord, error) {
	ctx, span := tracer.Start(ctx, "template.Resolve",
		trace.WithAttributes(
			attribute.String("template.id", id),
			attribute.String("template.source_mode", string(c.mode)),
		))
	defer span.End()

	if id == "" {
		return entity.TemplateRecord{}, apperrors.ErrTemplateNotFound.WithDetail("empty template id")
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return entity.TemplateRecord{}, ErrCacheClosed
	}
	rec, ok := c.entries[id]
	epoch := c.epochKey(id)
	c.mu.RUnlock()

	if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		metrics.TemplateCacheRequests.WithLabelValues("hit").Inc()
		return rec, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 同一代数内的并发请求合并为一次加载；失效之后的请求使用新的 key
	ch := c.group.DoChan(id+"#"+epoch, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), id, epoch)
	})

	select {
	case res := <-ch:
		span.SetAttributes(attribute.Bool("cache.shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			return entity.TemplateRecord{}, res.Err
		}
		return res.Val.(entity.TemplateRecord), nil
	case <-ctx.Done():
		return entity.TemplateRecord{}, apperrors.Wrap(ctx.Err(), apperrors.CodeTransportError, "template resolve cancelled")
	}
}

// load 从二级缓存或来源加载并校验模板
func (c *Cache) load(ctx context.Context, id, epoch string) (entity.TemplateRecord, error) {
	if c.shared != nil {
		rec, ok, err := c.shared.Get(ctx, id)
		switch {
		case err != nil:
			logger.Warn(ctx, "shared template cache read failed", "template_id", id, "error", err)
		case ok && rec.ID == id && rec.Validate() == nil:
			metrics.TemplateCacheRequests.WithLabelValues("shared_hit").Inc()
			c.storeIfCurrent(id, epoch, rec)
			return rec, nil
		}
	}

	raw, err := c.source.FetchTemplate(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrTemplateNotFound):
			metrics.TemplateCacheRequests.WithLabelValues("not_found").Inc()
			return entity.TemplateRecord{}, err
		case errors.Is(err, apperrors.ErrAuthMissing):
			metrics.TemplateCacheRequests.WithLabelValues("error").Inc()
			return entity.TemplateRecord{}, err
		default:
			metrics.TemplateCacheRequests.WithLabelValues("error").Inc()
			return entity.TemplateRecord{}, apperrors.Wrap(err, apperrors.CodeTransportError, "template fetch failed")
		}
	}

	rec, err := entity.ParseTemplateRecord(raw)
	if err != nil {
		metrics.TemplateCacheRequests.WithLabelValues("invalid").Inc()
		logger.Warn(ctx, "rejected invalid template", "template_id", id, "error", err)
		return entity.TemplateRecord{}, apperrors.Wrap(err, apperrors.CodeTemplateInvalid, "template invalid")
	}
	if rec.ID != id {
		metrics.TemplateCacheRequests.WithLabelValues("invalid").Inc()
		return entity.TemplateRecord{}, apperrors.ErrTemplateInvalid.WithDetail(
			fmt.Sprintf("requested %q but backend returned %q", id, rec.ID))
	}

	metrics.TemplateCacheRequests.WithLabelValues("miss").Inc()
	if c.storeIfCurrent(id, epoch, rec) && c.shared != nil {
		if err := c.shared.Set(ctx, rec); err != nil {
			logger.Warn(ctx, "shared template cache write failed", "template_id", id, "error", err)
		} else if !c.isCurrent(id, epoch) {
			// 写入二级缓存期间发生了失效
			if err := c.shared.Delete(ctx, id); err != nil {
				logger.Warn(ctx, "shared template cache cleanup failed", "template_id", id, "error", err)
			}
		}
	}
	return rec, nil
}

// storeIfCurrent 代数未变化时写入缓存
func (c *Cache) storeIfCurrent(id, epoch string, rec entity.TemplateRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.epochKey(id) != epoch {
		return false
	}
	c.entries[id] = rec
	return true
}

func (c *Cache) isCurrent(id, epoch string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.epochKey(id) == epoch
}

// epochKey 调用方需持有锁
func (c *Cache) epochKey(id string) string {
	return strconv.FormatUint(c.global, 10) + "." + strconv.FormatUint(c.epochs[id], 10)
}

// Invalidate 使单个模板失效
func (c *Cache) Invalidate(ctx context.Context, id string) {
	c.invalidate(ctx, id, "explicit")
}

func (c *Cache) invalidate(ctx context.Context, id, reason string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.epochs[id]++
	c.mu.Unlock()

	metrics.TemplateCacheInvalidations.WithLabelValues(reason).Inc()
	if c.shared != nil {
		if err := c.shared.Delete(ctx, id); err != nil {
			logger.Warn(ctx, "shared template cache delete failed", "template_id", id, "error", err)
		}
	}
	logger.Debug(ctx, "template invalidated", "template_id", id, "reason", reason)
}

// InvalidateAll 使全部模板失效
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entity.TemplateRecord)
	c.global++
	c.mu.Unlock()

	metrics.TemplateCacheInvalidations.WithLabelValues("all").Inc()
	if c.shared != nil {
		if err := c.shared.Clear(ctx); err != nil {
			logger.Warn(ctx, "shared template cache clear failed", "error", err)
		}
	}
}

// NotifyVersion 处理后端发出的版本变更信号
// 本地缓存版本与信号一致时忽略，返回是否执行了失效
func (c *Cache) NotifyVersion(ctx context.Context, id string, version int) bool {
	c.mu.RLock()
	rec, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && rec.Version == version {
		return false
	}
	c.invalidate(ctx, id, "version")
	return true
}

// Cached 返回本地是否缓存了该模板
func (c *Cache) Cached(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Close 关闭缓存，之后的 Resolve 返回 ErrCacheClosed
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = make(map[string]entity.TemplateRecord)
}
