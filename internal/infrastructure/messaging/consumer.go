package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/metrics"
	"letter-stream-engine/pkg/tracer"
)

// MessageHandler 消息处理函数；返回错误的消息留在 pending 中按退避重试
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
}

// Consumer 消费者组成员
//
// 每轮循环先重放自己 pending 中到期的消息，再按 ClaimInterval 接管其他成员长时间未确认的消息，
// 最后阻塞读取新消息。投递次数达到 RetryLimit 的消息写入死信流并确认。
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	// staleIdle 其他成员的 pending 消息空闲超过该时长才接管
	staleIdle time.Duration

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsumer 创建消费者
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName()
	}

	staleIdle := 2 * cfg.Backoff.Max
	if staleIdle < 5*time.Minute {
		staleIdle = 5 * time.Minute
	}
	return &Consumer{
		client:    client,
		cfg:       cfg,
		staleIdle: staleIdle,
		handlers:  make(map[string]MessageHandler),
	}
}

// RegisterHandler 注册消息处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 确保消费者组存在并启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer already running")
	}

	err := c.client.XGroupCreateMkStream(ctx, string(c.cfg.Stream), string(c.cfg.Group), "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	return nil
}

// Stop 停止消费循环并等待当前消息处理完成
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done 消费循环退出后关闭；未启动时返回 nil
func (c *Consumer) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ctx = logger.WithContext(ctx, logger.ConsumerKey, c.cfg.ConsumerName)
	logger.Info(ctx, "consumer started", "stream", c.cfg.Stream, "group", c.cfg.Group)
	defer logger.Info(ctx, "consumer stopped", "stream", c.cfg.Stream)

	nextClaim := time.Now()
	for ctx.Err() == nil {
		c.sweepPending(ctx, false)
		if !time.Now().Before(nextClaim) {
			c.sweepPending(ctx, true)
			nextClaim = time.Now().Add(c.cfg.ClaimInterval)
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{string(c.cfg.Stream), ">"},
			Count:    10,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error(ctx, "failed to read from stream", err, "stream", c.cfg.Stream)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.process(ctx, xmsg)
			}
		}
	}
}

// decode 解析流条目；格式错误的条目无法重试
func decode(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", xmsg.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", xmsg.ID, err)
	}
	return &msg, nil
}

// withMessageContext 注入日志上下文
func withMessageContext(ctx context.Context, msg *Message) context.Context {
	if msg.TargetID != "" {
		ctx = logger.WithContext(ctx, logger.TargetIDKey, msg.TargetID)
	}
	for key, ctxKey := range map[string]logger.ContextKey{
		"template_id": logger.TemplateIDKey,
		"request_id":  logger.RequestIDKey,
		"trace_id":    logger.TraceIDKey,
	} {
		if v := msg.GetMetadata(key); v != "" {
			ctx = logger.WithContext(ctx, ctxKey, v)
		}
	}
	return ctx
}

func (c *Consumer) process(ctx context.Context, xmsg redis.XMessage) {
	stream := string(c.cfg.Stream)
	ctx, span := streamTracer.Start(ctx, "consumer.process",
		trace.WithAttributes(
			attribute.String("stream", stream),
			attribute.String("stream.entry_id", xmsg.ID),
		))
	defer span.End()

	msg, err := decode(xmsg)
	if err != nil {
		logger.Error(ctx, "dropping malformed stream entry", err)
		metrics.RedisStreamProcessed.WithLabelValues(stream, "malformed").Inc()
		c.ack(ctx, xmsg.ID)
		return
	}
	ctx = withMessageContext(ctx, msg)
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
	)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type)
		metrics.RedisStreamProcessed.WithLabelValues(stream, "skipped").Inc()
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := handler(ctx, msg); err != nil {
		tracer.Fail(span, err)
		metrics.RedisStreamProcessed.WithLabelValues(stream, "error").Inc()
		logger.Warn(ctx, "handler failed, message left pending", "message_id", msg.ID, "error", err)
		return
	}
	metrics.RedisStreamProcessed.WithLabelValues(stream, "success").Inc()
	c.ack(ctx, xmsg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack message", err, "entry_id", id)
	}
}

// sweepPending 处理 pending 列表
// others=false 只看本成员的消息，空闲超过退避时长即重放；
// others=true 只看其他成员的消息，空闲超过 staleIdle 才接管
func (c *Consumer) sweepPending(ctx context.Context, others bool) {
	args := &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  "-",
		End:    "+",
		Count:  20,
	}
	if !others {
		args.Consumer = c.cfg.ConsumerName
	}
	pending, err := c.client.XPendingExt(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Error(ctx, "failed to query pending messages", err)
		}
		return
	}

	for _, p := range pending {
		if others && p.Consumer == c.cfg.ConsumerName {
			continue
		}
		exhausted := int(p.RetryCount) >= c.cfg.RetryLimit

		minIdle := c.staleIdle
		if !others {
			minIdle = c.cfg.Backoff.CalculateBackoff(int(p.RetryCount))
			if exhausted {
				minIdle = 0
			}
		}
		if p.Idle < minIdle {
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.cfg.Stream),
			Group:    string(c.cfg.Group),
			Consumer: c.cfg.ConsumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.Error(ctx, "failed to claim pending message", err, "entry_id", p.ID)
			continue
		}
		for _, xmsg := range claimed {
			if exhausted {
				c.deadLetter(ctx, xmsg, int(p.RetryCount))
				continue
			}
			c.process(ctx, xmsg)
		}
	}
}

// deadLetter 原样写入死信流后确认
func (c *Consumer) deadLetter(ctx context.Context, xmsg redis.XMessage, deliveries int) {
	values := map[string]interface{}{
		"original_stream": string(c.cfg.Stream),
		"entry_id":        xmsg.ID,
		"deliveries":      deliveries,
		"failed_at":       time.Now().Unix(),
	}
	if raw, ok := xmsg.Values["data"].(string); ok {
		values["data"] = raw
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: values,
	}).Err(); err != nil {
		logger.Error(ctx, "failed to move message to DLQ", err, "entry_id", xmsg.ID)
		return
	}
	logger.Warn(ctx, "message moved to DLQ after max retries", "entry_id", xmsg.ID, "deliveries", deliveries)
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), "dlq").Inc()
	c.ack(ctx, xmsg.ID)
}

// MonitorDLQ 定期检查死信流长度，超过阈值时告警；消费者停止后返回
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	done := c.Done()
	if done == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	dlq := c.cfg.Stream.DLQStream()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			n, err := c.client.XLen(ctx, dlq).Result()
			if err != nil {
				continue
			}
			if n > alertThreshold {
				logger.Warn(ctx, "DLQ has pending messages", "stream", dlq, "count", n)
			}
		}
	}
}
