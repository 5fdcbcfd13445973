package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/domain/entity"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/metrics"
	"letter-stream-engine/pkg/utils"
)

var tracer = otel.Tracer("stream")

const transportBackend = "backend"

// SSEConfig 后端事件流传输配置
type SSEConfig struct {
	BaseURL    string
	StreamPath string
	// ResponseHeaderTimeout 等待响应头的超时，不限制流本身的时长
	ResponseHeaderTimeout time.Duration
	Credentials           utils.TokenSource
	HTTPClient            *http.Client
}

// SSETransport 通过 HTTP POST + text/event-stream 与生成后端通信
type SSETransport struct {
	url    string
	client *http.Client
	creds  utils.TokenSource
	now    func() time.Time
}

// NewSSETransport 创建事件流传输
func NewSSETransport(cfg SSEConfig) *SSETransport {
	client := cfg.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		client = &http.Client{Transport: tr}
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = utils.ForwardedToken{}
	}
	return &SSETransport{
		url:    strings.TrimRight(cfg.BaseURL, "/") + cfg.StreamPath,
		client: client,
		creds:  creds,
		now:    time.Now,
	}
}

// streamPayload 出站请求体
type streamPayload struct {
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

func buildPayload(req entity.StreamRequest) streamPayload {
	meta := make(map[string]string, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["sessionId"] = req.SessionID
	meta["targetId"] = req.TargetID
	meta["templateId"] = req.TemplateID
	meta["templateVersion"] = strconv.Itoa(req.TemplateVersion)

	msgs := make([]*schema.Message, 0, 2)
	if req.RoleText != "" {
		msgs = append(msgs, schema.SystemMessage(req.RoleText))
	}
	msgs = append(msgs, schema.UserMessage(req.Instruction))

	return streamPayload{
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Metadata:    meta,
	}
}

// Open 实现 Transport
func (t *SSETransport) Open(ctx context.Context, req entity.StreamRequest, obs Observer) Handle {
	token, err := t.creds.Token(ctx)
	if err == nil {
		_, err = utils.InspectToken(token, t.now())
	}
	if err != nil {
		metrics.StreamFramesTotal.WithLabelValues(transportBackend, "error").Inc()
		obs.OnError(apperrors.ErrAuthMissing.WithError(err))
		return closedHandle{}
	}

	ctx, cancel := context.WithCancel(ctx)
	d := newDispatcher(obs, transportBackend, cancel)
	go t.run(ctx, d, req, token)
	return d
}

func (t *SSETransport) run(ctx context.Context, d *dispatcher, req entity.StreamRequest, token string) {
	ctx, span := tracer.Start(ctx, "stream.sse",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("target.id", req.TargetID),
			attribute.String("template.id", req.TemplateID),
		))
	defer span.End()
	defer d.cancel()

	fail := func(err error) {
		if d.closed() {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn(ctx, "generation stream failed", "session_id", req.SessionID, "error", err)
		d.fail(err)
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		fail(apperrors.Wrap(err, apperrors.CodeTransportError, "encode stream request"))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		fail(apperrors.Wrap(err, apperrors.CodeTransportError, "build stream request"))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		fail(apperrors.Wrap(err, apperrors.CodeTransportError, "open generation stream"))
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		fail(apperrors.ErrAuthMissing.WithDetail(fmt.Sprintf("backend returned %d", resp.StatusCode)))
		return
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fail(apperrors.ErrTransport.WithDetail(
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))))
		return
	}

	frames := newFrameReader(resp.Body)
	for {
		datas, err := frames.Next()
		for _, data := range datas {
			if d.closed() {
				return
			}
			if t.handle(d, data) {
				return
			}
		}
		if err != nil {
			if d.closed() {
				return
			}
			if errors.Is(err, io.EOF) {
				fail(apperrors.ErrTransport.WithDetail("stream ended without completion"))
			} else {
				fail(apperrors.Wrap(err, apperrors.CodeTransportError, "read generation stream"))
			}
			return
		}
		if len(datas) == 0 {
			metrics.StreamFramesTotal.WithLabelValues(transportBackend, "keepalive").Inc()
		}
	}
}

// handle 处理一帧，返回是否为终止帧
func (t *SSETransport) handle(d *dispatcher, data string) bool {
	f, ok := ParseFrame(data)
	if !ok {
		metrics.StreamFramesTotal.WithLabelValues(transportBackend, "keepalive").Inc()
		return false
	}

	if !f.Success {
		msg := f.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		d.fail(apperrors.ErrTransport.WithDetail(msg))
		return true
	}

	if f.IsComplete {
		if f.IsNewContent && f.Content != "" {
			d.fragment(f.Content)
		}
		d.complete()
		return true
	}

	if f.Content != "" {
		d.fragment(f.Content)
	}
	return false
}
