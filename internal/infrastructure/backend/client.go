// Package backend 后端 REST API 客户端：模板查询与信件文档读写
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"letter-stream-engine/internal/domain/entity"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
	"letter-stream-engine/pkg/tracer"
	"letter-stream-engine/pkg/utils"
)

var backendTracer = otel.Tracer("backend")

const maxErrorSnippet = 512

// Config 客户端配置
type Config struct {
	BaseURL        string
	TemplatePath   string
	DocumentPath   string
	RequestTimeout time.Duration
	Credentials    utils.TokenSource
	HTTPClient     *http.Client
}

// Client 后端 API 客户端
// 同时实现 repository.TemplateSource 与 repository.DocumentStore
type Client struct {
	baseURL      string
	templatePath string
	documentPath string
	client       *http.Client
	creds        utils.TokenSource
}

// NewClient 创建后端客户端
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if !strings.Contains(cfg.TemplatePath, "%s") {
		return nil, fmt.Errorf("backend template path must contain %%s")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = utils.ForwardedToken{}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		templatePath: cfg.TemplatePath,
		documentPath: strings.TrimRight(cfg.DocumentPath, "/"),
		client:       client,
		creds:        creds,
	}, nil
}

// FetchTemplate 获取模板原始 JSON
func (c *Client) FetchTemplate(ctx context.Context, id string) ([]byte, error) {
	path := fmt.Sprintf(c.templatePath, url.PathEscape(id))
	body, status, err := c.do(ctx, "backend.fetch_template", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperrors.ErrTemplateNotFound.WithDetail(id)
	case status < 200 || status >= 300:
		return nil, statusError(status, body)
	}
	// 兼容 {"data": {...}} 包裹
	if data := gjson.GetBytes(body, "data"); data.IsObject() {
		return []byte(data.Raw), nil
	}
	return body, nil
}

type documentPayload struct {
	Content  string                  `json:"content"`
	Metadata entity.DocumentMetadata `json:"metadata"`
}

// CreateDocument 创建信件文档，返回后端分配的 ID
func (c *Client) CreateDocument(ctx context.Context, content string, meta entity.DocumentMetadata) (string, error) {
	payload, err := json.Marshal(documentPayload{Content: content, Metadata: meta})
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	body, status, err := c.do(ctx, "backend.create_document", http.MethodPost, c.documentPath, payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", statusError(status, body)
	}

	id := gjson.GetBytes(body, "id")
	if !id.Exists() {
		id = gjson.GetBytes(body, "data.id")
	}
	if id.String() == "" {
		return "", apperrors.New(apperrors.CodeBackendError, "create document response has no id")
	}
	return id.String(), nil
}

// UpdateDocument 更新已存在的信件文档
func (c *Client) UpdateDocument(ctx context.Context, id, content string, meta entity.DocumentMetadata) error {
	payload, err := json.Marshal(documentPayload{Content: content, Metadata: meta})
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	body, status, err := c.do(ctx, "backend.update_document", http.MethodPut,
		c.documentPath+"/"+url.PathEscape(id), payload)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound.WithDetail("document " + id)
	case status < 200 || status >= 300:
		return statusError(status, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, spanName, method, path string, payload []byte) ([]byte, int, error) {
	ctx, span := backendTracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	fail := func(err error) ([]byte, int, error) {
		tracer.Fail(span, err)
		return nil, 0, err
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return fail(apperrors.ErrAuthMissing.WithError(err))
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fail(fmt.Errorf("build backend request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.CodeBackendError, "backend request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.CodeBackendError, "read backend response"))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fail(apperrors.ErrAuthMissing.WithDetail(fmt.Sprintf("backend returned %d", resp.StatusCode)))
	}
	if resp.StatusCode >= 500 {
		logger.Warn(ctx, "backend returned server error", "path", path, "status", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

func statusError(status int, body []byte) error {
	snippet := body
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(snippet))
	}
	return apperrors.New(apperrors.CodeBackendError, "backend request failed").
		WithDetail(fmt.Sprintf("status %d: %s", status, msg))
}
