package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"letter-stream-engine/internal/application/generation"
	"letter-stream-engine/internal/application/template"
	"letter-stream-engine/internal/config"
	"letter-stream-engine/internal/domain/entity"
	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/internal/infrastructure/stream"
	"letter-stream-engine/internal/interfaces/http/handler"
	"letter-stream-engine/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type scriptedHandle struct{ cancel context.CancelFunc }

func (h scriptedHandle) Close() { h.cancel() }

// scriptedTransport 依次派发预设片段；hold 时保持打开直到被关闭
type scriptedTransport struct {
	mu        sync.Mutex
	fragments []string
	hold      bool
	opened    chan entity.StreamRequest
}

func (t *scriptedTransport) set(hold bool, fragments ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hold = hold
	t.fragments = fragments
}

func (t *scriptedTransport) Open(ctx context.Context, req entity.StreamRequest, obs stream.Observer) stream.Handle {
	t.mu.Lock()
	frags, hold := t.fragments, t.hold
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.opened <- req
	go func() {
		if hold {
			<-ctx.Done()
			return
		}
		for _, f := range frags {
			if ctx.Err() != nil {
				return
			}
			obs.OnFragment(f)
		}
		obs.OnComplete()
	}()
	return scriptedHandle{cancel: cancel}
}

type memDocuments struct {
	mu      sync.Mutex
	docs    map[string]string
	creates int
	updates int
}

func (d *memDocuments) CreateDocument(_ context.Context, content string, _ entity.DocumentMetadata) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	id := fmt.Sprintf("doc-%d", d.creates)
	d.docs[id] = content
	return id, nil
}

func (d *memDocuments) UpdateDocument(_ context.Context, id, content string, _ entity.DocumentMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
	d.docs[id] = content
	return nil
}

func (d *memDocuments) content(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.docs[id]
}

func (d *memDocuments) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates, d.updates
}

type memRecords struct {
	mu   sync.Mutex
	recs []*entity.SessionRecord
}

func (r *memRecords) Create(_ context.Context, rec *entity.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memRecords) ListByTarget(_ context.Context, targetID string, p repository.Pagination) (*repository.PagedResult[*entity.SessionRecord], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*entity.SessionRecord
	for i := len(r.recs) - 1; i >= 0; i-- {
		if r.recs[i].TargetID == targetID {
			items = append(items, r.recs[i])
		}
	}
	return repository.NewPagedResult(items, int64(len(items)), p), nil
}

func (r *memRecords) CountCreates(_ context.Context, targetID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.recs {
		if rec.TargetID == targetID && rec.PersistOp == entity.PersistOpCreate {
			n++
		}
	}
	return n, nil
}

func (r *memRecords) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

type testServer struct {
	srv       *httptest.Server
	transport *scriptedTransport
	docs      *memDocuments
	records   *memRecords
}

func newTestServer(t *testing.T, auth middleware.AuthConfig, withRecords bool) *testServer {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Version = "test"
	cfg.Observability.Metrics.Enabled = true

	ts := &testServer{
		transport: &scriptedTransport{opened: make(chan entity.StreamRequest, 16)},
		docs:      &memDocuments{docs: make(map[string]string)},
		records:   &memRecords{},
	}

	cache, err := template.NewCache(template.Options{Mode: template.SourceStatic})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	var records repository.SessionRecordRepository
	if withRecords {
		records = ts.records
	}
	m, err := generation.NewManager(generation.Options{
		Templates: cache,
		Transport: ts.transport,
		Documents: ts.docs,
		Records:   records,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	r := New(cfg, Handlers{
		Health:     handler.NewHealthHandler(cfg, nil, nil),
		Generation: handler.NewGenerationHandler(m, records),
		Template:   handler.NewTemplateHandler(cache),
	}, auth)
	ts.srv = httptest.NewServer(r.Engine())
	t.Cleanup(func() {
		m.Close(context.Background())
		ts.srv.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(raw)
}

func generateBody() map[string]any {
	return map[string]any{
		"template_id": "clinical",
		"variables": map[string]string{
			"recipientName": "Dr. Lee",
			"patientName":   "Ana",
			"dictation":     "stable",
		},
	}
}

// lastEvent 返回 SSE 响应中指定事件的最后一条数据
func lastEvent(body, name string) map[string]any {
	var data map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		if !strings.Contains(block, "event:"+name+"\n") {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			if payload, ok := strings.CutPrefix(line, "data:"); ok {
				data = map[string]any{}
				_ = json.Unmarshal([]byte(payload), &data)
			}
		}
	}
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGenerateStreamsAndPersists(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{}, true)
	ts.transport.set(false, "Dear ", "Dr. Lee.")

	status, body := ts.do(t, http.MethodPost, "/v1/targets/T/generate", generateBody())
	if status != http.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	if lastEvent(body, "session")["target_id"] != "T" {
		t.Fatalf("missing session event: %s", body)
	}
	snap := lastEvent(body, "snapshot")
	if snap["text"] != "Dear Dr. Lee." || snap["final"] != true {
		t.Fatalf("last snapshot = %v", snap)
	}
	term := lastEvent(body, "terminal")
	if term["state"] != "done" || term["document_id"] != "doc-1" {
		t.Fatalf("terminal = %v", term)
	}
	if ts.docs.content("doc-1") != "Dear Dr. Lee." {
		t.Fatalf("stored content = %q", ts.docs.content("doc-1"))
	}

	req := <-ts.transport.opened
	if !strings.Contains(req.Instruction, "Dr. Lee") || req.TemplateID != "clinical" {
		t.Fatalf("stream request = %+v", req)
	}

	// 同一目标再次生成走 update
	ts.transport.set(false, "Second draft.")
	_, body = ts.do(t, http.MethodPost, "/v1/targets/T/regenerate", nil)
	if term := lastEvent(body, "terminal"); term["state"] != "done" || term["document_id"] != "doc-1" {
		t.Fatalf("regenerate terminal = %v", term)
	}
	if creates, updates := ts.docs.counts(); creates != 1 || updates != 1 {
		t.Fatalf("creates=%d updates=%d", creates, updates)
	}

	status, body = ts.do(t, http.MethodGet, "/v1/targets/T", nil)
	if status != http.StatusOK || !strings.Contains(body, `"state":"done"`) || !strings.Contains(body, `"text":"Second draft."`) {
		t.Fatalf("status = %d body=%s", status, body)
	}

	waitFor(t, func() bool { return ts.records.len() == 2 })
	status, body = ts.do(t, http.MethodGet, "/v1/targets/T/sessions", nil)
	if status != http.StatusOK || !strings.Contains(body, `"create_count":1`) || !strings.Contains(body, `"persist_op":"update"`) {
		t.Fatalf("history status = %d body=%s", status, body)
	}
}

func TestGenerateFailures(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{}, false)

	status, _ := ts.do(t, http.MethodPost, "/v1/targets/T/generate", map[string]any{"variables": map[string]string{}})
	if status != http.StatusBadRequest {
		t.Fatalf("missing template_id: status = %d", status)
	}

	_, body := ts.do(t, http.MethodPost, "/v1/targets/T/generate", map[string]any{"template_id": "unknown"})
	term := lastEvent(body, "terminal")
	if term["state"] != "failed" || term["error_code"] != "3001" {
		t.Fatalf("terminal = %v", term)
	}

	ts.transport.set(false, "  ", "\n")
	_, body = ts.do(t, http.MethodPost, "/v1/targets/T/generate", generateBody())
	if term := lastEvent(body, "terminal"); term["state"] != "failed" || term["error_code"] != "4002" {
		t.Fatalf("empty result terminal = %v", term)
	}
	if creates, _ := ts.docs.counts(); creates != 0 {
		t.Fatalf("creates = %d, want 0", creates)
	}

	if status, _ := ts.do(t, http.MethodGet, "/v1/targets/other", nil); status != http.StatusNotFound {
		t.Fatalf("unknown target status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/v1/targets/other/regenerate", nil); status != http.StatusNotFound {
		t.Fatalf("regenerate unknown target status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/v1/targets/T/persist", nil); status != http.StatusConflict {
		t.Fatalf("retry persist status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodGet, "/v1/targets/T/sessions", nil); status != http.StatusServiceUnavailable {
		t.Fatalf("history without audit status = %d", status)
	}
}

func TestCancelEndsStreamWithoutPersisting(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{}, false)
	ts.transport.set(true)

	done := make(chan string, 1)
	go func() {
		_, body := ts.do(t, http.MethodPost, "/v1/targets/T/generate", generateBody())
		done <- body
	}()
	<-ts.transport.opened

	status, body := ts.do(t, http.MethodDelete, "/v1/targets/T/generation", nil)
	if status != http.StatusOK || !strings.Contains(body, `"cancelled":true`) {
		t.Fatalf("cancel status = %d body=%s", status, body)
	}

	select {
	case body := <-done:
		if term := lastEvent(body, "terminal"); term["state"] != "cancelled" {
			t.Fatalf("terminal = %v", term)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
	if creates, updates := ts.docs.counts(); creates+updates != 0 {
		t.Fatalf("persisted after cancel: creates=%d updates=%d", creates, updates)
	}

	_, body = ts.do(t, http.MethodDelete, "/v1/targets/T/generation", nil)
	if !strings.Contains(body, `"cancelled":false`) {
		t.Fatalf("second cancel body = %s", body)
	}
}

func TestBindThenGenerateUpdates(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{}, false)

	if status, _ := ts.do(t, http.MethodPut, "/v1/targets/T/binding", map[string]string{}); status != http.StatusBadRequest {
		t.Fatalf("empty binding status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPut, "/v1/targets/T/binding", map[string]string{"document_id": "doc-77"}); status != http.StatusNoContent {
		t.Fatalf("binding status = %d", status)
	}

	ts.transport.set(false, "Bound letter.")
	_, body := ts.do(t, http.MethodPost, "/v1/targets/T/generate", generateBody())
	if term := lastEvent(body, "terminal"); term["document_id"] != "doc-77" {
		t.Fatalf("terminal = %v", term)
	}
	if creates, updates := ts.docs.counts(); creates != 0 || updates != 1 {
		t.Fatalf("creates=%d updates=%d", creates, updates)
	}

	if status, _ := ts.do(t, http.MethodDelete, "/v1/targets/T/binding", nil); status != http.StatusNoContent {
		t.Fatalf("unbind status = %d", status)
	}
	_, body = ts.do(t, http.MethodPost, "/v1/targets/T/generate", generateBody())
	if term := lastEvent(body, "terminal"); term["document_id"] != "doc-1" {
		t.Fatalf("terminal after unbind = %v", term)
	}
	if creates, updates := ts.docs.counts(); creates != 1 || updates != 1 {
		t.Fatalf("after unbind creates=%d updates=%d", creates, updates)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{}, false)

	status, body := ts.do(t, http.MethodGet, "/v1/templates/clinical", nil)
	if status != http.StatusOK || !strings.Contains(body, `"dictation"`) || !strings.Contains(body, `"id":"clinical"`) {
		t.Fatalf("status = %d body=%s", status, body)
	}
	if status, _ := ts.do(t, http.MethodGet, "/v1/templates/missing", nil); status != http.StatusNotFound {
		t.Fatalf("missing template status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodDelete, "/v1/templates/clinical", nil); status != http.StatusNoContent {
		t.Fatalf("invalidate status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodDelete, "/v1/templates", nil); status != http.StatusNoContent {
		t.Fatalf("invalidate all status = %d", status)
	}
}

func TestSystemEndpointsAndAuth(t *testing.T) {
	ts := newTestServer(t, middleware.AuthConfig{Required: true, SkipPaths: middleware.DefaultSkipPaths}, false)

	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		if status, body := ts.do(t, http.MethodGet, path, nil); status != http.StatusOK {
			t.Fatalf("%s status = %d body=%s", path, status, body)
		}
	}
	if status, _ := ts.do(t, http.MethodGet, "/v1/templates/clinical", nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", status)
	}
}
