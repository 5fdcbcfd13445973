package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"letter-stream-engine/internal/domain/entity"
	apperrors "letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/utils"
)

type recorder struct {
	mu        sync.Mutex
	fragments []string
	completes int
	errs      []error
	done      chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) OnFragment(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments = append(r.fragments, text)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	r.completes++
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func (r *recorder) snapshot() ([]string, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fragments...), r.completes, append([]error(nil), r.errs...)
}

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransport(url string, token string) *SSETransport {
	return NewSSETransport(SSEConfig{
		BaseURL:     url,
		StreamPath:  "/generate/stream",
		Credentials: utils.ForwardedToken{Fallback: token},
	})
}

func testRequest() entity.StreamRequest {
	return entity.StreamRequest{
		SessionID:       "s-1",
		TargetID:        "letter-1",
		TemplateID:      "clinical",
		TemplateVersion: 3,
		Instruction:     "Write for Ana",
		RoleText:        "assistant",
		Temperature:     0.2,
		MaxTokens:       500,
	}
}

func TestSSETransportDeliversFragmentsInOrder(t *testing.T) {
	srv := sseServer(t,
		"data: {\"success\":true,\"isComplete\":false,\"content\":\"A\"}\n\n",
		": keep-alive\n\n",
		"data: not-json\n\n",
		"data: {\"content\":\"B\"}\n\n",
		"data: [1,2]\n\n",
		"data: {\"content\":\"C\"}\n\n",
		"data: {\"success\":true,\"isComplete\":true,\"content\":\"ABC\"}\n\n",
		"data: {\"content\":\"late\"}\n\n",
	)
	rec := newRecorder()
	newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)
	rec.wait(t)

	frags, completes, errs := rec.snapshot()
	if strings.Join(frags, "") != "ABC" || len(frags) != 3 {
		t.Fatalf("fragments = %q", frags)
	}
	if completes != 1 || len(errs) != 0 {
		t.Fatalf("completes=%d errs=%v", completes, errs)
	}
}

func TestSSETransportTerminalNewContent(t *testing.T) {
	srv := sseServer(t,
		"data: {\"content\":\"Hello\"}\n\n",
		"data: {\"isComplete\":true,\"isNewContent\":true,\"content\":\" world\"}\n\n",
	)
	rec := newRecorder()
	newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)
	rec.wait(t)

	frags, completes, _ := rec.snapshot()
	if strings.Join(frags, "") != "Hello world" || completes != 1 {
		t.Fatalf("fragments=%q completes=%d", frags, completes)
	}
}

func TestSSETransportFailureFrame(t *testing.T) {
	srv := sseServer(t,
		"data: {\"content\":\"A\"}\n\n",
		"data: {\"success\":false,\"error\":\"model overloaded\"}\n\n",
		"data: {\"content\":\"B\"}\n\n",
	)
	rec := newRecorder()
	newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)
	rec.wait(t)

	frags, completes, errs := rec.snapshot()
	if len(frags) != 1 || completes != 0 || len(errs) != 1 {
		t.Fatalf("fragments=%q completes=%d errs=%v", frags, completes, errs)
	}
	if !errors.Is(errs[0], apperrors.ErrTransport) || !strings.Contains(errs[0].Error(), "model overloaded") {
		t.Fatalf("err = %v", errs[0])
	}
}

func TestSSETransportEOFWithoutTerminal(t *testing.T) {
	srv := sseServer(t, "data: {\"content\":\"partial\"}\n\n")
	rec := newRecorder()
	newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)
	rec.wait(t)

	_, completes, errs := rec.snapshot()
	if completes != 0 || len(errs) != 1 || !errors.Is(errs[0], apperrors.ErrTransport) {
		t.Fatalf("completes=%d errs=%v", completes, errs)
	}
}

func TestSSETransportMissingCredential(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	rec := newRecorder()
	h := newTestTransport(srv.URL, "").Open(context.Background(), testRequest(), rec)

	// 前置条件失败必须在 Open 返回前派发
	select {
	case <-rec.done:
	default:
		t.Fatal("auth error was not delivered before Open returned")
	}
	_, _, errs := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], apperrors.ErrAuthMissing) {
		t.Fatalf("errs = %v", errs)
	}
	h.Close()
	h.Close()
	if hits != 0 {
		t.Fatal("transport connected without credential")
	}
}

func TestSSETransportExpiredToken(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec := newRecorder()
	newTestTransport("http://127.0.0.1:1", "").Open(utils.WithToken(context.Background(), signed), testRequest(), rec)
	rec.wait(t)
	_, _, errs := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], apperrors.ErrAuthMissing) {
		t.Fatalf("errs = %v", errs)
	}
}

func TestSSETransportUnauthorizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := newRecorder()
	newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)
	rec.wait(t)
	_, _, errs := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], apperrors.ErrAuthMissing) {
		t.Fatalf("errs = %v", errs)
	}
}

func TestSSETransportRequestShape(t *testing.T) {
	type captured struct {
		body   string
		header http.Header
		path   string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- captured{body: string(b), header: r.Header.Clone(), path: r.URL.Path}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"isComplete\":true}\n\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	newTestTransport(srv.URL, "").Open(utils.WithToken(context.Background(), "user-token"), testRequest(), rec)
	rec.wait(t)

	c := <-got
	body, header, path := c.body, c.header, c.path
	if path != "/generate/stream" {
		t.Fatalf("path = %q", path)
	}
	if header.Get("Authorization") != "Bearer user-token" || header.Get("Accept") != "text/event-stream" {
		t.Fatalf("headers = %v", header)
	}
	doc := gjson.Parse(body)
	if doc.Get("messages.0.role").String() != "system" || doc.Get("messages.0.content").String() != "assistant" {
		t.Fatalf("system message missing: %s", body)
	}
	if doc.Get("messages.1.content").String() != "Write for Ana" {
		t.Fatalf("instruction missing: %s", body)
	}
	if doc.Get("maxTokens").Int() != 500 || doc.Get("temperature").Float() != 0.2 {
		t.Fatalf("generation params missing: %s", body)
	}
	if doc.Get("metadata.targetId").String() != "letter-1" || doc.Get("metadata.templateVersion").String() != "3" {
		t.Fatalf("metadata missing: %s", body)
	}
}

func TestSSETransportCloseStopsDelivery(t *testing.T) {
	unblock := make(chan struct{})
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"A\"}\n\n")
		flusher.Flush()
		select {
		case <-unblock:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "data: {\"content\":\"B\"}\n\n")
		fmt.Fprint(w, "data: {\"isComplete\":true}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	rec := newRecorder()
	h := newTestTransport(srv.URL, "opaque").Open(context.Background(), testRequest(), rec)

	deadline := time.Now().Add(3 * time.Second)
	for {
		frags, _, _ := rec.snapshot()
		if len(frags) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first fragment not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Close()
	close(unblock)
	<-served
	time.Sleep(50 * time.Millisecond)
	h.Close()

	frags, completes, errs := rec.snapshot()
	if len(frags) != 1 || completes != 0 || len(errs) != 0 {
		t.Fatalf("events after Close: fragments=%q completes=%d errs=%v", frags, completes, errs)
	}
}

type closeRaceObserver struct {
	fragments     atomic.Int64
	afterClose    atomic.Int64
	closeReturned atomic.Bool
	ready         chan struct{}
	once          sync.Once
}

func (o *closeRaceObserver) OnFragment(string) {
	if o.closeReturned.Load() {
		o.afterClose.Add(1)
	}
	if o.fragments.Add(1) == 100 {
		o.once.Do(func() { close(o.ready) })
	}
}

func (o *closeRaceObserver) OnComplete()   {}
func (o *closeRaceObserver) OnError(error) {}

func TestSSETransportCloseWaitsForInflightFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 200000; i++ {
			if r.Context().Err() != nil {
				return
			}
			fmt.Fprint(w, "data: {\"content\":\"x\"}\n\n")
			if i%16 == 0 {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	tr := newTestTransport(srv.URL, "opaque")
	for i := 0; i < 50; i++ {
		obs := &closeRaceObserver{ready: make(chan struct{})}
		h := tr.Open(context.Background(), testRequest(), obs)
		select {
		case <-obs.ready:
		case <-time.After(3 * time.Second):
			t.Fatal("fragments not delivered")
		}
		h.Close()
		obs.closeReturned.Store(true)
		time.Sleep(2 * time.Millisecond)

		if n := obs.afterClose.Load(); n != 0 {
			t.Fatalf("iteration %d: %d fragments delivered after Close returned", i, n)
		}
	}
}
