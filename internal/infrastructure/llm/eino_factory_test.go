package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"letter-stream-engine/internal/config"
)

func newFactory() *EinoFactory {
	return NewEinoFactory(&config.Config{LLM: config.LLMConfig{
		DefaultProvider: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1", Model: "gpt-4o-mini", MaxTokens: 800, Temperature: 0.7, Timeout: time.Second},
		},
	}})
}

func TestResolveFallsBackToDefault(t *testing.T) {
	f := newFactory()
	if got := f.Resolve("  "); got != "openai" {
		t.Fatalf("Resolve(blank) = %q", got)
	}
	if got := f.Resolve("local"); got != "local" {
		t.Fatalf("Resolve(local) = %q", got)
	}
}

func TestGetCachesModel(t *testing.T) {
	f := newFactory()
	a, err := f.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := f.Get(context.Background(), "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("expected the cached model instance")
	}
}

func TestGetUnknownProvider(t *testing.T) {
	_, err := newFactory().Get(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), `"missing" not configured`) {
		t.Fatalf("err = %v", err)
	}
}
