package tracer

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1:   "AlwaysOnSampler",
		2:   "AlwaysOnSampler",
		0:   "AlwaysOffSampler",
		-1:  "AlwaysOffSampler",
		0.5: "TraceIDRatioBased",
	}
	for rate, want := range cases {
		desc := Sampler(rate).Description()
		if !strings.HasPrefix(desc, "ParentBased") || !strings.Contains(desc, want) {
			t.Errorf("Sampler(%v) = %s, want ParentBased with %s", rate, desc, want)
		}
	}
}

func TestDisabledInit(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "letter-engine"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestFailAndTraceID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	if TraceID(ctx) == "" {
		t.Fatal("trace id should be set inside a span")
	}
	Fail(span, errors.New("boom"))
	Fail(span, nil)
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Status().Description != "boom" || len(ended[0].Events()) != 1 {
		t.Fatalf("unexpected span: %+v", ended)
	}
	if TraceID(context.Background()) != "" {
		t.Fatal("trace id should be empty without span")
	}
}
