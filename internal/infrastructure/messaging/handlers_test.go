package messaging

import (
	"context"
	"testing"
)

type fakeNotifier struct {
	calls []TemplateChangedMessage
}

func (f *fakeNotifier) NotifyVersion(_ context.Context, id string, version int) bool {
	f.calls = append(f.calls, TemplateChangedMessage{TemplateID: id, Version: version})
	return true
}

func TestTemplateChangedHandler(t *testing.T) {
	n := &fakeNotifier{}
	h := TemplateChangedHandler(n)

	msg, err := NewMessage("m1", TypeTemplateChanged, "", TemplateChangedMessage{TemplateID: "clinical", Version: 4})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(n.calls) != 1 || n.calls[0] != (TemplateChangedMessage{TemplateID: "clinical", Version: 4}) {
		t.Fatalf("calls = %+v", n.calls)
	}

	empty, _ := NewMessage("m2", TypeTemplateChanged, "", TemplateChangedMessage{Version: 1})
	if err := h(context.Background(), empty); err != nil {
		t.Fatalf("message without id should be acknowledged, got %v", err)
	}
	if len(n.calls) != 1 {
		t.Fatalf("notifier called for message without id")
	}

	bad := &Message{ID: "m3", Type: TypeTemplateChanged, Payload: []byte(`"not an object"`)}
	if err := h(context.Background(), bad); err == nil {
		t.Fatal("expected decode error")
	}
}
