package handler

import (
	"testing"

	"letter-stream-engine/internal/domain/entity"
)

func TestRelayCoalescesSnapshots(t *testing.T) {
	r := newRelay()
	r.OnSnapshot(entity.Snapshot{Text: "A"})
	r.OnSnapshot(entity.Snapshot{Text: "AB"})
	r.OnSnapshot(entity.Snapshot{Text: "ABC"})

	select {
	case <-r.notify:
	default:
		t.Fatal("relay did not signal")
	}
	snap, term := r.take()
	if snap == nil || snap.Text != "ABC" || term != nil {
		t.Fatalf("snap=%v term=%v", snap, term)
	}
	if snap, _ := r.take(); snap != nil {
		t.Fatalf("snapshot delivered twice: %v", snap)
	}
}

func TestRelayDeliversSnapshotBeforeTerminal(t *testing.T) {
	r := newRelay()
	r.OnSnapshot(entity.Snapshot{Text: "done text", Final: true})
	r.OnTerminal(entity.Terminal{State: entity.SessionStateDone, DocumentID: "doc-1"})

	snap, term := r.take()
	if snap == nil || !snap.Final || term == nil || term.DocumentID != "doc-1" {
		t.Fatalf("snap=%v term=%v", snap, term)
	}
	if len(r.notify) != 1 {
		t.Fatalf("pending notifications = %d, want 1", len(r.notify))
	}
}
