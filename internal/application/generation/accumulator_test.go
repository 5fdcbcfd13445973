package generation

import (
	"errors"
	"testing"

	apperrors "letter-stream-engine/pkg/errors"
)

type accResult struct {
	snapshots []string
	finals    []bool
	text      string
	err       error
	finished  int
}

func newTestAccumulator(minChars int) (*Accumulator, *accResult) {
	res := &accResult{}
	acc := NewAccumulator(minChars,
		func(text string, final bool) {
			res.snapshots = append(res.snapshots, text)
			res.finals = append(res.finals, final)
		},
		func(text string, err error) {
			res.text = text
			res.err = err
			res.finished++
		},
	)
	return acc, res
}

func TestAccumulatorOrdering(t *testing.T) {
	acc, res := newTestAccumulator(1)
	for _, f := range []string{"A", "B", "C"} {
		acc.OnFragment(f)
	}
	acc.OnComplete()

	want := []string{"A", "AB", "ABC", "ABC"}
	if len(res.snapshots) != len(want) {
		t.Fatalf("snapshots = %q", res.snapshots)
	}
	for i := range want {
		if res.snapshots[i] != want[i] {
			t.Fatalf("snapshot %d = %q, want %q", i, res.snapshots[i], want[i])
		}
	}
	if !res.finals[3] || res.finals[2] {
		t.Fatalf("final flags = %v", res.finals)
	}
	if res.text != "ABC" || res.err != nil || res.finished != 1 {
		t.Fatalf("finished text=%q err=%v count=%d", res.text, res.err, res.finished)
	}
	if acc.Fragments() != 3 || acc.text() != "ABC" {
		t.Fatalf("fragments=%d text=%q", acc.Fragments(), acc.text())
	}
}

func TestAccumulatorKeepsWhitespaceVerbatim(t *testing.T) {
	acc, res := newTestAccumulator(1)
	for _, f := range []string{"<p>", " ", "Hi", "\n", " ", "</p>"} {
		acc.OnFragment(f)
	}
	acc.OnComplete()
	if res.text != "<p> Hi\n </p>" {
		t.Fatalf("text = %q", res.text)
	}
}

func TestAccumulatorEmptyResult(t *testing.T) {
	cases := map[string][]string{
		"no fragments":    nil,
		"whitespace only": {" ", "\n\t"},
	}
	for name, frags := range cases {
		t.Run(name, func(t *testing.T) {
			acc, res := newTestAccumulator(1)
			for _, f := range frags {
				acc.OnFragment(f)
			}
			acc.OnComplete()
			if !errors.Is(res.err, apperrors.ErrEmptyResult) {
				t.Fatalf("err = %v, want EmptyResult", res.err)
			}
			for i, final := range res.finals {
				if final {
					t.Fatalf("final snapshot %d published for empty result", i)
				}
			}
		})
	}
}

func TestAccumulatorMinChars(t *testing.T) {
	acc, res := newTestAccumulator(5)
	acc.OnFragment("abc")
	acc.OnComplete()
	if !errors.Is(res.err, apperrors.ErrEmptyResult) {
		t.Fatalf("err = %v, want EmptyResult", res.err)
	}
}

func TestAccumulatorErrors(t *testing.T) {
	acc, res := newTestAccumulator(1)
	acc.OnFragment("A")
	acc.OnError(errors.New("connection reset"))
	if !errors.Is(res.err, apperrors.ErrTransport) {
		t.Fatalf("err = %v, want TransportError", res.err)
	}

	acc, res = newTestAccumulator(1)
	acc.OnError(apperrors.ErrAuthMissing)
	if !errors.Is(res.err, apperrors.ErrAuthMissing) {
		t.Fatalf("err = %v, want AuthMissing", res.err)
	}
}

func TestAccumulatorIgnoresEventsAfterFinish(t *testing.T) {
	acc, res := newTestAccumulator(1)
	acc.OnFragment("A")
	acc.OnComplete()
	acc.OnFragment("B")
	acc.OnError(errors.New("late"))
	acc.OnComplete()

	if res.finished != 1 || res.err != nil || acc.text() != "A" {
		t.Fatalf("finished=%d err=%v text=%q", res.finished, res.err, acc.text())
	}
	if len(res.snapshots) != 2 {
		t.Fatalf("snapshots = %q", res.snapshots)
	}
}
