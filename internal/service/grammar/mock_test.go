package grammar

import (
	"context"
	"testing"
)

func TestMockWorker_CapitalizesAndPunctuates(t *testing.T) {
	w := NewMock()
	corrected, changed := w.CorrectFinal(context.Background(), "hello there")
	if corrected != "Hello there." {
		t.Fatalf("got %q", corrected)
	}
	if !changed {
		t.Fatalf("expected changed=true")
	}
}

func TestMockWorker_LeavesWellFormedTextUnchanged(t *testing.T) {
	w := NewMock()
	corrected, changed := w.CorrectFinal(context.Background(), "Already fine.")
	if corrected != "Already fine." {
		t.Fatalf("got %q", corrected)
	}
	if changed {
		t.Fatalf("expected changed=false for already-correct text")
	}
}

func TestMockWorker_EmptyTextPassthrough(t *testing.T) {
	w := NewMock()
	corrected, changed := w.CorrectFinal(context.Background(), "")
	if corrected != "" || changed {
		t.Fatalf("expected untouched empty text, got %q changed=%v", corrected, changed)
	}
}

func TestMockWorker_PartialCapitalizesWithoutPunctuating(t *testing.T) {
	w := NewMock()
	corrected, changed := w.CorrectPartial(context.Background(), "hello there")
	if corrected != "Hello there" {
		t.Fatalf("got %q", corrected)
	}
	if !changed {
		t.Fatalf("expected changed=true")
	}
}

func TestMockWorker_QuestionMarkPreserved(t *testing.T) {
	w := NewMock()
	corrected, _ := w.CorrectFinal(context.Background(), "are you there?")
	if corrected != "Are you there?" {
		t.Fatalf("got %q", corrected)
	}
}
