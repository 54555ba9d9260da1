package grammar

import (
	"context"
	"testing"
)

func TestWorker_EmptyTextPassthrough(t *testing.T) {
	w := New("test-key")
	corrected, changed := w.CorrectFinal(context.Background(), "")
	if corrected != "" || changed {
		t.Fatalf("expected untouched empty text, got %q changed=%v", corrected, changed)
	}
}

func TestWorker_CacheHitSkipsClient(t *testing.T) {
	w := New("test-key")
	w.cache.put("cached input", result{text: "Cached input.", changed: true})

	corrected, changed := w.CorrectFinal(context.Background(), "cached input")
	if corrected != "Cached input." || !changed {
		t.Fatalf("expected cached result, got %q changed=%v", corrected, changed)
	}
}

func TestWorker_WithModelOverride(t *testing.T) {
	w := New("test-key").WithModel("gpt-4o")
	if string(w.model) != "gpt-4o" {
		t.Fatalf("expected model override to stick, got %q", w.model)
	}
}
