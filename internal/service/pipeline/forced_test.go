package pipeline

import (
	"testing"
	"time"
)

func TestAudioWindowBuffer_PreRollReturnsRecentChunks(t *testing.T) {
	buf := NewAudioWindowBuffer(time.Second)
	buf.Append([]byte("abc"))
	buf.Append([]byte("def"))

	out := buf.PreRoll(500 * time.Millisecond)
	if string(out) != "abcdef" {
		t.Errorf("expected both recent chunks concatenated in order, got %q", out)
	}
}

func TestAudioWindowBuffer_DropsStaleChunks(t *testing.T) {
	buf := NewAudioWindowBuffer(20 * time.Millisecond)
	buf.Append([]byte("old"))
	time.Sleep(40 * time.Millisecond)
	buf.Append([]byte("new"))

	out := buf.PreRoll(time.Second)
	if string(out) != "new" {
		t.Errorf("expected stale chunk to be trimmed on the next append, got %q", out)
	}
}

func TestAudioWindowBuffer_IgnoresEmptyAppend(t *testing.T) {
	buf := NewAudioWindowBuffer(time.Second)
	buf.Append(nil)
	buf.Append([]byte{})
	if out := buf.PreRoll(time.Second); len(out) != 0 {
		t.Errorf("expected no chunks recorded, got %q", out)
	}
}

func newTestForcedEngine() (*ForcedEngine, chan string) {
	committed := make(chan string, 4)
	finalization := NewFinalizationEngine(NewTracker(), nil)
	window := NewAudioWindowBuffer(time.Second)
	e := NewForcedEngine(finalization, NewTracker(), window, func(text string, segmentID uint64, predecessor LastSent, byRecovery bool) {
		committed <- text
	}, nil)
	return e, committed
}

func TestForcedEngine_HandleForcedFinal_WithholdsCommitUntilPhase2(t *testing.T) {
	e, committed := newTestForcedEngine()

	e.HandleForcedFinal("the weather today", 1, LastSent{})

	select {
	case text := <-committed:
		t.Fatalf("expected no commit before phase 2 resolves, got %q", text)
	default:
	}

	if !e.HasActiveBuffer(1) {
		t.Error("expected a forced buffer to be outstanding for segment 1")
	}
}

func TestForcedEngine_HandleFinalDuringBuffer_MergesRelatedText(t *testing.T) {
	e, _ := newTestForcedEngine()
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	merged, handled := e.HandleFinalDuringBuffer("the weather today is lovely", 1)
	if !handled {
		t.Fatal("expected a lexically related final to be folded into the buffer")
	}
	if merged != "the weather today is lovely" {
		t.Errorf("unexpected merged text: %q", merged)
	}
}

func TestForcedEngine_HandleFinalDuringBuffer_IgnoresUnrelatedText(t *testing.T) {
	e, _ := newTestForcedEngine()
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	_, handled := e.HandleFinalDuringBuffer("completely unrelated sentence here", 1)
	if handled {
		t.Error("expected an unrelated final to not be folded into the buffer")
	}
}

func TestForcedEngine_HandleFinalDuringBuffer_NoBufferMeansNotHandled(t *testing.T) {
	e, _ := newTestForcedEngine()
	_, handled := e.HandleFinalDuringBuffer("anything at all", 1)
	if handled {
		t.Error("expected no active buffer to mean not handled")
	}
}

func TestForcedEngine_ResolveRecovery_CommitsAndClearsBuffer(t *testing.T) {
	e, _ := newTestForcedEngine()
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	committedRecovered := make(chan string, 1)
	e.ResolveRecovery(1, "the weather today is lovely", true, func(text string, segmentID uint64, predecessor LastSent, byRecovery bool) {
		if !byRecovery {
			t.Error("expected the recovery resolution to be flagged as committed by recovery")
		}
		committedRecovered <- text
	})

	select {
	case text := <-committedRecovered:
		if text != "the weather today is lovely" {
			t.Errorf("unexpected recovered commit text: %q", text)
		}
	default:
		t.Fatal("expected ResolveRecovery to invoke the commit callback")
	}

	if e.HasActiveBuffer(1) {
		t.Error("expected the buffer to be cleared after recovery resolves")
	}
}

func TestForcedEngine_Discard_ClearsBufferWithoutCommitting(t *testing.T) {
	e, _ := newTestForcedEngine()
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	e.Discard(1)

	if e.HasActiveBuffer(1) {
		t.Error("expected Discard to clear the outstanding buffer")
	}
	if _, _, _, ok := e.Flush(); ok {
		t.Error("expected nothing left to flush after Discard")
	}
}

func TestForcedEngine_Flush_ReturnsBufferedTextAndPredecessor(t *testing.T) {
	e, _ := newTestForcedEngine()
	opened := time.Now().Add(-time.Second)
	e.HandleForcedFinal("the weather today", 1, LastSent{
		OriginalText: "previous segment text",
		FinalText:    "Previous segment text.",
		FinalTime:    opened,
	})

	text, segID, pred, ok := e.Flush()
	if !ok {
		t.Fatal("expected a buffer to flush")
	}
	if text != "the weather today" || segID != 1 {
		t.Errorf("unexpected flush result: text=%q segID=%d", text, segID)
	}
	if pred.OriginalText != "previous segment text" || pred.FinalText != "Previous segment text." || !pred.FinalTime.Equal(opened) {
		t.Errorf("expected the predecessor captured at buffer-open time, got %+v", pred)
	}
	if e.HasActiveBuffer(1) {
		t.Error("expected Flush to clear the buffer")
	}
}

func TestForcedEngine_Flush_NothingBuffered(t *testing.T) {
	e, _ := newTestForcedEngine()
	if _, _, _, ok := e.Flush(); ok {
		t.Error("expected Flush on an idle engine to report nothing")
	}
}

func TestForcedEngine_HandleForcedFinal_PromotesVerifiablyExtendingPartial(t *testing.T) {
	committed := make(chan string, 4)
	finalization := NewFinalizationEngine(NewTracker(), nil)
	partials := NewTracker()
	window := NewAudioWindowBuffer(time.Second)
	e := NewForcedEngine(finalization, partials, window, func(text string, segmentID uint64, predecessor LastSent, byRecovery bool) {
		committed <- text
	}, nil)

	partials.Update("the weather today is absolutely lovely")
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	text, _, _, ok := e.Flush()
	if !ok || text != "the weather today is absolutely lovely" {
		t.Errorf("expected the fresh, verifiably extending partial to replace the forced text, got %q ok=%v", text, ok)
	}
}

func TestForcedEngine_HandleForcedFinal_IgnoresUnrelatedLongerPartial(t *testing.T) {
	committed := make(chan string, 4)
	finalization := NewFinalizationEngine(NewTracker(), nil)
	partials := NewTracker()
	window := NewAudioWindowBuffer(time.Second)
	e := NewForcedEngine(finalization, partials, window, func(text string, segmentID uint64, predecessor LastSent, byRecovery bool) {
		committed <- text
	}, nil)

	partials.Update("a completely different sentence about something else entirely")
	e.HandleForcedFinal("the weather today", 1, LastSent{})

	text, _, _, ok := e.Flush()
	if !ok || text != "the weather today" {
		t.Errorf("expected an unrelated partial to never replace the forced text, got %q ok=%v", text, ok)
	}
}
