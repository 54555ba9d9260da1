package pipeline

import (
	"testing"
	"time"
)

func TestComputeWait(t *testing.T) {
	short := computeWait("Hello.")
	if short != BaseWaitMs*time.Millisecond {
		t.Errorf("expected short punctuated text to use the base wait, got %v", short)
	}

	unpunctuated := computeWait("hello there")
	if unpunctuated < 1500*time.Millisecond {
		t.Errorf("expected an unpunctuated short text to extend past the base wait, got %v", unpunctuated)
	}

	long := computeWait(string(make([]byte, LongTextThreshold)) + ".")
	if long != LongTextWaitMs*time.Millisecond {
		t.Errorf("expected a long punctuated text to use the long-text wait, got %v", long)
	}

	veryLong := computeWait(string(make([]byte, VeryLongTextThreshold+1000)) + ".")
	if veryLong != VeryLongTextWaitCapMs*time.Millisecond {
		t.Errorf("expected a very long text to be capped, got %v", veryLong)
	}
}

func TestIsFalseFinal(t *testing.T) {
	if !isFalseFinal("I've.") {
		t.Error("expected a known incomplete opener to be flagged as a false final")
	}
	if isFalseFinal("The meeting is over.") {
		t.Error("expected a complete sentence to not be flagged as a false final")
	}
	if isFalseFinal("I've been meaning to discuss the quarterly numbers with everyone today.") {
		t.Error("expected a long text to never be flagged as a false final regardless of opener")
	}
	if isFalseFinal("I've been meaning to") {
		t.Error("expected unpunctuated text to not be flagged as a false final")
	}
}

func TestFinalizationEngine_HandleStable_OpensPending(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	e.SetSegment(1)

	if e.HasPending() {
		t.Fatal("expected no pending finalization before any stable arrives")
	}

	e.HandleStable("hello there", 1, LastSent{})
	if !e.HasPending() {
		t.Fatal("expected a pending finalization after the first stable")
	}

	text, segID, ok := e.Flush()
	if !ok {
		t.Fatal("expected Flush to report a pending finalization")
	}
	if text != "hello there" || segID != 1 {
		t.Errorf("unexpected flush result: text=%q segID=%d", text, segID)
	}
	if e.HasPending() {
		t.Error("expected Flush to clear the pending finalization")
	}
}

func TestFinalizationEngine_ExtendPending_MergesOverlappingStable(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	e.SetSegment(1)

	e.HandleStable("the cat sat on the", 1, LastSent{})
	e.HandleStable("the mat quietly", 1, LastSent{})

	text, _, ok := e.Flush()
	if !ok {
		t.Fatal("expected a pending finalization")
	}
	if text != "the cat sat on the mat quietly" {
		t.Errorf("expected the second stable to merge via overlap, got %q", text)
	}
}

func TestFinalizationEngine_ExtendPending_PrefixReplacement(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	e.SetSegment(1)

	e.HandleStable("the weather", 1, LastSent{})
	e.HandleStable("the weather today is lovely", 1, LastSent{})

	text, _, _ := e.Flush()
	if text != "the weather today is lovely" {
		t.Errorf("expected the longer prefix-matching stable to replace the pending text, got %q", text)
	}
}

func TestFinalizationEngine_DifferentSegmentOpensNewPending(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	e.SetSegment(1)
	e.HandleStable("first segment text", 1, LastSent{})

	e.HandleStable("second segment text", 2, LastSent{})

	text, segID, ok := e.Flush()
	if !ok {
		t.Fatal("expected pending finalization for the new segment")
	}
	if segID != 2 || text != "second segment text" {
		t.Errorf("expected the pending to now belong to segment 2, got text=%q segID=%d", text, segID)
	}
}

func TestFinalizationEngine_CancelPendingDiscards(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	e.SetSegment(1)
	e.HandleStable("hello there", 1, LastSent{})

	e.CancelPending()

	if e.HasPending() {
		t.Error("expected CancelPending to clear pending state")
	}
	if _, _, ok := e.Flush(); ok {
		t.Error("expected nothing to flush after CancelPending")
	}
}

func TestFinalizationEngine_FlushWithNothingPending(t *testing.T) {
	e := NewFinalizationEngine(NewTracker(), nil)
	if _, _, ok := e.Flush(); ok {
		t.Error("expected Flush on an empty engine to report nothing pending")
	}
}

func TestFinalizationEngine_CommitsAfterDeadline(t *testing.T) {
	committed := make(chan string, 1)
	e := NewFinalizationEngine(NewTracker(), func(text string, segmentID uint64) {
		committed <- text
	})
	e.SetSegment(1)
	e.HandleStable("Done.", 1, LastSent{})

	select {
	case text := <-committed:
		if text != "Done." {
			t.Errorf("unexpected committed text: %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the pending finalization to commit after its deadline")
	}

	if e.HasPending() {
		t.Error("expected pending state to clear once committed")
	}
}

func TestFinalizationEngine_ApplyContinuation_MergesWithRecentFinal(t *testing.T) {
	e := NewFinalizationEngine(nil, nil)
	last := LastSent{
		FinalText: "the cat sat on the",
		FinalTime: time.Now(),
	}

	merged := e.applyContinuation("the mat", last)
	if merged != "the cat sat on the mat" {
		t.Errorf("expected the overlapping tail to merge onto the recent final, got %q", merged)
	}
}

func TestFinalizationEngine_ApplyContinuation_JoinsUnrelatedTextWithRecentFinal(t *testing.T) {
	// MergeWithOverlap only reports "no progress" when cur contributes
	// nothing new (it is a duplicate or already contained in prev); two
	// genuinely unrelated strings still count as progress and get joined.
	e := NewFinalizationEngine(nil, nil)
	last := LastSent{
		FinalText: "hello there",
		FinalTime: time.Now(),
	}

	text := e.applyContinuation("general kenobi", last)
	if text != "hello theregeneral kenobi" {
		t.Errorf("unexpected continuation join: got %q", text)
	}
}

func TestFinalizationEngine_ApplyContinuation_PrefixExtension(t *testing.T) {
	e := NewFinalizationEngine(nil, nil)
	last := LastSent{
		FinalText: "the weather today is",
		FinalTime: time.Now(),
	}

	extended := e.applyContinuation("the weather today is looking lovely", last)
	if extended != "the weather today is looking lovely" {
		t.Errorf("expected a prefix-extending stable to pass through unchanged, got %q", extended)
	}
}

func TestFinalizationEngine_ApplyContinuation_IgnoresStaleFinal(t *testing.T) {
	e := NewFinalizationEngine(nil, nil)
	last := LastSent{
		FinalText: "the weather today is",
		FinalTime: time.Now().Add(-FinalContinuationWindow - time.Second),
	}

	text := e.applyContinuation("looking lovely", last)
	if text != "looking lovely" {
		t.Errorf("expected a stale last-sent final to not influence continuation, got %q", text)
	}
}
