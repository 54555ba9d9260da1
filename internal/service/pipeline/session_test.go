package pipeline

import "testing"

func newTestSession(broadcaster *fakeBroadcaster) *Session {
	return NewSession("session-1", func() string { return "en-US" }, nil, nil, broadcaster, nil, nil)
}

func TestSession_OnPartial_EmitsThroughDispatcherWhenNoForcedBuffer(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(1)

	s.OnPartial(1, "hello")

	if len(broadcaster.toHost) != 1 || !broadcaster.toHost[0].IsPartial || broadcaster.toHost[0].OriginalText != "hello" {
		t.Fatalf("expected a partial broadcast to the host, got %+v", broadcaster.toHost)
	}
}

func TestSession_OnFinal_OpensPendingAndForceCommitFlushesIt(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(1)

	s.OnFinal(1, "hello there", 0.9)
	if len(broadcaster.toHost) != 0 {
		t.Fatalf("expected the natural final to wait for its finalization deadline, got %+v", broadcaster.toHost)
	}

	s.ForceCommit()

	if len(broadcaster.toHost) != 1 {
		t.Fatalf("expected ForceCommit to flush the pending final immediately, got %d messages", len(broadcaster.toHost))
	}
	msg := broadcaster.toHost[0]
	if msg.OriginalText != "hello there" || msg.IsPartial || msg.ForceFinal {
		t.Errorf("unexpected flushed final: %+v", msg)
	}
}

func TestSession_OnForcedRestart_UsesPendingFinalizationAsCandidate(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(2)
	s.OnFinal(2, "the weather today", 0.9)

	s.OnForcedRestart(2)

	if len(broadcaster.toHost) != 0 {
		t.Fatalf("expected the forced restart to withhold any broadcast until phase 2/recovery resolves, got %d messages", len(broadcaster.toHost))
	}
	if !s.forced.HasActiveBuffer(2) {
		t.Error("expected the pending final to become an outstanding forced buffer")
	}
	text, segID, _, ok := s.forced.Flush()
	if !ok || text != "the weather today" || segID != 2 {
		t.Errorf("unexpected forced buffer contents: text=%q segID=%d ok=%v", text, segID, ok)
	}
}

func TestSession_OnForcedRestart_FallsBackToLongestPartial(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(3)
	s.OnPartial(3, "the cat")
	s.OnPartial(3, "the cat sat on the mat")

	s.OnForcedRestart(3)

	for _, msg := range broadcaster.toHost {
		if !msg.IsPartial {
			t.Fatalf("expected no synchronous final broadcast, got %+v", msg)
		}
	}
	text, segID, _, ok := s.forced.Flush()
	if !ok || text != "the cat sat on the mat" || segID != 3 {
		t.Errorf("expected the forced restart to fall back to the longest tracked partial, got text=%q segID=%d ok=%v", text, segID, ok)
	}
}

func TestSession_OnForcedRestart_NoCandidateDoesNothing(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(9)

	s.OnForcedRestart(9)

	if len(broadcaster.toHost) != 0 {
		t.Errorf("expected no broadcast when nothing was pending or tracked, got %+v", broadcaster.toHost)
	}
}

func TestSession_OnSegmentDropped_DiscardsPendingWithoutCommitting(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(4)
	s.OnFinal(4, "hello there", 0.9)

	s.OnSegmentDropped(4, "silence")
	s.ForceCommit()

	if len(broadcaster.toHost) != 0 {
		t.Errorf("expected the dropped segment's pending final to never be committed, got %+v", broadcaster.toHost)
	}
}

func TestSession_Close_FlushesBothPendingFinalizationAndForcedBuffer(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)

	s.OnSegmentStarted(1)
	s.OnFinal(1, "the weather today", 0.9)
	s.OnForcedRestart(1) // moves segment 1's pending final into an outstanding forced buffer

	s.OnSegmentStarted(2)
	s.OnFinal(2, "second segment text", 0.85) // opens a fresh pending finalization for segment 2

	s.Close()

	var sawNatural bool
	forcedCount := 0
	for _, msg := range broadcaster.toHost {
		if msg.OriginalText == "second segment text" && !msg.ForceFinal {
			sawNatural = true
		}
		if msg.OriginalText == "the weather today" && msg.ForceFinal {
			forcedCount++
		}
	}
	if !sawNatural {
		t.Error("expected Close to flush the still-pending natural finalization for segment 2")
	}
	// The forced buffer opened by OnForcedRestart never broadcasts on its
	// own; Close flushing it directly is the only source of this final,
	// so it must appear exactly once.
	if forcedCount != 1 {
		t.Errorf("expected exactly one Close-flushed forced final, got %d forced broadcasts", forcedCount)
	}
}

func TestSession_OnFinal_DuringForcedBufferNotifiesRecoveryInstead(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	s := newTestSession(broadcaster)
	s.OnSegmentStarted(1)
	s.OnFinal(1, "the weather today", 0.9)
	s.OnForcedRestart(1) // opens the forced buffer for segment 1

	before := len(broadcaster.toHost)
	s.OnFinal(1, "the weather today is lovely", 0.9)

	if len(broadcaster.toHost) != before {
		t.Errorf("expected a related final arriving during an outstanding forced buffer to be folded in rather than broadcast again, got %+v", broadcaster.toHost)
	}
}
