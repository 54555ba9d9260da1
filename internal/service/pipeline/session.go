package pipeline

import (
	"sync"

	"ai-speech-translate-core/internal/observability/logging"
	"ai-speech-translate-core/internal/observability/metrics"
)

// Session wires the Timeline, Partial Tracker, Finalization Engine,
// Forced Commit Engine, Recovery Stream Engine, and Result Dispatcher
// into one per-connection pipeline. It implements the audio.Sink
// interface structurally (OnPartial/OnFinal/OnForcedRestart/
// OnSegmentDropped/OnSegmentStarted), so an audio.Handler can drive it
// directly without this package importing the audio package.
type Session struct {
	mu sync.Mutex

	sessionID string

	timeline     *Timeline
	partials     *Tracker
	finalization *FinalizationEngine
	forced       *ForcedEngine
	recovery     *RecoveryEngine
	dispatcher   *Dispatcher
	window       *AudioWindowBuffer

	currentSegment uint64
}

// NewSession wires a complete pipeline for one host connection.
// transcriber may be nil, in which case no secondary transcription runs
// and each forced final commits its buffered text (the forced hypothesis,
// possibly extended by a tracked partial) once phase 2 completes.
func NewSession(sessionID string, sourceLang func() string, grammar GrammarWorker, translation TranslationWorker, broadcaster Broadcaster, persister Persister, transcriber RecoveryTranscriber) *Session {
	timeline := NewTimeline()
	partials := NewTracker()
	dispatcher := NewDispatcher(sessionID, sourceLang, timeline, grammar, translation, broadcaster, persister)
	finalization := NewFinalizationEngine(partials, dispatcher.CommitNaturalFinal)
	window := NewAudioWindowBuffer(0)
	forced := NewForcedEngine(finalization, partials, window, dispatcher.CommitForcedFinal, nil)
	recovery := NewRecoveryEngine(transcriber, forced, dispatcher.CommitForcedFinal, sourceLang)
	forced.SetRecovery(recovery)

	logger := logging.WithPipeline(sessionID)
	dispatcher.SetLogger(logger)
	finalization.SetLogger(logger)
	forced.SetLogger(logger)
	recovery.SetLogger(logger)
	dispatcher.SetMetrics(metrics.DefaultMetrics)
	finalization.SetMetrics(metrics.DefaultMetrics)
	forced.SetMetrics(metrics.DefaultMetrics)
	recovery.SetMetrics(metrics.DefaultMetrics)

	return &Session{
		sessionID:    sessionID,
		timeline:     timeline,
		partials:     partials,
		finalization: finalization,
		forced:       forced,
		recovery:     recovery,
		dispatcher:   dispatcher,
		window:       window,
	}
}

// OnSegmentStarted fences the engines to a newly opened segment.
func (s *Session) OnSegmentStarted(segmentID uint64) {
	s.mu.Lock()
	s.currentSegment = segmentID
	s.mu.Unlock()
	s.finalization.SetSegment(segmentID)
	s.partials.Reset()
}

// OnPartial feeds a live hypothesis through the Partial Tracker and on
// to the dispatcher, and forwards it as a recovery hint if a forced
// buffer is currently awaiting recovery for this segment.
func (s *Session) OnPartial(segmentID uint64, text string) {
	s.partials.Update(text)
	if s.forced.HasActiveBuffer(segmentID) {
		s.recovery.NotifyDuringRecovery(segmentID, text)
		return
	}
	s.dispatcher.EmitPartial(segmentID, text)
}

// OnFinal processes a natural (non-forced) final.
func (s *Session) OnFinal(segmentID uint64, text string, confidence float64) {
	if merged, handled := s.forced.HandleFinalDuringBuffer(text, segmentID); handled {
		s.recovery.NotifyDuringRecovery(segmentID, merged)
		return
	}
	lastSent := s.dispatcher.LastSentSnapshot()
	s.finalization.HandleStable(text, segmentID, lastSent)
}

// OnForcedRestart processes the forced-commit signal raised just before
// the underlying decoder stream is torn down and replaced.
func (s *Session) OnForcedRestart(segmentID uint64) {
	candidate := s.bestCandidate(segmentID)
	if candidate == "" {
		return
	}
	lastSent := s.dispatcher.LastSentSnapshot()
	s.forced.HandleForcedFinal(candidate, segmentID, lastSent)
}

// bestCandidate picks the most authoritative text known for segmentID
// at the moment of a forced restart: a still-pending finalization first,
// falling back to the longest, then latest, tracked partial.
func (s *Session) bestCandidate(segmentID uint64) string {
	if text, segID, ok := s.finalization.Flush(); ok && segID == segmentID {
		return text
	}
	snap := s.partials.Snapshot()
	if snap.LongestText != "" {
		return snap.LongestText
	}
	return snap.LatestText
}

// OnSegmentDropped discards any in-flight state for segmentID without
// committing it ("silence > bad data").
func (s *Session) OnSegmentDropped(segmentID uint64, reason string) {
	s.finalization.CancelPending()
	s.forced.Discard(segmentID)
}

// ObserveAudio feeds the rolling pre-roll window used by forced
// recovery captures. Callers should invoke this for every audio chunk
// handed to the STT adapter.
func (s *Session) ObserveAudio(data []byte) {
	s.forced.ObserveAudio(data)
}

// ForceCommit flushes any pending finalization or outstanding forced
// buffer immediately, bypassing wait deadlines and recovery, in
// response to an explicit host request.
func (s *Session) ForceCommit() {
	if text, segID, ok := s.finalization.Flush(); ok {
		s.dispatcher.CommitNaturalFinal(text, segID)
	}
	if text, segID, pred, ok := s.forced.Flush(); ok {
		s.dispatcher.CommitForcedFinal(text, segID, pred, false)
	}
}

// Close flushes any outstanding pending finalization or forced buffer
// so a disconnecting host never silently loses buffered speech, then
// cancels whatever partial update pass was still in flight.
func (s *Session) Close() {
	if text, segID, ok := s.finalization.Flush(); ok {
		s.dispatcher.CommitNaturalFinal(text, segID)
	}
	if text, segID, pred, ok := s.forced.Flush(); ok {
		s.dispatcher.CommitForcedFinal(text, segID, pred, false)
	}
	s.dispatcher.Close()
}
