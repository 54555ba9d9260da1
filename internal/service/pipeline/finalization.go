package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-translate-core/internal/observability/metrics"
)

// Finalization wait-time constants. These are design-level
// defaults fixed at compile time; NewFinalizationEngine takes no
// per-instance overrides.
const (
	MaxFinalizationWaitMs   = 8000
	BaseWaitMs              = 1000
	LongTextThreshold       = 200
	LongTextWaitMs          = 1800
	VeryLongTextThreshold   = 300
	VeryLongTextWaitCapMs   = 3500
	FalseFinalWaitMs        = 3000
	FinalContinuationWindow = 3000 * time.Millisecond
	longestExtendMaxAge     = 10 * time.Second
	latestExtendMaxAge      = 5 * time.Second
)

// falseFinalOpeners are the known incomplete-utterance openers the
// false-final heuristic matches against. This list is
// English-specific; localization is an open problem and not addressed
// here.
var falseFinalOpeners = []string{
	"i've", "you just", "we have", "i was", "we were", "they were",
	"i am", "we are", "you are", "i have", "we've", "you've", "they've",
	"it was", "i'm", "you're", "we're", "they're",
}

// PendingFinalization is the single per-segment authoritative final text
// awaiting commit, with a reschedulable deadline.
type PendingFinalization struct {
	Text              string
	CreatedAt         time.Time
	MaxWaitDeadline   time.Time
	ExtendedWaitCount int
	IsFalseFinal      bool
	SegmentID         uint64
}

// LastSent is the subset of last-sent tracking state the Finalization
// Engine needs to detect cross-segment continuations.
type LastSent struct {
	OriginalText string
	FinalText    string
	FinalTime    time.Time
}

// CommitFunc is invoked when a pending finalization is ready to commit.
type CommitFunc func(text string, segmentID uint64)

// FinalizationEngine holds the single pending finalization for the
// current segment. It is not safe to share across sessions;
// one instance lives for the lifetime of a pipeline Session and is
// re-armed, not recreated, across segments.
type FinalizationEngine struct {
	mu        sync.Mutex
	partials  *Tracker
	pending   *PendingFinalization
	timer     *time.Timer
	commit    CommitFunc
	segmentID uint64

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewFinalizationEngine creates an engine bound to the given Partial
// Tracker. commit is invoked (off the engine's lock) whenever a final is
// ready to ship.
func NewFinalizationEngine(partials *Tracker, commit CommitFunc) *FinalizationEngine {
	return &FinalizationEngine{partials: partials, commit: commit, logger: zerolog.Nop()}
}

// SetLogger wires a scoped logger into the engine, replacing the no-op
// default.
func (e *FinalizationEngine) SetLogger(l zerolog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = l
}

// SetMetrics wires a Metrics recorder into the engine. A nil
// FinalizationEngine.metrics (the default) disables metrics recording.
func (e *FinalizationEngine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// SetSegment records the live segment id. It cancels nothing: a deadline
// timer checks its captured segment id against the pending finalization,
// not against this id, so an earlier segment's pending text still commits
// on its own schedule unless it was committed, cancelled or replaced
// first.
func (e *FinalizationEngine) SetSegment(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segmentID = id
}

// HasPending reports whether a finalization is currently pending.
func (e *FinalizationEngine) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// CancelPending discards any pending finalization without committing it.
func (e *FinalizationEngine) CancelPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *FinalizationEngine) cancelLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.pending != nil && e.metrics != nil {
		e.metrics.RecordPendingFinalizationClosed()
	}
	e.pending = nil
}

// Flush commits whatever is pending immediately, used on session
// teardown so buffered speech is never silently dropped. Returns false
// if nothing was pending.
func (e *FinalizationEngine) Flush() (string, uint64, bool) {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return "", 0, false
	}
	text, segID := e.pending.Text, e.pending.SegmentID
	e.cancelLocked()
	e.mu.Unlock()
	return text, segID, true
}

// HandleStable processes a newly arrived stable (non-forced) hypothesis.
func (e *FinalizationEngine) HandleStable(text string, segmentID uint64, lastSent LastSent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.segmentID != segmentID {
		e.segmentID = segmentID
	}

	if e.pending == nil {
		text = e.applyContinuation(text, lastSent)
	}

	if e.pending != nil && e.pending.SegmentID == segmentID {
		e.extendPendingLocked(text)
		return
	}

	// No pending for this segment: try partial promotion, then open one.
	text = e.promoteFromPartialsLocked(text)
	e.openPendingLocked(text, segmentID)
}

// applyContinuation handles cross-segment stitching: if the last-sent
// final is recent and this stable either starts with it, or overlaps it
// by MergeWithOverlap, rewrite text to the merged/extended form.
func (e *FinalizationEngine) applyContinuation(text string, lastSent LastSent) string {
	if lastSent.FinalText == "" || lastSent.FinalTime.IsZero() {
		return text
	}
	if time.Since(lastSent.FinalTime) > FinalContinuationWindow {
		return text
	}
	collapsed := CollapseWhitespace(text)
	prevCollapsed := CollapseWhitespace(lastSent.FinalText)
	if hasCaseInsensitivePrefix(collapsed, prevCollapsed) {
		return collapsed
	}
	if merged := MergeWithOverlap(prevCollapsed, collapsed); merged != "" {
		return merged
	}
	return text
}

// extendPendingLocked folds a newly arrived stable into the existing
// pending text for the same segment: by prefix replacement, by overlap
// merge, or — when the new stable is a disjoint continuation chunk of
// the same utterance (no textual overlap, e.g. the provider cut the
// segment slightly early) — by a plain space join, re-arming the
// deadline in every case.
func (e *FinalizationEngine) extendPendingLocked(text string) {
	p := e.pending
	collapsed := CollapseWhitespace(text)
	switch {
	case collapsed == CollapseWhitespace(p.Text):
		// Duplicate resend; no content change, just keep the deadline.
	case hasCaseInsensitivePrefix(collapsed, p.Text):
		p.Text = collapsed
	default:
		if merged := MergeWithOverlap(p.Text, collapsed); merged != "" {
			p.Text = merged
		} else {
			p.Text = CollapseWhitespace(p.Text + " " + collapsed)
		}
	}
	p.ExtendedWaitCount++
	e.rearmLocked(p)
}

// promoteFromPartialsLocked prefers a tracked partial that extends the
// stable text, or overlaps it by MergeWithOverlap.
func (e *FinalizationEngine) promoteFromPartialsLocked(text string) string {
	if e.partials == nil {
		return text
	}
	if ext, ok := e.partials.CheckLongestExtends(text, longestExtendMaxAge); ok {
		return ext.ExtendedText
	}
	if ext, ok := e.partials.CheckLatestExtends(text, latestExtendMaxAge); ok {
		return ext.ExtendedText
	}
	snap := e.partials.Snapshot()
	if snap.LongestText != "" {
		if merged := MergeWithOverlap(text, snap.LongestText); merged != "" {
			return merged
		}
	}
	return text
}

func (e *FinalizationEngine) openPendingLocked(text string, segmentID uint64) {
	now := time.Now()
	p := &PendingFinalization{
		Text:      text,
		CreatedAt: now,
		SegmentID: segmentID,
	}
	if isFalseFinal(text) {
		p.IsFalseFinal = true
	}
	e.pending = p
	if e.metrics != nil {
		e.metrics.RecordPendingFinalizationOpened()
	}
	e.rearmLocked(p)
}

// rearmLocked (re)computes the commit deadline for p and arms the timer.
// Must be called with e.mu held.
func (e *FinalizationEngine) rearmLocked(p *PendingFinalization) {
	if e.timer != nil {
		e.timer.Stop()
	}
	var wait time.Duration
	if p.IsFalseFinal {
		wait = FalseFinalWaitMs * time.Millisecond
	} else {
		wait = computeWait(p.Text)
	}
	elapsed := time.Since(p.CreatedAt)
	remaining := time.Duration(MaxFinalizationWaitMs)*time.Millisecond - elapsed
	if wait > remaining {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}
	p.MaxWaitDeadline = time.Now().Add(wait)
	segID := p.SegmentID
	e.timer = time.AfterFunc(wait, func() { e.onDeadline(segID) })
}

func (e *FinalizationEngine) onDeadline(segmentID uint64) {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.SegmentID != segmentID {
		e.mu.Unlock()
		e.logger.Warn().
			Uint64("segmentId", segmentID).
			Msg("finalization deadline fired for an already-cleared or stale segment; dropping")
		return
	}

	// (a) Re-query partial tracker for extensions; promote if found.
	p.Text = e.promoteFromPartialsLocked(p.Text)

	elapsed := time.Since(p.CreatedAt)
	maxWait := time.Duration(MaxFinalizationWaitMs) * time.Millisecond

	// (b) If text still isn't a complete sentence and we haven't hit the
	// hard ceiling, give it one more short window to extend.
	if !endsWithSentencePunctuation(p.Text) && elapsed < maxWait {
		wait := 4000 * time.Millisecond
		if remaining := maxWait - elapsed; remaining < wait {
			wait = remaining
		}
		p.ExtendedWaitCount++
		e.timer = time.AfterFunc(wait, func() { e.onDeadline(segmentID) })
		e.mu.Unlock()
		return
	}

	// (c) Commit: clear pending state, reset the Partial Tracker, then
	// invoke the commit path.
	text := p.Text
	e.cancelLocked()
	if e.partials != nil {
		e.partials.Reset()
	}
	commit := e.commit
	e.mu.Unlock()

	if commit != nil {
		commit(text, segmentID)
	}
}

// computeWait derives the initial commit deadline from text length and
// sentence-completeness.
func computeWait(text string) time.Duration {
	n := len(text)
	waitMs := BaseWaitMs
	switch {
	case n >= VeryLongTextThreshold:
		waitMs = BaseWaitMs + 3*(n-VeryLongTextThreshold)
		if waitMs > VeryLongTextWaitCapMs {
			waitMs = VeryLongTextWaitCapMs
		}
	case n >= LongTextThreshold:
		waitMs = LongTextWaitMs
	}

	if !endsWithSentencePunctuation(text) {
		if waitMs < 1500 {
			waitMs = 1500
		}
		if n < 50 && waitMs < 2000 {
			waitMs = 2000
		}
	}
	return time.Duration(waitMs) * time.Millisecond
}

// isFalseFinal flags short, punctuation-terminated finals that match a
// known incomplete-opening pattern.
func isFalseFinal(text string) bool {
	trimmed := CollapseWhitespace(text)
	if len(trimmed) == 0 || len(trimmed) >= 25 {
		return false
	}
	if !endsWithSentencePunctuation(trimmed) {
		return false
	}
	lower := normalizeForCompare(trimmed)
	for _, opener := range falseFinalOpeners {
		if hasCaseInsensitivePrefix(lower, opener) || len(opener) < 5 && len(lower) >= len(opener) && lower[:len(opener)] == opener {
			return true
		}
	}
	return false
}
