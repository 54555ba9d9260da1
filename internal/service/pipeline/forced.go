package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-translate-core/internal/observability/metrics"
)

// Two-phase forced-commit timing constants.
const (
	ForcedPhase2DelayMs  = 1200
	RecoveryPreRollMs    = 1400
	RecoveryPostRollMs   = 800
	RecoveryWindowCapMs  = RecoveryPreRollMs + RecoveryPostRollMs
	audioWindowRetention = 4 * time.Second

	// forcedPartialMaxAge bounds how stale a tracked partial may be and
	// still replace a forced final's text. A longest-partial older than
	// this predates the decoder cut and cannot be trusted to describe it.
	forcedPartialMaxAge = 5 * time.Second
)

// ForcedCommitFunc commits a forced (or recovered) final. predecessor is
// the last-sent state captured when the forced buffer was opened, so
// deduplication downstream compares against the segment that actually
// preceded this one rather than whatever committed in the meantime.
type ForcedCommitFunc func(text string, segmentID uint64, predecessor LastSent, byRecovery bool)

// ForcedBuffer is the single in-flight forced-final awaiting recovery
// resolution for a segment. At most one exists per segment.
type ForcedBuffer struct {
	Text                          string
	CreatedAt                     time.Time
	LastSentOriginalBeforeBuffer  string
	LastSentFinalBeforeBuffer     string
	LastSentFinalTimeBeforeBuffer time.Time
	RecoveryInProgress            bool
	CommittedByRecovery           bool
	SegmentID                     uint64
}

// RecoveryStarter is implemented by whatever owns the secondary STT
// stream (the Recovery Stream Engine, wired in by the session).
// ForcedEngine calls StartRecovery from its post-roll timer once the
// audio window has been captured; RecoveryEngine.StartRecovery runs the
// pass on its own goroutine.
type RecoveryStarter interface {
	StartRecovery(audio []byte, bufferedText string, segmentID uint64, snap Snapshot)
}

type audioChunk struct {
	data []byte
	at   time.Time
}

// AudioWindowBuffer retains a short rolling window of raw audio so a
// forced commit can request a pre-roll capture without needing to have
// anticipated the need in advance.
type AudioWindowBuffer struct {
	mu     sync.Mutex
	chunks []audioChunk
	maxAge time.Duration
}

// NewAudioWindowBuffer creates a buffer retaining chunks up to maxAge
// old (stale chunks are dropped lazily on Append).
func NewAudioWindowBuffer(maxAge time.Duration) *AudioWindowBuffer {
	if maxAge <= 0 {
		maxAge = audioWindowRetention
	}
	return &AudioWindowBuffer{maxAge: maxAge}
}

// Append records a newly received audio chunk.
func (b *AudioWindowBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	now := time.Now()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.chunks = append(b.chunks, audioChunk{data: cp, at: now})
	b.trimLocked(now)
	b.mu.Unlock()
}

func (b *AudioWindowBuffer) trimLocked(now time.Time) {
	cutoff := now.Add(-b.maxAge)
	i := 0
	for i < len(b.chunks) && b.chunks[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.chunks = b.chunks[i:]
	}
}

// PreRoll returns the concatenation of chunks received within the last
// preMs, in arrival order.
func (b *AudioWindowBuffer) PreRoll(preMs time.Duration) []byte {
	now := time.Now()
	cutoff := now.Add(-preMs)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []byte
	for _, c := range b.chunks {
		if c.at.Before(cutoff) {
			continue
		}
		out = append(out, c.data...)
	}
	return out
}

// captureState accumulates audio for an in-progress post-roll capture.
type captureState struct {
	mu       sync.Mutex
	active   bool
	data     [][]byte
	deadline time.Time
}

func (c *captureState) append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || time.Now().After(c.deadline) {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.data = append(c.data, cp)
}

func (c *captureState) flatten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	var out []byte
	for _, chunk := range c.data {
		out = append(out, chunk...)
	}
	return out
}

// ForcedEngine implements the Forced Commit Engine: on a
// forced final it snapshots the current best hypothesis into an
// outstanding buffer, then captures a short audio window around the cut
// for the Recovery Stream Engine to re-transcribe. Nothing reaches the
// dispatcher until phase 2 resolves — via recovery or, when there is no
// audio to recover from, a direct commit of the buffered text — so a
// forced segment produces exactly one committed final.
type ForcedEngine struct {
	mu           sync.Mutex
	buffer       *ForcedBuffer
	capture      *captureState
	window       *AudioWindowBuffer
	finalization *FinalizationEngine
	partials     *Tracker
	commit       ForcedCommitFunc
	recovery     RecoveryStarter

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewForcedEngine wires a Forced Commit Engine. commit is invoked once
// phase 2 resolves, either directly (no audio captured, or no recovery
// wired) or via the Recovery Stream Engine's ResolveRecovery callback;
// recovery receives the captured audio window once phase 2 completes.
func NewForcedEngine(finalization *FinalizationEngine, partials *Tracker, window *AudioWindowBuffer, commit ForcedCommitFunc, recovery RecoveryStarter) *ForcedEngine {
	return &ForcedEngine{
		finalization: finalization,
		partials:     partials,
		window:       window,
		commit:       commit,
		recovery:     recovery,
		logger:       zerolog.Nop(),
	}
}

// SetLogger wires a scoped logger into the engine, replacing the no-op
// default.
func (e *ForcedEngine) SetLogger(l zerolog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = l
}

// SetMetrics wires a Metrics recorder into the engine. A nil
// ForcedEngine.metrics (the default) disables metrics recording.
func (e *ForcedEngine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// SetRecovery wires the Recovery Stream Engine after construction,
// breaking the constructor cycle between ForcedEngine and RecoveryEngine
// (each needs a reference to the other).
func (e *ForcedEngine) SetRecovery(r RecoveryStarter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recovery = r
}

// Discard drops any outstanding forced buffer and capture for segmentID
// without committing it, used when the segment is abandoned outright
// (limits exceeded, transport loss) rather than closed normally.
func (e *ForcedEngine) Discard(segmentID uint64) {
	e.mu.Lock()
	fb := e.buffer
	if fb == nil || fb.SegmentID != segmentID {
		e.mu.Unlock()
		return
	}
	e.buffer = nil
	cap := e.capture
	e.capture = nil
	m := e.metrics
	e.mu.Unlock()
	if cap != nil {
		cap.flatten()
	}
	if m != nil {
		m.RecordForcedBufferClosed()
	}
}

// ObserveAudio must be called for every inbound audio chunk so the
// rolling pre-roll window stays current and any in-progress post-roll
// capture accumulates it.
func (e *ForcedEngine) ObserveAudio(data []byte) {
	e.window.Append(data)
	e.mu.Lock()
	cap := e.capture
	e.mu.Unlock()
	if cap != nil {
		cap.append(data)
	}
}

// HasActiveBuffer reports whether a forced buffer is outstanding for
// the given segment.
func (e *ForcedEngine) HasActiveBuffer(segmentID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer != nil && e.buffer.SegmentID == segmentID
}

// HandleForcedFinal processes a forced (decoder-restart) final arriving
// for segmentID.
func (e *ForcedEngine) HandleForcedFinal(text string, segmentID uint64, lastSent LastSent) {
	e.finalization.CancelPending()

	candidate := text
	if e.partials != nil {
		snap := e.partials.Snapshot()
		if len(snap.LongestText) > len(candidate) &&
			time.Since(snap.LongestTime) <= forcedPartialMaxAge &&
			verifiablyExtends(candidate, snap.LongestText) {
			candidate = snap.LongestText
		}
	}

	fb := &ForcedBuffer{
		Text:                          candidate,
		CreatedAt:                     time.Now(),
		LastSentOriginalBeforeBuffer:  lastSent.OriginalText,
		LastSentFinalBeforeBuffer:     lastSent.FinalText,
		LastSentFinalTimeBeforeBuffer: lastSent.FinalTime,
		SegmentID:                     segmentID,
	}
	e.mu.Lock()
	e.buffer = fb
	m := e.metrics
	e.mu.Unlock()
	if m != nil {
		m.RecordForcedBufferOpened()
	}

	// Phase 1: delay 0ms, schedule phase 2. No commit
	// happens here — withholding the emission until phase 2/recovery
	// resolves is what keeps a forced segment to exactly one committed
	// final.
	time.AfterFunc(ForcedPhase2DelayMs*time.Millisecond, func() {
		e.beginRecoveryCapture(segmentID)
	})
}

func (e *ForcedEngine) beginRecoveryCapture(segmentID uint64) {
	e.mu.Lock()
	fb := e.buffer
	if fb == nil || fb.SegmentID != segmentID || fb.RecoveryInProgress {
		e.mu.Unlock()
		e.logger.Debug().
			Uint64("segmentId", segmentID).
			Msg("phase-2 timer fired for an already-resolved or stale forced buffer; dropping")
		return
	}
	// A late partial may have extended the buffered text since phase 1
	// opened; prefer it the same way HandleForcedFinal preferred the
	// tracked partial at buffer-open time.
	if e.partials != nil {
		snap := e.partials.Snapshot()
		if len(snap.LongestText) > len(fb.Text) &&
			time.Since(snap.LongestTime) <= forcedPartialMaxAge &&
			verifiablyExtends(fb.Text, snap.LongestText) {
			fb.Text = snap.LongestText
		}
	}
	fb.RecoveryInProgress = true
	pre := e.window.PreRoll(RecoveryPreRollMs * time.Millisecond)
	cap := &captureState{active: true, deadline: time.Now().Add(RecoveryPostRollMs * time.Millisecond)}
	e.capture = cap
	var snap Snapshot
	if e.partials != nil {
		snap = e.partials.Snapshot()
	}
	bufferedText := fb.Text
	e.mu.Unlock()

	time.AfterFunc(RecoveryPostRollMs*time.Millisecond, func() {
		post := cap.flatten()
		e.mu.Lock()
		if e.capture == cap {
			e.capture = nil
		}
		recovery := e.recovery
		e.mu.Unlock()

		audio := make([]byte, 0, len(pre)+len(post))
		audio = append(audio, pre...)
		audio = append(audio, post...)

		if len(audio) > 0 && recovery != nil {
			if m := e.metrics; m != nil {
				m.RecordRecoveryInvoked()
			}
			recovery.StartRecovery(audio, bufferedText, segmentID, snap)
			return
		}
		// No audio was captured (or no Recovery Stream Engine is wired):
		// nothing to re-transcribe, so the buffered text is authoritative.
		e.commitBuffered(segmentID, bufferedText)
	})
}

// commitBuffered clears the outstanding buffer for segmentID and
// commits its text directly, bypassing recovery. Used when phase 2
// captured no audio to re-transcribe, or no Recovery Stream Engine is
// wired at all.
func (e *ForcedEngine) commitBuffered(segmentID uint64, text string) {
	e.mu.Lock()
	fb := e.buffer
	if fb == nil || fb.SegmentID != segmentID {
		e.mu.Unlock()
		e.logger.Debug().
			Uint64("segmentId", segmentID).
			Msg("phase-2 resolved with no audio for an already-cleared forced buffer; dropping")
		return
	}
	e.buffer = nil
	commit := e.commit
	pred := fb.predecessor()
	m := e.metrics
	e.mu.Unlock()

	if m != nil {
		m.RecordForcedBufferClosed()
	}
	if commit != nil {
		commit(text, segmentID, pred, false)
	}
}

// predecessor rebuilds the last-sent state captured at buffer-open time.
func (fb *ForcedBuffer) predecessor() LastSent {
	return LastSent{
		OriginalText: fb.LastSentOriginalBeforeBuffer,
		FinalText:    fb.LastSentFinalBeforeBuffer,
		FinalTime:    fb.LastSentFinalTimeBeforeBuffer,
	}
}

// HandleFinalDuringBuffer folds a non-forced final that arrives while a
// forced buffer is outstanding into the buffer, when it shares lexical
// overlap with the buffered text, rather than
// emitting it as an independent final. Returns handled=false when no
// buffer is active for the segment or the text is unrelated, in which
// case the caller should process it through the normal finalization
// path instead.
func (e *ForcedEngine) HandleFinalDuringBuffer(text string, segmentID uint64) (merged string, handled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fb := e.buffer
	if fb == nil || fb.SegmentID != segmentID {
		return "", false
	}
	if !sharesLexicalOverlap(fb.Text, text) {
		return "", false
	}
	collapsed := CollapseWhitespace(text)
	switch {
	case hasCaseInsensitivePrefix(collapsed, fb.Text):
		fb.Text = collapsed
	default:
		if m := MergeWithOverlap(fb.Text, collapsed); m != "" {
			fb.Text = m
		} else {
			fb.Text = CollapseWhitespace(fb.Text + " " + collapsed)
		}
	}
	return fb.Text, true
}

// ResolveRecovery is called by the Recovery Stream Engine once its
// secondary transcription has settled on a final text for segmentID. It
// clears the buffer and invokes commit with forceFinal semantics.
func (e *ForcedEngine) ResolveRecovery(segmentID uint64, recoveredText string, committedByRecovery bool, commit ForcedCommitFunc) {
	e.mu.Lock()
	fb := e.buffer
	if fb == nil || fb.SegmentID != segmentID {
		e.mu.Unlock()
		e.logger.Warn().
			Uint64("segmentId", segmentID).
			Msg("recovery resolved for a stale or missing forced buffer; dropping")
		return
	}
	fb.CommittedByRecovery = committedByRecovery
	e.buffer = nil
	pred := fb.predecessor()
	m := e.metrics
	e.mu.Unlock()

	if m != nil {
		m.RecordForcedBufferClosed()
	}
	if commit != nil {
		commit(recoveredText, segmentID, pred, committedByRecovery)
	}
}

// Flush discards any outstanding forced buffer and its capture,
// returning the buffered text and its captured predecessor for an
// immediate commit without waiting on recovery. Session close or
// disconnect must not drop a buffered forced final, and recovery would
// be impossible without further audio anyway.
func (e *ForcedEngine) Flush() (text string, segmentID uint64, predecessor LastSent, ok bool) {
	e.mu.Lock()
	fb := e.buffer
	if fb == nil {
		e.mu.Unlock()
		return "", 0, LastSent{}, false
	}
	e.buffer = nil
	cap := e.capture
	e.capture = nil
	m := e.metrics
	e.mu.Unlock()
	if cap != nil {
		cap.flatten()
	}
	if m != nil {
		m.RecordForcedBufferClosed()
	}
	return fb.Text, fb.SegmentID, fb.predecessor(), true
}
