package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-translate-core/internal/observability/metrics"
)

// recoveryResultCeiling bounds one whole recovery pass: opening the
// secondary stream, writing the capture, and draining results. The
// forced buffer resolves on the buffered text alone past it.
const recoveryResultCeiling = 4000 * time.Millisecond

// RecoveryTranscriber re-transcribes a short captured audio window
// through a secondary decoder configured for a single authoritative
// pass: punctuation disabled, the enhanced model variant, and no
// auto-restart. Implementations submit the audio in a single write,
// close the send side, and collect results until an end-of-stream
// signal or recoveryResultCeiling, whichever comes first.
type RecoveryTranscriber interface {
	TranscribeOnce(ctx context.Context, audio []byte, sourceLang string) (string, error)
}

// RecoveryEngine implements the Recovery Stream Engine: it
// owns the secondary decoder pass requested by the Forced Commit Engine
// and resolves the forced buffer once a recovered transcript is ready.
type RecoveryEngine struct {
	transcriber RecoveryTranscriber
	forced      *ForcedEngine
	commit      ForcedCommitFunc
	sourceLang  func() string

	mu    sync.Mutex
	hints map[uint64]string

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewRecoveryEngine wires a Recovery Stream Engine. commit is invoked
// (via the owning ForcedEngine) with the recovered, forced-final text.
// sourceLang is called fresh on every recovery pass so a mid-session
// language change is always reflected.
func NewRecoveryEngine(transcriber RecoveryTranscriber, forced *ForcedEngine, commit ForcedCommitFunc, sourceLang func() string) *RecoveryEngine {
	return &RecoveryEngine{
		transcriber: transcriber,
		forced:      forced,
		commit:      commit,
		sourceLang:  sourceLang,
		hints:       make(map[uint64]string),
		logger:      zerolog.Nop(),
	}
}

// SetLogger wires a scoped logger into the engine, replacing the no-op
// default.
func (r *RecoveryEngine) SetLogger(l zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// SetMetrics wires a Metrics recorder into the engine. A nil
// RecoveryEngine.metrics (the default) disables metrics recording.
func (r *RecoveryEngine) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// NotifyDuringRecovery records the latest partial or final observed for
// segmentID while a recovery pass is in flight for it, so the eventual
// merge has a hint for what speech followed the forced cut.
func (r *RecoveryEngine) NotifyDuringRecovery(segmentID uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints[segmentID] = text
}

func (r *RecoveryEngine) takeHint(segmentID uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	hint := r.hints[segmentID]
	delete(r.hints, segmentID)
	return hint
}

// StartRecovery implements RecoveryStarter. It runs the secondary
// transcription pass on its own goroutine; ForcedEngine is the single
// consumer of the eventual result via ResolveRecovery, so no separate
// promise type is needed here.
func (r *RecoveryEngine) StartRecovery(audio []byte, bufferedText string, segmentID uint64, snap Snapshot) {
	go r.run(audio, bufferedText, segmentID, snap)
}

func (r *RecoveryEngine) run(audio []byte, bufferedText string, segmentID uint64, snap Snapshot) {
	start := time.Now()
	m := r.metrics
	recordLatency := func() {
		if m != nil {
			m.RecordRecoveryLatency(time.Since(start).Seconds())
		}
	}

	if len(audio) == 0 || r.transcriber == nil {
		recordLatency()
		r.forced.ResolveRecovery(segmentID, bufferedText, false, r.commit)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryResultCeiling)
	defer cancel()

	lang := ""
	if r.sourceLang != nil {
		lang = r.sourceLang()
	}
	recovered, err := r.transcriber.TranscribeOnce(ctx, audio, lang)
	if err != nil || CollapseWhitespace(recovered) == "" {
		recordLatency()
		if err != nil {
			r.logger.Debug().
				Uint64("segmentId", segmentID).
				Err(err).
				Msg("recovery transcription failed; falling back to buffered text")
		}
		r.forced.ResolveRecovery(segmentID, bufferedText, false, r.commit)
		return
	}

	recordLatency()
	hint := r.takeHint(segmentID)
	merged := mergeRecoveredText(bufferedText, recovered, hint, snap)
	r.forced.ResolveRecovery(segmentID, merged, true, r.commit)
}

// mergeRecoveredText reconciles the preliminary buffered text with the
// secondary decoder's recovered transcript, using whatever hint text
// (a partial or final observed on the primary stream during recovery)
// arrived in the meantime, and falls back to a plain join when no
// overlap-based stitch applies.
func mergeRecoveredText(buffered, recovered, hint string, snap Snapshot) string {
	collapsed := CollapseWhitespace(recovered)

	base := collapsed
	if hint != "" {
		hintCollapsed := CollapseWhitespace(hint)
		if hasCaseInsensitivePrefix(hintCollapsed, collapsed) {
			base = hintCollapsed
		} else if m := MergeWithOverlap(collapsed, hintCollapsed); m != "" {
			base = m
		}
	} else if snap.LongestText != "" && len(snap.LongestText) > len(collapsed) {
		if m := MergeWithOverlap(collapsed, snap.LongestText); m != "" {
			base = m
		}
	}

	if hasCaseInsensitivePrefix(base, buffered) {
		return base
	}
	if m := MergeWithOverlap(buffered, base); m != "" {
		return m
	}
	if wordOverlapRatio(buffered, base) >= 0.5 {
		return base
	}
	return CollapseWhitespace(buffered + " " + base)
}
