package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-translate-core/internal/models"
	"ai-speech-translate-core/internal/observability/metrics"
)

// Duplicate-guard windows, checked in order against
// the gap since the last committed final:
//
//  1. Forced-final window (<=10s, forceFinal only): a >=30-char raw
//     prefix match, or >=75% word overlap with a character-length
//     difference under 30, counts as a duplicate — unless the new text
//     is strictly longer than the last-sent text, which means recovery
//     genuinely extended it and it must never be dropped.
//  2. Continuation window (<=3s): >=85% word overlap with a
//     character-length difference under 15.
//  3. Catch-all window (<=15s): >=90% word overlap with a
//     character-length difference under 25.
//
// Beyond 15s the guard is disabled entirely: a gap that long means the
// speaker moved on, and any resemblance is coincidental.
const (
	duplicateForcedWindow       = 10 * time.Second
	duplicateContinuationWindow = FinalContinuationWindow
	duplicateCatchAllWindow     = 15 * time.Second

	duplicateForcedPrefixLen = 30
	duplicateForcedOverlap   = 0.75
	duplicateForcedMaxDiff   = 30

	duplicateContinuationOverlap = 0.85
	duplicateContinuationMaxDiff = 15

	duplicateCatchAllOverlap = 0.90
	duplicateCatchAllMaxDiff = 25
)

// isDuplicateFinal reports whether newText committing gap after
// lastText should be treated as a repeat of it rather than new content.
func isDuplicateFinal(lastText string, gap time.Duration, newText string, forceFinal bool) bool {
	if lastText == "" {
		return false
	}

	if forceFinal && gap <= duplicateForcedWindow && len(newText) <= len(lastText) {
		if longPrefixOverlap(lastText, newText, duplicateForcedPrefixLen) {
			return true
		}
		if wordOverlapRatio(lastText, newText) >= duplicateForcedOverlap &&
			charLengthDiff(lastText, newText) < duplicateForcedMaxDiff {
			return true
		}
	}

	switch {
	case gap <= duplicateContinuationWindow:
		return wordOverlapRatio(lastText, newText) >= duplicateContinuationOverlap &&
			charLengthDiff(lastText, newText) < duplicateContinuationMaxDiff
	case gap <= duplicateCatchAllWindow:
		return wordOverlapRatio(lastText, newText) >= duplicateCatchAllOverlap &&
			charLengthDiff(lastText, newText) < duplicateCatchAllMaxDiff
	default:
		return false
	}
}

// charLengthDiff returns the absolute difference in rune-ish (byte)
// length between a and b.
func charLengthDiff(a, b string) int {
	d := len(a) - len(b)
	if d < 0 {
		return -d
	}
	return d
}

// Cross-segment word deduplication compares the trailing words of the
// predecessor final against the leading words of the new text; finals
// look at a longer tail than the live partial preview does.
const (
	crossSegmentFinalDedupWords   = 10
	crossSegmentPartialDedupWords = 5
)

// Partial throttling and stabilization knobs: a fresh pass is emitted
// only on >=2 chars of growth or once the minimum interval has elapsed,
// and a very short partial right after a committed final is held back
// until the hypothesis stabilizes.
const (
	partialMinInterval  = 150 * time.Millisecond
	partialMinNewChars  = 2
	shortPartialMaxLen  = 15
	shortPartialHoldoff = 2 * time.Second
)

// TranslationResult is one language's outcome from a translation fan-out
// call; Err is set when the worker could not produce a translation in
// time (timeout or rate limit) and the message should carry the
// translation_error fallback instead.
type TranslationResult struct {
	Text string
	Err  bool
}

// GrammarWorker corrects recognizer text before it is broadcast. Final
// corrections are cached by the implementation; partial corrections are
// best-effort and abortable, feeding the live preview's grammar update
// pass.
type GrammarWorker interface {
	CorrectFinal(ctx context.Context, text string) (corrected string, changed bool)
	CorrectPartial(ctx context.Context, text string) (corrected string, changed bool)
}

// TranslationWorker fans a single corrected final out to every
// registered target language in one call.
type TranslationWorker interface {
	TranslateToMultiple(ctx context.Context, text, sourceLang string, targetLangs []string) map[string]TranslationResult
}

// Broadcaster delivers a stamped message to a session's host and
// listener connections and reports which target languages are
// currently registered for the session.
type Broadcaster interface {
	SendToHost(sessionID string, msg models.Translation)
	BroadcastToListeners(sessionID string, msg models.Translation)
	TargetLanguages(sessionID string) []string
}

// Persister ships committed events to the analytics/persistence sink.
// Implementations must not block the dispatch path; a nil Persister
// disables persistence entirely.
type Persister interface {
	PersistPartial(models.PersistedPartial)
	PersistFinal(models.PersistedFinal)
}

// Dispatcher implements the Result Dispatcher: it owns
// sequence stamping, the duplicate guard, cross-segment word dedup,
// grammar correction, and per-language translation fan-out for a single
// session.
type Dispatcher struct {
	mu sync.Mutex

	sessionID  string
	sourceLang func() string

	timeline    *Timeline
	grammar     GrammarWorker
	translation TranslationWorker
	broadcaster Broadcaster
	persister   Persister

	lastSent           LastSent
	lastPartialText    string
	lastPartialAt      time.Time
	lastPartialSegment uint64
	partialCancel      context.CancelFunc

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher wires a Result Dispatcher for one session. sourceLang is
// called on every commit so a host's mid-session language change (via
// the session registry) is always reflected.
func NewDispatcher(sessionID string, sourceLang func() string, timeline *Timeline, grammar GrammarWorker, translation TranslationWorker, broadcaster Broadcaster, persister Persister) *Dispatcher {
	return &Dispatcher{
		sessionID:   sessionID,
		sourceLang:  sourceLang,
		timeline:    timeline,
		grammar:     grammar,
		translation: translation,
		broadcaster: broadcaster,
		persister:   persister,
		logger:      zerolog.Nop(),
	}
}

// SetLogger wires a scoped logger into the dispatcher, replacing the
// no-op default.
func (d *Dispatcher) SetLogger(l zerolog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
}

// SetMetrics wires a Metrics recorder into the dispatcher. A nil
// Dispatcher.metrics (the default) disables metrics recording.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// LastSentSnapshot returns the dispatcher's last-sent state, consumed by
// the Finalization Engine's cross-segment continuation check.
func (d *Dispatcher) LastSentSnapshot() LastSent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSent
}

// CommitNaturalFinal commits a final reached through ordinary
// finalization (no forced restart, no recovery).
func (d *Dispatcher) CommitNaturalFinal(text string, segmentID uint64) {
	d.commitFinal(text, segmentID, false, nil)
}

// CommitForcedFinal implements ForcedCommitFunc: it commits a forced
// buffer's text, either directly (phase 2 captured no audio) or as the
// Recovery Stream Engine's resolved merge. predecessor is the last-sent
// state captured when the buffer was opened; deduplication runs against
// it rather than against whatever committed while recovery was in
// flight.
func (d *Dispatcher) CommitForcedFinal(text string, segmentID uint64, predecessor LastSent, byRecovery bool) {
	d.commitFinal(text, segmentID, true, &predecessor)
}

func (d *Dispatcher) commitFinal(text string, segmentID uint64, forceFinal bool, predecessor *LastSent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	text = CollapseWhitespace(text)
	if text == "" {
		return
	}

	// A committed final supersedes the live preview; any in-flight
	// partial grammar/translation pass is now stale.
	if d.partialCancel != nil {
		d.partialCancel()
		d.partialCancel = nil
	}

	// Forced/recovered commits dedupe against the predecessor captured at
	// buffer-open time; natural commits against the live last-sent state.
	prior := d.lastSent
	if predecessor != nil {
		prior = *predecessor
	}

	now := time.Now()
	if !prior.FinalTime.IsZero() {
		gap := now.Sub(prior.FinalTime)
		if isDuplicateFinal(prior.FinalText, gap, text, forceFinal) {
			if d.metrics != nil {
				d.metrics.RecordDuplicateFinalRejected()
			}
			d.logger.Debug().
				Uint64("segmentId", segmentID).
				Bool("forceFinal", forceFinal).
				Dur("gap", gap).
				Msg("duplicate guard dropped final")
			return
		}
	}

	if prior.OriginalText != "" {
		prevWords := wordsOf(prior.OriginalText)
		newWords := wordsOf(text)
		_, removed := trimLeadingMatchingWords(prevWords, newWords, crossSegmentFinalDedupWords)
		if removed > 0 {
			text = trimLeadingWordsFromOriginal(text, removed)
		}
	}
	if text == "" {
		if d.metrics != nil {
			d.metrics.RecordDuplicateFinalRejected()
		}
		return
	}

	sourceLang := d.sourceLang()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	corrected := text
	hasCorrection := false
	if d.grammar != nil && isEnglish(sourceLang) {
		if c, changed := d.grammar.CorrectFinal(ctx, text); changed && c != "" {
			corrected = c
			hasCorrection = true
		}
	}

	anchorStamp := d.timeline.Stamp(false)
	anchor := models.Translation{
		Type:            models.TypeTranslation,
		SeqID:           anchorStamp.SeqID,
		ServerTimestamp: anchorStamp.ServerTimestamp,
		IsPartial:       false,
		SourceLang:      sourceLang,
		TargetLang:      sourceLang,
		OriginalText:    text,
		CorrectedText:   corrected,
		HasTranslation:  false,
		HasCorrection:   hasCorrection,
		ForceFinal:      forceFinal,
	}
	d.emitFinal(anchor, true)
	if d.persister != nil {
		d.persister.PersistFinal(models.PersistedFinal{
			EventType:      "final",
			SessionID:      d.sessionID,
			SegmentID:      segmentID,
			SourceLang:     sourceLang,
			TargetLang:     sourceLang,
			OriginalText:   text,
			CorrectedText:  corrected,
			HasTranslation: false,
			ForceFinal:     forceFinal,
			Timestamp:      now.UnixMilli(),
		})
	}

	translationSource := corrected
	if d.translation != nil && d.broadcaster != nil {
		targets := otherLanguages(d.broadcaster.TargetLanguages(d.sessionID), sourceLang)
		if len(targets) > 0 {
			fanoutStart := time.Now()
			results := d.translation.TranslateToMultiple(ctx, translationSource, sourceLang, targets)
			if d.metrics != nil {
				d.metrics.RecordTranslationFanoutLatency(time.Since(fanoutStart).Seconds())
			}
			for _, lang := range targets {
				res, ok := results[lang]
				if !ok || res.Err {
					d.logger.Debug().
						Uint64("segmentId", segmentID).
						Str("targetLang", lang).
						Msg("translation fan-out did not return a result; broadcasting translation_error")
				}
				stamp := d.timeline.Stamp(false)
				msg := models.Translation{
					Type:             models.TypeTranslation,
					SeqID:            stamp.SeqID,
					SourceSeqID:      anchorStamp.SeqID,
					ServerTimestamp:  stamp.ServerTimestamp,
					IsPartial:        false,
					SourceLang:       sourceLang,
					TargetLang:       lang,
					OriginalText:     text,
					CorrectedText:    corrected,
					HasCorrection:    hasCorrection,
					ForceFinal:       forceFinal,
					HasTranslation:   ok && !res.Err,
					TranslationError: !ok || res.Err,
				}
				if ok {
					msg.TranslatedText = res.Text
				}
				d.emitFinal(msg, false)
				if d.persister != nil {
					d.persister.PersistFinal(models.PersistedFinal{
						EventType:      "final",
						SessionID:      d.sessionID,
						SegmentID:      segmentID,
						SourceLang:     sourceLang,
						TargetLang:     lang,
						OriginalText:   text,
						CorrectedText:  corrected,
						TranslatedText: msg.TranslatedText,
						HasTranslation: msg.HasTranslation,
						ForceFinal:     forceFinal,
						Timestamp:      now.UnixMilli(),
					})
				}
			}
		}
	}

	d.lastSent = LastSent{OriginalText: text, FinalText: corrected, FinalTime: now}
}

// emitFinal hands a committed-final message to the broadcaster after
// checking the outbound invariants: a cross-language message must carry
// the anchor's sequence id and either a translation or an explicit
// translation error, and an anchor must not reference itself. A message
// violating them indicates an internal bug; it is logged and dropped
// rather than crashing the session or confusing listeners.
func (d *Dispatcher) emitFinal(msg models.Translation, toHost bool) {
	if d.broadcaster == nil {
		return
	}
	crossLang := msg.SourceLang != msg.TargetLang
	switch {
	case crossLang && msg.SourceSeqID == 0:
		d.logger.Warn().Uint64("seqId", msg.SeqID).Str("targetLang", msg.TargetLang).
			Msg("dropping cross-language final with no source_seq_id")
		return
	case crossLang && !msg.HasTranslation && !msg.TranslationError:
		d.logger.Warn().Uint64("seqId", msg.SeqID).Str("targetLang", msg.TargetLang).
			Msg("dropping cross-language final with neither a translation nor an explicit error")
		return
	case !crossLang && msg.SourceSeqID != 0:
		d.logger.Warn().Uint64("seqId", msg.SeqID).
			Msg("dropping anchor final carrying a source_seq_id")
		return
	}
	if toHost {
		d.broadcaster.SendToHost(d.sessionID, msg)
	}
	d.broadcaster.BroadcastToListeners(d.sessionID, msg)
}

// isEnglish reports whether a BCP-47 tag names an English variant.
// Grammar correction is English-only; other languages pass through.
func isEnglish(lang string) bool {
	l := strings.ToLower(lang)
	return l == "en" || strings.HasPrefix(l, "en-")
}

// EmitPartial stamps and broadcasts a live preview, then drives the
// grammar and translation update passes for it. The source-language
// anchor partial always ships first, synchronously; grammar correction
// and per-language translation run in parallel afterwards, each update
// referencing the anchor's sequence id. A superseding partial cancels
// the in-flight pass for the previous one.
func (d *Dispatcher) EmitPartial(segmentID uint64, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	collapsed := CollapseWhitespace(text)
	if collapsed == "" || collapsed == d.lastPartialText {
		return
	}
	now := time.Now()
	if !d.lastPartialAt.IsZero() &&
		now.Sub(d.lastPartialAt) < partialMinInterval &&
		len(collapsed)-len(d.lastPartialText) < partialMinNewChars {
		return
	}

	// A very short hypothesis right after a committed final is held back
	// until it stabilizes; the tracker already has it, so nothing is lost.
	newSegment := segmentID != d.lastPartialSegment
	if newSegment && len(collapsed) < shortPartialMaxLen &&
		!d.lastSent.FinalTime.IsZero() && now.Sub(d.lastSent.FinalTime) < shortPartialHoldoff {
		return
	}

	// Trim leading words the previous final already said. An empty
	// remainder means the recognizer is re-hearing the committed tail;
	// keep tracking it but emit nothing.
	emitText := collapsed
	if d.lastSent.FinalText != "" {
		prevWords := wordsOf(d.lastSent.FinalText)
		newWords := wordsOf(collapsed)
		_, removed := trimLeadingMatchingWords(prevWords, newWords, crossSegmentPartialDedupWords)
		if removed > 0 {
			emitText = trimLeadingWordsFromOriginal(collapsed, removed)
		}
	}
	if emitText == "" {
		d.lastPartialText = collapsed
		d.lastPartialAt = now
		d.lastPartialSegment = segmentID
		return
	}

	sourceLang := d.sourceLang()
	stamp := d.timeline.Stamp(true)
	msg := models.Translation{
		Type:            models.TypeTranslation,
		SeqID:           stamp.SeqID,
		ServerTimestamp: stamp.ServerTimestamp,
		IsPartial:       true,
		SourceLang:      sourceLang,
		TargetLang:      sourceLang,
		OriginalText:    emitText,
		HasTranslation:  false,
	}
	if d.broadcaster != nil {
		d.broadcaster.SendToHost(d.sessionID, msg)
		d.broadcaster.BroadcastToListeners(d.sessionID, msg)
	}
	if d.persister != nil {
		d.persister.PersistPartial(models.PersistedPartial{
			EventType:  "partial",
			SessionID:  d.sessionID,
			SegmentID:  segmentID,
			SourceLang: sourceLang,
			Text:       emitText,
			Timestamp:  now.UnixMilli(),
		})
	}

	d.lastPartialText = collapsed
	d.lastPartialAt = now
	d.lastPartialSegment = segmentID

	d.startPartialPassLocked(emitText, sourceLang, stamp.SeqID)
}

// startPartialPassLocked cancels any in-flight grammar/translation pass
// for the previous partial and launches a fresh one for text. Must be
// called with d.mu held.
func (d *Dispatcher) startPartialPassLocked(text, sourceLang string, anchorSeqID uint64) {
	if d.partialCancel != nil {
		d.partialCancel()
		d.partialCancel = nil
	}

	var targets []string
	if d.broadcaster != nil {
		targets = otherLanguages(d.broadcaster.TargetLanguages(d.sessionID), sourceLang)
	}
	wantGrammar := d.grammar != nil && isEnglish(sourceLang)
	wantTranslation := d.translation != nil && len(targets) > 0
	if !wantGrammar && !wantTranslation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	d.partialCancel = cancel

	if wantGrammar {
		go d.partialGrammarPass(ctx, text, sourceLang, anchorSeqID)
	}
	if wantTranslation {
		go d.partialTranslationPass(ctx, text, sourceLang, targets, anchorSeqID)
	}
}

func (d *Dispatcher) partialGrammarPass(ctx context.Context, text, sourceLang string, anchorSeqID uint64) {
	corrected, changed := d.grammar.CorrectPartial(ctx, text)
	if ctx.Err() != nil || !changed || corrected == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broadcaster == nil {
		return
	}
	stamp := d.timeline.Stamp(true)
	msg := models.Translation{
		Type:            models.TypeTranslation,
		SeqID:           stamp.SeqID,
		SourceSeqID:     anchorSeqID,
		ServerTimestamp: stamp.ServerTimestamp,
		IsPartial:       true,
		SourceLang:      sourceLang,
		TargetLang:      sourceLang,
		OriginalText:    text,
		CorrectedText:   corrected,
		HasCorrection:   true,
		UpdateType:      models.UpdateTypeGrammar,
	}
	d.broadcaster.SendToHost(d.sessionID, msg)
	d.broadcaster.BroadcastToListeners(d.sessionID, msg)
}

func (d *Dispatcher) partialTranslationPass(ctx context.Context, text, sourceLang string, targets []string, anchorSeqID uint64) {
	results := d.translation.TranslateToMultiple(ctx, text, sourceLang, targets)
	if ctx.Err() != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broadcaster == nil {
		return
	}
	for _, lang := range targets {
		res, ok := results[lang]
		if !ok || res.Err || res.Text == "" {
			// Partial previews are best-effort; a failed language simply
			// waits for the final's translation_error fallback.
			continue
		}
		stamp := d.timeline.Stamp(true)
		d.broadcaster.BroadcastToListeners(d.sessionID, models.Translation{
			Type:            models.TypeTranslation,
			SeqID:           stamp.SeqID,
			SourceSeqID:     anchorSeqID,
			ServerTimestamp: stamp.ServerTimestamp,
			IsPartial:       true,
			SourceLang:      sourceLang,
			TargetLang:      lang,
			OriginalText:    text,
			TranslatedText:  res.Text,
			HasTranslation:  true,
		})
	}
}

// Close cancels any in-flight partial update pass. Committed state is
// left intact so a teardown flush can still run afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.partialCancel != nil {
		d.partialCancel()
		d.partialCancel = nil
	}
}

// trimLeadingWordsFromOriginal removes the first n whitespace-delimited
// words from text, preserving the original casing/punctuation of the
// remaining words.
func trimLeadingWordsFromOriginal(text string, n int) string {
	fields := strings.Fields(text)
	if n >= len(fields) {
		return ""
	}
	return strings.Join(fields[n:], " ")
}

// otherLanguages returns registered, distinct from sourceLang.
func otherLanguages(registered []string, sourceLang string) []string {
	out := make([]string, 0, len(registered))
	for _, lang := range registered {
		if lang != sourceLang {
			out = append(out, lang)
		}
	}
	return out
}
