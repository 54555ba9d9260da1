// Package audio guards the boundary between an STT adapter and the
// translation pipeline: it enforces per-segment backpressure limits and
// owns segment id lifecycle (via segment.Generator/segment.Lifecycle),
// translating the adapter's text-only callbacks into the numeric,
// fenced segment ids the pipeline package operates on.
package audio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ai-speech-translate-core/internal/service/segment"
	"ai-speech-translate-core/internal/service/stt"
)

// SegmentLimits defines safety guardrails for segment processing.
// These prevent unbounded resource usage and ensure backpressure.
type SegmentLimits struct {
	MaxAudioBytes int64         // Max buffered audio per segment
	MaxDuration   time.Duration // Max segment duration
	MaxPartials   int           // Max partial transcripts per segment
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() SegmentLimits {
	return SegmentLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // 5MB (~328 seconds at 8kHz 16-bit mono)
		MaxDuration:   5 * time.Minute, // 5 minutes max segment
		MaxPartials:   500,             // 500 partials max per segment
	}
}

// Sink receives guarded, segment-fenced transcript events. A pipeline
// Session implements this.
type Sink interface {
	OnPartial(segmentID uint64, text string)
	OnFinal(segmentID uint64, text string, confidence float64)
	OnForcedRestart(segmentID uint64)
	OnSegmentDropped(segmentID uint64, reason string)
	OnSegmentStarted(segmentID uint64)
}

// Handler sits between an stt.Adapter and a Sink. It implements
// stt.Callback itself, enforces SegmentLimits, and owns the segment
// state machine (segment.Lifecycle) and id generation
// (segment.Generator), issuing a monotonic numeric id per segment for
// the pipeline to fence on.
type Handler struct {
	adapter       stt.Adapter
	segmentGen    *segment.Generator
	interactionId string
	sink          Sink
	limits        SegmentLimits

	lifecycle *segment.Lifecycle

	mu               sync.Mutex
	ctx              context.Context
	numericSegmentID uint64
	segmentStartTime time.Time
	audioBytes       int64
	partialCount     int
}

// NewHandler creates a new audio handler for a transcription session.
func NewHandler(adapter stt.Adapter, segmentGen *segment.Generator, interactionId string, sink Sink) *Handler {
	return NewHandlerWithLimits(adapter, segmentGen, interactionId, sink, DefaultLimits())
}

// NewHandlerWithLimits creates a new audio handler with custom segment limits.
func NewHandlerWithLimits(adapter stt.Adapter, segmentGen *segment.Generator, interactionId string, sink Sink, limits SegmentLimits) *Handler {
	segmentId := segmentGen.Next(interactionId)
	return &Handler{
		adapter:          adapter,
		segmentGen:       segmentGen,
		interactionId:    interactionId,
		sink:             sink,
		limits:           limits,
		lifecycle:        segment.NewLifecycle(segmentId),
		numericSegmentID: 1,
		segmentStartTime: time.Now(),
	}
}

// Start begins the STT session with this handler as the callback receiver.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	if h.sink != nil {
		h.sink.OnSegmentStarted(h.numericSegmentID)
	}
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards audio bytes to the STT adapter. Returns an error
// if segment limits are exceeded, in which case the segment is dropped.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	h.mu.Lock()
	h.audioBytes += int64(len(audio))
	currentBytes := h.audioBytes
	startTime := h.segmentStartTime
	h.mu.Unlock()

	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}
	if h.limits.MaxDuration > 0 && time.Since(startTime) > h.limits.MaxDuration {
		reason := fmt.Sprintf("max duration exceeded: %v > %v", time.Since(startTime), h.limits.MaxDuration)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}

	return h.adapter.SendAudio(ctx, audio)
}

// Close ends the STT session and closes the current segment.
func (h *Handler) Close() error {
	h.lifecycle.Close()
	return h.adapter.Close()
}

// GetSegmentState returns the current segment lifecycle state.
func (h *Handler) GetSegmentState() segment.State {
	return h.lifecycle.State()
}

// SegmentMetrics holds current segment usage metrics.
type SegmentMetrics struct {
	AudioBytes   int64
	PartialCount int
	Duration     time.Duration
}

// GetSegmentMetrics returns current segment metrics for observability.
func (h *Handler) GetSegmentMetrics() SegmentMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return SegmentMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.segmentStartTime),
	}
}

// --- stt.Callback implementation ---

// OnPartial is called when an interim transcript is received.
func (h *Handler) OnPartial(text string) {
	if err := h.lifecycle.EmitPartial(); err != nil {
		log.Printf("OnPartial ignored: segmentId=%s state=%s err=%v",
			h.lifecycle.SegmentId(), h.lifecycle.State(), err)
		return
	}

	h.mu.Lock()
	h.partialCount++
	count := h.partialCount
	segID := h.numericSegmentID
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		reason := fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials)
		h.DropSegment(reason)
		return
	}

	if h.sink != nil {
		h.sink.OnPartial(segID, text)
	}
}

// OnFinal is called when a natural final transcript is received. A
// segment may legitimately see more than one stable result before the
// pipeline actually commits it (a provider can emit an early cut that is
// joined with what follows, or a late final can fold into an outstanding
// forced buffer), so EmitFinal only guards against events arriving after
// the segment has already closed or been dropped.
func (h *Handler) OnFinal(text string, confidence float64) {
	if err := h.lifecycle.EmitFinal(); err != nil {
		log.Printf("OnFinal ignored: segmentId=%s state=%s err=%v",
			h.lifecycle.SegmentId(), h.lifecycle.State(), err)
		return
	}

	h.mu.Lock()
	segID := h.numericSegmentID
	h.mu.Unlock()

	if h.sink != nil {
		h.sink.OnFinal(segID, text, confidence)
	}
}

// OnForcedRestart is called when the adapter must replace its decoder
// stream for reasons unrelated to natural endpointing. The sink flushes
// its best known hypothesis as a forced final before the segment
// rotates and the adapter restarts.
func (h *Handler) OnForcedRestart() {
	if err := h.lifecycle.MarkForcedPending(); err != nil {
		log.Printf("OnForcedRestart on an already-terminal segment: segmentId=%s state=%s err=%v",
			h.lifecycle.SegmentId(), h.lifecycle.State(), err)
	}

	h.mu.Lock()
	segID := h.numericSegmentID
	ctx := h.ctx
	h.mu.Unlock()

	if h.sink != nil {
		h.sink.OnForcedRestart(segID)
	}

	newID := h.rotateSegment()
	if h.sink != nil {
		h.sink.OnSegmentStarted(newID)
	}
	if ctx != nil {
		if err := h.adapter.Restart(ctx); err != nil {
			log.Printf("forced restart failed: interactionId=%s err=%v", h.interactionId, err)
		}
	}
}

// OnEndOfUtterance is called when the STT provider detects end of
// speech. The handler closes the current segment and rotates to a new
// one; any pending finalization for the old segment resolves on its own
// schedule, fenced to its own numeric id.
func (h *Handler) OnEndOfUtterance() {
	h.lifecycle.Close()
	newID := h.rotateSegment()
	if h.sink != nil {
		h.sink.OnSegmentStarted(newID)
	}
}

// OnError is called when an STT error occurs. The current segment is
// dropped - no final will be emitted. "Silence > bad data": it's better
// to emit nothing than incorrect or incomplete data.
func (h *Handler) OnError(err error) {
	h.DropSegment(fmt.Sprintf("stt error: %v", err))
}

// DropSegment explicitly drops the current segment without emitting a
// final. Use when the segment should be abandoned due to external
// factors (limits exceeded, transport loss, validation failure).
func (h *Handler) DropSegment(reason string) bool {
	segmentId := h.lifecycle.SegmentId()
	oldState := h.lifecycle.State()
	dropped := h.lifecycle.Drop()

	h.mu.Lock()
	segID := h.numericSegmentID
	h.mu.Unlock()

	log.Printf("Segment DROPPED: interactionId=%s segmentId=%s previousState=%s reason=%s",
		h.interactionId, segmentId, oldState, reason)

	if h.sink != nil {
		h.sink.OnSegmentDropped(segID, reason)
	}
	return dropped
}

// rotateSegment closes out the current numeric/string segment pair,
// resets per-segment metrics, and issues the next pair.
func (h *Handler) rotateSegment() uint64 {
	newStringId := h.segmentGen.Next(h.interactionId)
	h.lifecycle.Reset(newStringId)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioBytes = 0
	h.partialCount = 0
	h.segmentStartTime = time.Now()
	h.numericSegmentID++
	return h.numericSegmentID
}
