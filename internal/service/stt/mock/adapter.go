// Package mock provides a mock STT adapter for testing without cloud credentials.
// It simulates realistic speech-to-text behavior with progressive partial transcripts,
// a final transcript or a forced decoder restart per utterance, and utterance
// boundary detection.
package mock

import (
	"context"
	"sync"
	"time"

	"ai-speech-translate-core/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final

	// ForcesRestart simulates a provider-side decoder cutoff (e.g. Google's
	// single-utterance stream duration limit): instead of a
	// natural final, the adapter raises OnForcedRestart after the last
	// partial, leaving the pipeline's Forced Commit Engine to decide what
	// to do with the in-flight hypothesis. No OnFinal/OnEndOfUtterance is
	// sent for this utterance; the next utterance begins once Restart is
	// called, the same way Restart resumes a fresh Google stream.
	ForcesRestart bool
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:      []string{"Can you help me with", "Can you help me with my account bal"},
		ForcesRestart: true,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Adapter implements stt.Adapter with mock responses.
// It simulates realistic STT behavior:
// - Multiple partial transcripts as audio is received
// - A final transcript, or a forced restart, when the utterance ends
// - End-of-utterance detection after a natural final
type Adapter struct {
	cb                 stt.Callback
	mu                 sync.Mutex
	audioReceived      int                // Count of audio frames received
	utterance          SimulatedUtterance // Current utterance being simulated
	utteranceIndex     int                // Index into DefaultUtterances, advanced on Restart
	partialIndex       int                // Next partial to send
	finalSent          bool               // Ensures only one final per utterance
	endOfUtteranceSent bool               // Ensures only one end-of-utterance per utterance
	restartSent        bool               // Ensures only one forced restart per utterance
	closed             bool
}

// utteranceCounter tracks which utterance to use next (cycles through defaults)
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a new mock STT adapter.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		utterance:      DefaultUtterances[idx],
		utteranceIndex: idx,
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.cb = cb
	return nil
}

// SendAudio simulates receiving audio and triggers progressive partial transcripts.
// When all partials are sent, it simulates end-of-utterance detection (like silence detection).
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	a.audioReceived++

	// Send next partial if available (one partial per audio frame)
	if a.partialIndex < len(a.utterance.Partials) {
		partial := a.utterance.Partials[a.partialIndex]
		a.partialIndex++

		// Simulate processing delay
		go func(text string) {
			time.Sleep(50 * time.Millisecond)
			a.mu.Lock()
			if !a.closed && a.cb != nil {
				a.cb.OnPartial(text)
			}
			a.mu.Unlock()
		}(partial)
	} else if a.utterance.ForcesRestart && !a.restartSent {
		// All partials sent for an utterance that simulates a provider-side
		// decoder cutoff: raise the forced-restart signal instead of a
		// natural final. The caller owns deciding what happens to the
		// in-flight hypothesis and is expected to call Restart.
		a.restartSent = true

		go func() {
			time.Sleep(100 * time.Millisecond)
			a.mu.Lock()
			cb := a.cb
			closed := a.closed
			a.mu.Unlock()

			if !closed && cb != nil {
				cb.OnForcedRestart()
			}
		}()
	} else if !a.utterance.ForcesRestart && !a.finalSent {
		// All partials sent - simulate utterance completion
		// This mimics silence detection triggering end of utterance
		a.finalSent = true
		a.endOfUtteranceSent = true

		go func() {
			time.Sleep(100 * time.Millisecond)
			a.mu.Lock()
			cb := a.cb
			closed := a.closed
			utt := a.utterance
			a.mu.Unlock()

			if !closed && cb != nil {
				// Send final transcript
				cb.OnFinal(utt.Final, utt.Confidence)
				// Signal end of utterance (speaker stopped talking)
				cb.OnEndOfUtterance()
			}
		}()
	}

	return nil
}

// Restart simulates the provider handing the session a new decoder stream
// after a forced restart, mirroring google.Adapter.Restart: the callback is
// preserved and simulation advances to the next default utterance so audio
// arriving after the restart produces fresh partials.
func (a *Adapter) Restart(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.utteranceIndex = (a.utteranceIndex + 1) % len(DefaultUtterances)
	a.utterance = DefaultUtterances[a.utteranceIndex]
	a.partialIndex = 0
	a.finalSent = false
	a.endOfUtteranceSent = false
	a.restartSent = false
	return nil
}

// Close ends the mock session.
// If final wasn't sent via SendAudio (stream ended early), send it now.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	// If final wasn't sent yet (stream ended before natural utterance end),
	// send final now based on whatever partials we received. An utterance
	// simulating a forced restart has no final text to send; the forced
	// signal already handed the hypothesis to the caller.
	if !a.finalSent && !a.utterance.ForcesRestart && !a.restartSent && a.cb != nil {
		a.finalSent = true
		go func() {
			time.Sleep(100 * time.Millisecond)
			a.cb.OnFinal(a.utterance.Final, a.utterance.Confidence)
		}()
	}

	return nil
}
