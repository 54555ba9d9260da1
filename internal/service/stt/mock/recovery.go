package mock

import (
	"context"
	"fmt"
)

// RecoveryTranscriber implements pipeline.RecoveryTranscriber without a
// cloud dependency: it treats the captured audio window as one
// additional word of recovered speech, which is enough to exercise the
// Recovery Stream Engine's merge path end to end in local development
// and tests.
type RecoveryTranscriber struct {
	// Word is appended as the recovered transcript for every call; tests
	// override it to simulate a specific decoder-gap recovery.
	Word string
}

// NewRecoveryTranscriber constructs a RecoveryTranscriber with the given
// canned recovered word.
func NewRecoveryTranscriber(word string) *RecoveryTranscriber {
	if word == "" {
		word = "desires"
	}
	return &RecoveryTranscriber{Word: word}
}

// TranscribeOnce implements pipeline.RecoveryTranscriber.
func (r *RecoveryTranscriber) TranscribeOnce(ctx context.Context, audio []byte, sourceLang string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("mock recovery: no audio captured")
	}
	return r.Word, nil
}
