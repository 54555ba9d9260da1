package grammar

import (
	"context"
	"strings"
	"unicode"
)

// MockWorker implements pipeline.GrammarWorker without any network
// dependency, for local development and tests. It capitalizes the first
// letter and appends terminal punctuation when missing, which is enough
// to exercise the HasCorrection/CorrectedText path end to end.
type MockWorker struct{}

// NewMock constructs a MockWorker.
func NewMock() *MockWorker {
	return &MockWorker{}
}

// CorrectFinal implements pipeline.GrammarWorker.
func (MockWorker) CorrectFinal(ctx context.Context, text string) (string, bool) {
	if text == "" {
		return text, false
	}
	corrected := capitalizeFirst(text)
	if !endsWithPunctuation(corrected) {
		corrected += "."
	}
	return corrected, corrected != text
}

// CorrectPartial implements pipeline.GrammarWorker. Interim hypotheses
// only get the capitalization fix; appending punctuation to a sentence
// that is still being spoken would be wrong more often than right.
func (MockWorker) CorrectPartial(ctx context.Context, text string) (string, bool) {
	if text == "" {
		return text, false
	}
	corrected := capitalizeFirst(text)
	return corrected, corrected != text
}

func capitalizeFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func endsWithPunctuation(s string) bool {
	s = strings.TrimRight(s, " ")
	if s == "" {
		return true
	}
	last := rune(s[len(s)-1])
	return last == '.' || last == '!' || last == '?'
}
