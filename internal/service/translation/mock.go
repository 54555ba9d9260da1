package translation

import (
	"context"
	"fmt"

	"ai-speech-translate-core/internal/service/pipeline"
)

// MockWorker implements pipeline.TranslationWorker without any network
// dependency, for local development and tests. It produces a
// deterministic, clearly-fake translation tagged with the target
// language so integration tests can assert on fan-out shape without a
// live API key.
type MockWorker struct {
	// FailLangs, if set, causes TranslateToMultiple to report a
	// translation_error for the listed target languages instead of a
	// mock translation, exercising the has_translation=false path.
	FailLangs map[string]bool
}

// NewMock constructs a MockWorker.
func NewMock() *MockWorker {
	return &MockWorker{FailLangs: map[string]bool{}}
}

// TranslateToMultiple implements pipeline.TranslationWorker.
func (m *MockWorker) TranslateToMultiple(ctx context.Context, text, sourceLang string, targetLangs []string) map[string]pipeline.TranslationResult {
	results := make(map[string]pipeline.TranslationResult, len(targetLangs))
	for _, lang := range targetLangs {
		if m.FailLangs[lang] {
			results[lang] = pipeline.TranslationResult{Err: true}
			continue
		}
		results[lang] = pipeline.TranslationResult{Text: fmt.Sprintf("[%s] %s", lang, text)}
	}
	return results
}
