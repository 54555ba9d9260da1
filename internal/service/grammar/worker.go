// Package grammar corrects recognizer output before it is broadcast,
// fixing punctuation, capitalization, and obvious transcription slips
// without altering meaning or wording choices.
package grammar

import (
	"context"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"
)

const (
	defaultModel   = shared.ChatModelGPT4oMini
	defaultTimeout = 2000 * time.Millisecond
	partialTimeout = 1200 * time.Millisecond
	maxOutputChars = 2000
)

const systemPrompt = `You correct grammar, punctuation, and capitalization in a single ` +
	`spoken-language transcript sentence. Preserve the original wording, word order, and ` +
	`meaning exactly. Do not translate, summarize, or add content. Reply with the corrected ` +
	`sentence only, no quotes, no commentary.`

// Worker implements pipeline.GrammarWorker against the OpenAI chat
// completion API. Corrections are cached per exact input text so a
// repeated forced/recovery commit for the same segment does not incur
// a second round trip.
type Worker struct {
	client oai.Client
	model  shared.ChatModel
	cache  *lruCache
}

// New constructs an OpenAI-backed grammar worker.
func New(apiKey string, opts ...option.RequestOption) *Worker {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Worker{
		client: oai.NewClient(reqOpts...),
		model:  defaultModel,
		cache:  newLRUCache(cacheCapacity),
	}
}

// WithModel overrides the chat model used for correction calls.
func (w *Worker) WithModel(model shared.ChatModel) *Worker {
	w.model = model
	return w
}

// CorrectFinal implements pipeline.GrammarWorker.
func (w *Worker) CorrectFinal(ctx context.Context, text string) (string, bool) {
	return w.correct(ctx, text, defaultTimeout, true)
}

// CorrectPartial implements pipeline.GrammarWorker. Partial corrections
// run on a tighter timeout and skip the cache write: a still-forming
// hypothesis is unlikely to recur verbatim, and polluting the small
// cache with interim shapes would evict the finals it exists for.
func (w *Worker) CorrectPartial(ctx context.Context, text string) (string, bool) {
	return w.correct(ctx, text, partialTimeout, false)
}

func (w *Worker) correct(ctx context.Context, text string, timeout time.Duration, cacheable bool) (string, bool) {
	if text == "" {
		return text, false
	}
	if cached, ok := w.cache.get(text); ok {
		return cached.text, cached.changed
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := w.client.Chat.Completions.New(callCtx, oai.ChatCompletionNewParams{
		Model: w.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("grammar correction failed, passing text through uncorrected")
		return text, false
	}
	if len(resp.Choices) == 0 {
		return text, false
	}

	corrected := resp.Choices[0].Message.Content
	if corrected == "" || len(corrected) > maxOutputChars {
		return text, false
	}

	changed := corrected != text
	// Only genuine corrections are remembered, and only when the model
	// didn't balloon the text (a >3x rewrite is a hallucination, not a
	// correction worth replaying).
	if cacheable && changed && len(corrected) <= 3*len(text) {
		w.cache.put(text, result{text: corrected, changed: true})
	}
	return corrected, changed
}
