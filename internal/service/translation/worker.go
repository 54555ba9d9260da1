// Package translation fans a single corrected final out to every
// registered listener language, with a low-latency "premium" tier and a cheaper "standard"
// tier selectable per session.
package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	"ai-speech-translate-core/internal/service/pipeline"
)

// Tier selects which chat model backs a translation call. Premium
// trades cost for lower latency and higher quality on longer utterances;
// standard is the default for most sessions.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
)

const (
	premiumModel  = shared.ChatModelGPT4o
	standardModel = shared.ChatModelGPT4oMini

	defaultTimeout = 2000 * time.Millisecond
)

// Worker implements pipeline.TranslationWorker against the OpenAI chat
// completion API, fanning out one call per target language concurrently
// and bounding total in-flight calls with a semaphore sized from
// config.TranslationConfig.RateLimit (the STT and translation
// providers are rate-limited per project, not per session).
type Worker struct {
	client oai.Client
	model  shared.ChatModel
	sem    chan struct{}
}

// New constructs an OpenAI-backed translation worker for the given tier.
// rateLimit bounds the number of concurrent in-flight translation calls
// across all sessions sharing this Worker.
func New(apiKey string, tier Tier, rateLimit int, opts ...option.RequestOption) *Worker {
	model := standardModel
	if tier == TierPremium {
		model = premiumModel
	}
	if rateLimit <= 0 {
		rateLimit = 8
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Worker{
		client: oai.NewClient(reqOpts...),
		model:  model,
		sem:    make(chan struct{}, rateLimit),
	}
}

// TranslateToMultiple implements pipeline.TranslationWorker.
func (w *Worker) TranslateToMultiple(ctx context.Context, text, sourceLang string, targetLangs []string) map[string]pipeline.TranslationResult {
	results := make(map[string]pipeline.TranslationResult, len(targetLangs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lang := range targetLangs {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			res := w.translateOne(ctx, text, sourceLang, lang)
			mu.Lock()
			results[lang] = res
			mu.Unlock()
		}(lang)
	}
	wg.Wait()
	return results
}

func (w *Worker) translateOne(ctx context.Context, text, sourceLang, targetLang string) pipeline.TranslationResult {
	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
	case <-ctx.Done():
		return pipeline.TranslationResult{Err: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. Preserve meaning and tone. "+
			"Reply with only the translation, no quotes or commentary.\n\n%s",
		sourceLang, targetLang, text,
	)

	resp, err := w.client.Chat.Completions.New(callCtx, oai.ChatCompletionNewParams{
		Model: w.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("targetLang", targetLang).Msg("translation call failed")
		return pipeline.TranslationResult{Err: true}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return pipeline.TranslationResult{Err: true}
	}
	return pipeline.TranslationResult{Text: resp.Choices[0].Message.Content}
}
