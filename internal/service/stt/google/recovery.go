package google

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// RecoveryTranscriber re-transcribes a short captured audio window
// through a secondary, single-shot streaming call configured the way
// the Recovery Stream Engine needs: punctuation disabled, the enhanced
// model, and no auto-restart, since the call is discarded after one
// pass regardless of outcome.
type RecoveryTranscriber struct {
	client *speech.Client
	config Config
}

// NewRecoveryTranscriber wraps an existing Speech client for recovery
// passes. It does not own the client's lifecycle; callers close it
// alongside the primary adapter's client.
func NewRecoveryTranscriber(client *speech.Client, cfg Config) *RecoveryTranscriber {
	return &RecoveryTranscriber{client: client, config: cfg}
}

// TranscribeOnce implements pipeline.RecoveryTranscriber.
func (r *RecoveryTranscriber) TranscribeOnce(ctx context.Context, audio []byte, sourceLang string) (string, error) {
	stream, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		return "", err
	}

	lang := sourceLang
	if lang == "" {
		lang = r.config.LanguageCode
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(r.config.AudioEncoding),
					SampleRateHertz:            int32(r.config.SampleRateHz),
					LanguageCode:               lang,
					UseEnhanced:                true,
					EnableAutomaticPunctuation: false,
				},
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	})
	if err != nil {
		return "", err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return "", err
	}
	if err := stream.CloseSend(); err != nil {
		return "", err
	}

	var best, lastPartial string
	for {
		resp, err := stream.Recv()
		if err != nil {
			break
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			transcript := result.Alternatives[0].Transcript
			if result.IsFinal {
				if len(transcript) > len(best) {
					best = transcript
				}
			} else {
				lastPartial = transcript
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	// A short window often drains before the recognizer finalizes; the
	// last interim hypothesis is still better than nothing.
	if best == "" {
		best = lastPartial
	}
	return best, nil
}
