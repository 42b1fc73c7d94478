package adapters

import (
	"context"
	"io"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services"
	"redub/internal/services/translate"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// Translate fills the Translation of every transcript cue via the chat
// completion API and stores the result as a JSON cue list.
type Translate struct {
	Client *translate.Client
}

func (t *Translate) Kind() stage.NodeKind { return stage.KindTranslate }

// Deterministic is false: the model can phrase the same line differently
// across calls.
func (t *Translate) Deterministic() bool { return false }

func (t *Translate) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	transcript, err := requiredInput(req, artifact.KindTranscript, "translate")
	if err != nil {
		return artifact.Artifact{}, err
	}
	reader, err := req.Store.Get(ctx, req.JobID, transcript.Key)
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "translate", "invoke", "read transcript", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "translate", "invoke", "read transcript", err)
	}
	cues, err := subtitle.ParseSRT(data)
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "translate", "invoke", "parse transcript", err)
	}

	sourceLang := req.Params["source_lang"]
	targetLang := req.Params["target_lang"]
	req.Logger.Info("translating cues",
		logging.Int("cues", len(cues)),
		logging.String("source_lang", sourceLang),
		logging.String("target_lang", targetLang))

	translated, err := t.Client.Translate(ctx, cues, sourceLang, targetLang)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return putCues(ctx, req, translated)
}
