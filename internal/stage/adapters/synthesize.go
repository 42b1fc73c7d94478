package adapters

import (
	"bytes"
	"context"
	"fmt"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services"
	"redub/internal/services/tts"
	"redub/internal/stage"
)

// Synthesize voices one cue of the segmented track through a TTS engine.
// One adapter instance per registered engine; the scheduler fans a
// synthesize node out per cue with the cue ordinal in params.
type Synthesize struct {
	Engine tts.Engine
}

func (s *Synthesize) Kind() stage.NodeKind { return stage.KindSynthesize }

// Deterministic is false: TTS inference is seeded randomly server-side.
func (s *Synthesize) Deterministic() bool { return false }

func (s *Synthesize) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	track, err := requiredInput(req, artifact.KindSubtitleTrack, "synthesize")
	if err != nil {
		return artifact.Artifact{}, err
	}
	cues, err := readCues(ctx, req, track)
	if err != nil {
		return artifact.Artifact{}, err
	}

	cueIndex := intParam(req.Params, "cue_index", -1)
	if cueIndex < 0 || cueIndex >= len(cues) {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, "synthesize", "invoke",
			fmt.Sprintf("cue index %d out of range (%d cues)", cueIndex, len(cues)), nil)
	}
	cue := cues[cueIndex]

	req.Logger.Info("synthesizing cue",
		logging.Int("cue_index", cueIndex),
		logging.String("engine", s.Engine.Name()))
	audio, err := s.Engine.Synthesize(ctx, tts.SpeechRequest{
		Text:     cue.SynthesisText(),
		Language: req.Params["target_lang"],
	})
	if err != nil {
		return artifact.Artifact{}, err
	}

	art, err := req.Store.Put(ctx, req.JobID, req.Key, artifact.KindSynthClip, bytes.NewReader(audio))
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "synthesize", "store", "store clip", err)
	}
	return art, nil
}
