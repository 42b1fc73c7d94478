package adapters

import (
	"bytes"
	"context"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services"
	"redub/internal/services/whisperx"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// Transcribe runs whisperx over the extracted audio and stores the result
// as an SRT transcript.
type Transcribe struct {
	Client      *whisperx.Client
	Model       string
	Device      string
	ComputeType string
	BatchSize   int
}

func (t *Transcribe) Kind() stage.NodeKind { return stage.KindTranscribe }

// Deterministic is false: GPU inference is not bit-stable across runs.
func (t *Transcribe) Deterministic() bool { return false }

func (t *Transcribe) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	audio, err := requiredInput(req, artifact.KindAudioTrack, "transcribe")
	if err != nil {
		return artifact.Artifact{}, err
	}
	audioPath, err := materialize(ctx, req, audio, "audio.wav")
	if err != nil {
		return artifact.Artifact{}, err
	}

	language := req.Params["source_lang"]
	req.Logger.Info("transcribing audio", logging.String("language", language))
	cues, err := t.Client.Transcribe(ctx, whisperx.Options{
		AudioPath:   audioPath,
		Language:    language,
		Model:       t.Model,
		Device:      t.Device,
		ComputeType: t.ComputeType,
		BatchSize:   t.BatchSize,
		OutputDir:   req.WorkDir,
	})
	if err != nil {
		return artifact.Artifact{}, err
	}
	if err := subtitle.ValidateOrder(cues); err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "transcribe", "invoke", "transcript cues are out of order", err)
	}

	encoded := subtitle.FormatSRT(cues, false)
	art, err := req.Store.Put(ctx, req.JobID, req.Key, artifact.KindTranscript, bytes.NewReader(encoded))
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "transcribe", "store", "store transcript", err)
	}
	req.Logger.Info("transcription complete", logging.Int("cues", len(cues)))
	return art, nil
}
