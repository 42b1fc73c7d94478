package adapters

import (
	"context"
	"path/filepath"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services/ffmpeg"
	"redub/internal/stage"
)

// Demux extracts the audio track as a mono 16 kHz WAV, the shape the
// transcriber expects.
type Demux struct {
	FFmpeg     *ffmpeg.Service
	SampleRate int
	Channels   int
}

func (d *Demux) Kind() stage.NodeKind { return stage.KindDemux }

func (d *Demux) Deterministic() bool { return true }

func (d *Demux) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	video, err := requiredInput(req, artifact.KindRawVideo, "demux")
	if err != nil {
		return artifact.Artifact{}, err
	}
	videoPath, err := materialize(ctx, req, video, "source-video")
	if err != nil {
		return artifact.Artifact{}, err
	}

	sampleRate := d.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := d.Channels
	if channels <= 0 {
		channels = 1
	}

	audioPath := filepath.Join(req.WorkDir, "audio.wav")
	req.Logger.Info("extracting audio track",
		logging.Int("sample_rate", sampleRate),
		logging.Int("channels", channels))
	if err := d.FFmpeg.ExtractAudio(ctx, videoPath, audioPath, sampleRate, channels); err != nil {
		return artifact.Artifact{}, err
	}
	return putFile(ctx, req, artifact.KindAudioTrack, audioPath)
}
