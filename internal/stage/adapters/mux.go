package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services"
	"redub/internal/services/ffmpeg"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// Mux assembles the synthesized clips into one dubbed audio track, burns
// the subtitle track into the picture, and produces the final video.
// Clip inputs must arrive ordered by cue ordinal; the scheduler sorts the
// synthesize fan-in before dispatch. The struct fields are daemon-level
// defaults; per-job overrides arrive as node parameters.
type Mux struct {
	FFmpeg     *ffmpeg.Service
	Style      ffmpeg.SubtitleStyle
	Bilingual  bool
	AudioCodec string
	Quality    string
	SampleRate int
	Channels   int
}

func (m *Mux) styleFrom(params map[string]string) (ffmpeg.SubtitleStyle, bool) {
	style := m.Style
	bilingual := m.Bilingual
	if v := params["position"]; v != "" {
		style.Position = v
	}
	if n, err := strconv.Atoi(params["font_size"]); err == nil && n > 0 {
		style.FontSize = n
	}
	if v := params["font_color"]; v != "" {
		style.FontColor = v
	}
	if v := params["outline_color"]; v != "" {
		style.OutlineColor = v
	}
	if n, err := strconv.Atoi(params["outline_width"]); err == nil && n > 0 {
		style.OutlineWidth = n
	}
	if n, err := strconv.Atoi(params["margin_v"]); err == nil && n > 0 {
		style.MarginV = n
	}
	if v := params["bilingual"]; v != "" {
		bilingual = v == "true"
	}
	return style, bilingual
}

func (m *Mux) encodeFrom(params map[string]string) (codec, quality string, sampleRate, channels int) {
	codec, quality, sampleRate, channels = m.AudioCodec, m.Quality, m.SampleRate, m.Channels
	if v := params["audio_codec"]; v != "" {
		codec = v
	}
	if v := params["quality"]; v != "" {
		quality = v
	}
	if n, err := strconv.Atoi(params["sample_rate"]); err == nil && n > 0 {
		sampleRate = n
	}
	if n, err := strconv.Atoi(params["channels"]); err == nil && n > 0 {
		channels = n
	}
	return codec, quality, sampleRate, channels
}

func (m *Mux) Kind() stage.NodeKind { return stage.KindMux }

func (m *Mux) Deterministic() bool { return true }

func (m *Mux) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	video, err := requiredInput(req, artifact.KindRawVideo, "mux")
	if err != nil {
		return artifact.Artifact{}, err
	}
	track, err := requiredInput(req, artifact.KindSubtitleTrack, "mux")
	if err != nil {
		return artifact.Artifact{}, err
	}
	clips := req.InputsOf(artifact.KindSynthClip)
	if len(clips) == 0 {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, "mux", "invoke", "no synthesized clips", nil)
	}

	cues, err := readCues(ctx, req, track)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if len(clips) != len(cues) {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, "mux", "invoke",
			fmt.Sprintf("%d clips for %d cues", len(clips), len(cues)), nil)
	}

	videoPath, err := materialize(ctx, req, video, "source-video")
	if err != nil {
		return artifact.Artifact{}, err
	}
	placements := make([]ffmpeg.ClipPlacement, len(clips))
	for i, clip := range clips {
		clipPath, err := materialize(ctx, req, clip, fmt.Sprintf("clip-%04d.wav", i))
		if err != nil {
			return artifact.Artifact{}, err
		}
		placements[i] = ffmpeg.ClipPlacement{Path: clipPath, Start: cues[i].Start}
	}

	total, err := m.FFmpeg.Duration(ctx, videoPath)
	if err != nil {
		return artifact.Artifact{}, err
	}

	codec, quality, sampleRate, channels := m.encodeFrom(req.Params)
	style, bilingual := m.styleFrom(req.Params)

	req.Logger.Info("assembling dubbed audio track", logging.Int("clips", len(placements)))
	dubbedPath := filepath.Join(req.WorkDir, "dubbed.m4a")
	if err := m.FFmpeg.AssembleTrack(ctx, placements, total, dubbedPath, codec, quality, sampleRate, channels); err != nil {
		return artifact.Artifact{}, err
	}

	subtitlePath := filepath.Join(req.WorkDir, "subtitles.srt")
	if err := os.WriteFile(subtitlePath, subtitle.FormatSRT(cues, bilingual), 0o644); err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "mux", "invoke", "write subtitle file", err)
	}

	finalPath := filepath.Join(req.WorkDir, "final.mp4")
	req.Logger.Info("muxing final video")
	err = m.FFmpeg.Mux(ctx, ffmpeg.MuxSpec{
		Video:        videoPath,
		DubbedAudio:  dubbedPath,
		SubtitlePath: subtitlePath,
		Style:        style,
	}, finalPath)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return putFile(ctx, req, artifact.KindFinalVideo, finalPath)
}
