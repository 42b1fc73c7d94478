// Package ffmpeg wraps the ffmpeg and ffprobe binaries for audio
// extraction, clip assembly, duration probing, and the final mux.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"redub/internal/services"
)

// Runner executes a command; injectable for tests.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// Service invokes ffmpeg/ffprobe.
type Service struct {
	ffmpegBinary  string
	ffprobeBinary string
	run           Runner
}

// NewService constructs an ffmpeg service. Empty binary names fall back to
// the commands on PATH.
func NewService(ffmpegBinary, ffprobeBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Service{
		ffmpegBinary:  ffmpegBinary,
		ffprobeBinary: ffprobeBinary,
		run:           defaultRunner,
	}
}

// WithRunner sets a custom command runner (for testing).
func (s *Service) WithRunner(run Runner) {
	if run != nil {
		s.run = run
	}
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration probes a media file's container duration.
func (s *Service) Duration(ctx context.Context, path string) (time.Duration, error) {
	output, err := s.run(ctx, s.ffprobeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "ffprobe", "probe duration", "cannot read media", err)
	}
	var parsed probeFormat
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, services.Wrap(services.ErrPermanent, "ffprobe", "probe duration", "unexpected ffprobe output", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "ffprobe", "probe duration", "missing duration field", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ExtractAudio pulls the audio stream into a WAV file at the given sample
// rate and channel count. 16 kHz mono is the shape speech models expect.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string, sampleRate, channels int) error {
	args := []string{
		"-y",
		"-i", source,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		dest,
	}
	if _, err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrPermanent, "ffmpeg", "extract audio", "audio extraction failed", err)
	}
	return nil
}

// ClipPlacement positions one synthesized clip on the output timeline.
type ClipPlacement struct {
	Path  string
	Start time.Duration
}

// AssembleTrack lays synthesized clips onto a silent base track at their
// cue offsets and encodes the result. Clips must already be sorted by cue
// ordinal; the adelay/amix graph preserves their positions regardless of
// synthesis completion order.
func (s *Service) AssembleTrack(ctx context.Context, clips []ClipPlacement, total time.Duration, dest, codec, quality string, sampleRate, channels int) error {
	if len(clips) == 0 {
		return services.Wrap(services.ErrValidation, "ffmpeg", "assemble track", "no clips to assemble", nil)
	}
	args := []string{"-y"}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filter strings.Builder
	labels := make([]string, 0, len(clips))
	for i, clip := range clips {
		delay := clip.Start.Milliseconds()
		label := fmt.Sprintf("a%d", i)
		fmt.Fprintf(&filter, "[%d:a]aresample=%d,adelay=%d:all=1[%s];", i, sampleRate, delay, label)
		labels = append(labels, "["+label+"]")
	}
	fmt.Fprintf(&filter, "%samix=inputs=%d:normalize=0,apad=whole_dur=%dms[out]",
		strings.Join(labels, ""), len(clips), total.Milliseconds())

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		"-acodec", codec,
		"-b:a", quality,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		dest,
	)
	if _, err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrPermanent, "ffmpeg", "assemble track", "clip assembly failed", err)
	}
	return nil
}
