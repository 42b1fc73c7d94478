// Package whisperx runs the whisperx CLI to transcribe audio into SRT
// subtitles with word-aligned timings.
package whisperx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"redub/internal/services"
	"redub/internal/subtitle"
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

// Options configures a transcription run.
type Options struct {
	AudioPath   string
	Language    string // source language code; empty lets whisperx detect
	Model       string
	Device      string
	ComputeType string
	BatchSize   int
	OutputDir   string
}

// Client runs whisperx.
type Client struct {
	binary string
	run    Runner
}

func NewClient(binary string) *Client {
	if binary == "" {
		binary = "whisperx"
	}
	return &Client{binary: binary, run: defaultRunner}
}

// WithRunner sets a custom command runner (for testing).
func (c *Client) WithRunner(run Runner) {
	if run != nil {
		c.run = run
	}
}

// CheckDependencies verifies whisperx is on PATH.
func (c *Client) CheckDependencies() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return services.Wrap(services.ErrConfiguration, "whisperx", "check dependencies",
			fmt.Sprintf("%s is not installed or not on PATH", c.binary), err)
	}
	return nil
}

// Transcribe runs whisperx over the audio file and returns the parsed cues.
// whisperx writes <audio-basename>.srt into the output directory.
func (c *Client) Transcribe(ctx context.Context, opts Options) ([]subtitle.Cue, error) {
	if strings.TrimSpace(opts.AudioPath) == "" {
		return nil, services.Wrap(services.ErrValidation, "whisperx", "transcribe", "audio path is required", nil)
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, services.Wrap(services.ErrValidation, "whisperx", "transcribe", "output directory is required", nil)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "large-v3"
	}

	args := []string{
		opts.AudioPath,
		"--model", model,
		"--output_format", "srt",
		"--output_dir", opts.OutputDir,
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	if opts.ComputeType != "" {
		args = append(args, "--compute_type", opts.ComputeType)
	}
	if opts.BatchSize > 0 {
		args = append(args, "--batch_size", fmt.Sprintf("%d", opts.BatchSize))
	}

	if _, err := c.run(ctx, c.binary, args...); err != nil {
		return nil, services.Wrap(services.ErrPermanent, "whisperx", "transcribe", "transcription failed", err)
	}

	base := strings.TrimSuffix(filepath.Base(opts.AudioPath), filepath.Ext(opts.AudioPath))
	srtPath := filepath.Join(opts.OutputDir, base+".srt")
	data, err := os.ReadFile(srtPath)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "whisperx", "transcribe", "whisperx completed but output SRT is missing", err)
	}
	cues, err := subtitle.ParseSRT(data)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "whisperx", "transcribe", "whisperx produced unparseable SRT", err)
	}
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrPermanent, "whisperx", "transcribe", "no speech detected in audio", nil)
	}
	return cues, nil
}
