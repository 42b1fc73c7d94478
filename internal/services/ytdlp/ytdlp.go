// Package ytdlp downloads source videos with the yt-dlp binary.
package ytdlp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

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

// Options configures a download.
type Options struct {
	URL         string
	OutputDir   string
	Format      string
	Fragments   int
	CookiesPath string
	ProxyURL    string
	RateLimit   string
}

// Client runs yt-dlp.
type Client struct {
	binary string
	run    Runner
}

func NewClient(binary string) *Client {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Client{binary: binary, run: defaultRunner}
}

// WithRunner sets a custom command runner (for testing).
func (c *Client) WithRunner(run Runner) {
	if run != nil {
		c.run = run
	}
}

// CheckDependencies verifies yt-dlp is on PATH.
func (c *Client) CheckDependencies() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return services.Wrap(services.ErrConfiguration, "ytdlp", "check dependencies",
			fmt.Sprintf("%s is not installed or not on PATH", c.binary), err)
	}
	return nil
}

// Download fetches the video into opts.OutputDir under a fixed file name so
// the caller can locate it without parsing yt-dlp output. Transient network
// failures are classified retryable.
func (c *Client) Download(ctx context.Context, opts Options) (string, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return "", services.Wrap(services.ErrValidation, "ytdlp", "download", "video URL is required", nil)
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return "", services.Wrap(services.ErrValidation, "ytdlp", "download", "output directory is required", nil)
	}
	fragments := opts.Fragments
	if fragments <= 0 {
		fragments = 4
	}
	format := strings.TrimSpace(opts.Format)
	if format == "" {
		format = "bv*+ba/b"
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"-N", fmt.Sprintf("%d", fragments),
		"-P", opts.OutputDir,
		"-o", "source.%(ext)s",
		"-f", format,
		"--merge-output-format", "mp4",
	}
	if strings.TrimSpace(opts.CookiesPath) != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	if strings.TrimSpace(opts.RateLimit) != "" {
		args = append(args, "--limit-rate", strings.TrimSpace(opts.RateLimit))
	}
	args = append(args, opts.URL)

	if output, err := c.run(ctx, c.binary, args...); err != nil {
		marker := services.ErrPermanent
		if isRetryableOutput(string(output)) || isRetryableOutput(err.Error()) {
			marker = services.ErrTransient
		}
		return "", services.Wrap(marker, "ytdlp", "download", "video download failed", err)
	}
	return locateDownload(opts.OutputDir)
}

// locateDownload finds the merged media file yt-dlp wrote.
func locateDownload(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "source.*"))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "ytdlp", "download", "cannot scan output directory", err)
	}
	for _, match := range matches {
		lower := strings.ToLower(match)
		if strings.HasSuffix(lower, ".part") || strings.HasSuffix(lower, ".ytdl") {
			continue
		}
		if info, err := os.Stat(match); err == nil && !info.IsDir() && info.Size() > 0 {
			return match, nil
		}
	}
	return "", services.Wrap(services.ErrPermanent, "ytdlp", "download", "yt-dlp completed but no output file was found", nil)
}

func isRetryableOutput(s string) bool {
	text := strings.ToLower(s)
	hints := []string{
		"429",
		"too many requests",
		"rate limit",
		"timed out",
		"timeout",
		"temporarily unavailable",
		"connection reset",
		"service unavailable",
		"network is unreachable",
		"http error 5",
	}
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}
