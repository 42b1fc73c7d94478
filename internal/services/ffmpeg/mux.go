package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"redub/internal/services"
)

// SubtitleStyle carries the ASS force_style parameters for burned-in
// subtitles.
type SubtitleStyle struct {
	Position     string // "bottom" or "top"
	FontSize     int
	FontColor    string
	OutlineColor string
	OutlineWidth int
	MarginV      int
	FontFile     string
}

// MuxSpec describes the final mux inputs.
type MuxSpec struct {
	Video        string
	DubbedAudio  string
	SubtitlePath string // SRT to burn in; empty skips the subtitle filter
	Style        SubtitleStyle
}

// assColor converts a named or hex RGB color to the &H<BGR>& form ASS
// styling wants.
func assColor(color string) string {
	named := map[string]string{
		"white":  "FFFFFF",
		"black":  "000000",
		"yellow": "FFFF00",
		"red":    "FF0000",
		"green":  "00FF00",
		"blue":   "0000FF",
	}
	hex := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if mapped, ok := named[strings.ToLower(hex)]; ok {
		hex = mapped
	}
	if len(hex) != 6 {
		hex = "FFFFFF"
	}
	// RGB to BGR.
	return fmt.Sprintf("&H%s%s%s&", hex[4:6], hex[2:4], hex[0:2])
}

func (style SubtitleStyle) forceStyle() string {
	alignment := 2 // bottom center
	if style.Position == "top" {
		alignment = 8
	}
	parts := []string{
		fmt.Sprintf("Alignment=%d", alignment),
		fmt.Sprintf("FontSize=%d", style.FontSize),
		fmt.Sprintf("PrimaryColour=%s", assColor(style.FontColor)),
		fmt.Sprintf("OutlineColour=%s", assColor(style.OutlineColor)),
		fmt.Sprintf("Outline=%d", style.OutlineWidth),
		fmt.Sprintf("MarginV=%d", style.MarginV),
	}
	return strings.Join(parts, ",")
}

// escapeFilterPath escapes a path for use inside an ffmpeg filter
// expression.
func escapeFilterPath(path string) string {
	replaced := strings.ReplaceAll(path, `\`, `\\`)
	replaced = strings.ReplaceAll(replaced, ":", `\:`)
	replaced = strings.ReplaceAll(replaced, "'", `\'`)
	return replaced
}

// Mux combines the original video stream with the dubbed audio track and
// optionally burns subtitles into the picture. The output is written to a
// temp file beside dest and renamed into place so an interrupted mux never
// leaves a truncated final video.
func (s *Service) Mux(ctx context.Context, spec MuxSpec, dest string) error {
	if spec.Video == "" || spec.DubbedAudio == "" {
		return services.Wrap(services.ErrValidation, "ffmpeg", "mux", "video and dubbed audio are required", nil)
	}
	temp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".part")
	defer os.Remove(temp)

	args := []string{
		"-y",
		"-i", spec.Video,
		"-i", spec.DubbedAudio,
	}
	if spec.SubtitlePath != "" {
		filter := fmt.Sprintf("subtitles='%s':force_style='%s'",
			escapeFilterPath(spec.SubtitlePath), spec.Style.forceStyle())
		if spec.Style.FontFile != "" {
			filter += fmt.Sprintf(":fontsdir='%s'", escapeFilterPath(filepath.Dir(spec.Style.FontFile)))
		}
		args = append(args, "-vf", filter)
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:a", "copy",
		"-f", outputFormat(dest),
		temp,
	)
	if _, err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrPermanent, "ffmpeg", "mux", "final mux failed", err)
	}
	if err := os.Rename(temp, dest); err != nil {
		return services.Wrap(services.ErrPermanent, "ffmpeg", "mux", "cannot move muxed output into place", err)
	}
	return nil
}

// outputFormat maps the destination extension to an explicit container
// format; the temp file's .part suffix defeats ffmpeg's own inference.
func outputFormat(dest string) string {
	switch strings.ToLower(filepath.Ext(dest)) {
	case ".mkv":
		return "matroska"
	case ".webm":
		return "webm"
	case ".mov":
		return "mov"
	default:
		return "mp4"
	}
}
