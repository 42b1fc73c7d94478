package daemon

import (
	"redub/internal/config"
	"redub/internal/deps"
)

// requirements lists the external binaries the configured pipeline shells
// out to. Transcription and download tooling is required; ffprobe is listed
// separately because duration probing runs in the mux stage.
func requirements(cfg *config.Config) []deps.Requirement {
	return []deps.Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Audio extraction, assembly, and final mux"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Media duration probing"},
		{Name: "yt-dlp", Command: cfg.Download.Binary, Description: "Remote video download", Optional: true},
		{Name: "WhisperX", Command: cfg.Transcribe.Binary, Description: "Speech transcription"},
	}
}

// CheckDependencies reports the availability of every configured binary.
func CheckDependencies(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(requirements(cfg))
}
