package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	ffmpeg := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "FFmpeg", Command: ffmpeg},
		{Name: "WhisperX", Command: "no-such-transcriber"},
		{Name: "yt-dlp", Command: "", Optional: true},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("resolvable binary misreported: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("missing binary misreported: %#v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unconfigured binary misreported: %#v", results[2])
	}
	if !results[2].Optional {
		t.Fatal("optional flag dropped")
	}
}
