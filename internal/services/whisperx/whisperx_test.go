package whisperx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"redub/internal/services"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,000
Hello there.

2
00:00:02,500 --> 00:00:04,000
General greeting.
`

func TestTranscribeParsesOutputSRT(t *testing.T) {
	dir := t.TempDir()
	client := NewClient("")
	var gotArgs []string
	client.WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, os.WriteFile(filepath.Join(dir, "audio.srt"), []byte(sampleSRT), 0o644)
	})

	cues, err := client.Transcribe(context.Background(), Options{
		AudioPath: "/work/audio.wav",
		Language:  "en",
		OutputDir: dir,
		BatchSize: 16,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("cues = %d, want 2", len(cues))
	}
	if cues[0].Text != "Hello there." {
		t.Fatalf("first cue = %q", cues[0].Text)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"--model large-v3", "--output_format srt", "--language en", "--batch_size 16"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
}

func TestTranscribeFailsWhenOutputMissing(t *testing.T) {
	client := NewClient("")
	client.WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil
	})

	_, err := client.Transcribe(context.Background(), Options{
		AudioPath: "/work/audio.wav",
		OutputDir: t.TempDir(),
	})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("want permanent error for missing SRT, got %v", err)
	}
}

func TestTranscribeRejectsEmptyTranscript(t *testing.T) {
	dir := t.TempDir()
	client := NewClient("")
	client.WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		return nil, os.WriteFile(filepath.Join(dir, "audio.srt"), []byte("\n"), 0o644)
	})

	_, err := client.Transcribe(context.Background(), Options{AudioPath: "audio.wav", OutputDir: dir})
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestTranscribeValidatesInputs(t *testing.T) {
	client := NewClient("")
	if _, err := client.Transcribe(context.Background(), Options{OutputDir: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}
