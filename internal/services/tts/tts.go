// Package tts defines the synthesis engine contract shared by the
// GPT-SoVITS and IndexTTS clients.
package tts

import (
	"context"
	"strings"
)

// Engine names accepted in job requests and config.
const (
	EngineGPTSoVITS = "gptsovits"
	EngineIndexTTS  = "indextts"
)

// SpeechRequest describes a single cue to voice.
type SpeechRequest struct {
	Text     string
	Language string // target language code for the synthesized speech
}

// Engine produces WAV audio for one piece of text. Implementations clone
// the reference speaker's voice configured at construction time.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// NormalizeEngineName lowercases and trims an engine name from user input.
func NormalizeEngineName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
