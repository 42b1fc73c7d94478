// Package language normalizes language codes and defines the language pairs
// each synthesis engine supports.
package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Supported transcription/translation languages. TTS coverage is narrower
// and engine-specific; see EngineTargets.
var supported = map[string]struct{}{
	"zh": {}, "en": {}, "ja": {}, "ko": {},
	"es": {}, "fr": {}, "de": {}, "ru": {}, "pt": {}, "it": {},
}

// engineTargets lists the target languages each TTS engine can speak.
var engineTargets = map[string][]string{
	"gptsovits": {"zh", "en", "ja", "ko"},
	"indextts":  {"zh", "en"},
}

// Normalize canonicalizes a language identifier ("zh-CN", "Chinese", "eng")
// to its ISO 639-1 base code. Returns an error for unparseable input.
func Normalize(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", fmt.Errorf("language code is empty")
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", trimmed, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// IsSupported reports whether code (after normalization) is a language the
// pipeline can transcribe and translate.
func IsSupported(code string) bool {
	normalized, err := Normalize(code)
	if err != nil {
		return false
	}
	_, ok := supported[normalized]
	return ok
}

// EngineTargets returns the target languages an engine supports, or nil for
// an unknown engine.
func EngineTargets(engine string) []string {
	targets, ok := engineTargets[strings.ToLower(strings.TrimSpace(engine))]
	if !ok {
		return nil
	}
	cp := make([]string, len(targets))
	copy(cp, targets)
	return cp
}

// ValidatePair checks that source and target are both supported and that the
// chosen engine can speak the target language.
func ValidatePair(source, target, engine string) error {
	src, err := Normalize(source)
	if err != nil {
		return err
	}
	tgt, err := Normalize(target)
	if err != nil {
		return err
	}
	if !IsSupported(src) {
		return fmt.Errorf("source language %q is not supported", source)
	}
	if !IsSupported(tgt) {
		return fmt.Errorf("target language %q is not supported", target)
	}
	if src == tgt {
		return fmt.Errorf("source and target language are both %q", src)
	}
	targets := EngineTargets(engine)
	if targets == nil {
		return fmt.Errorf("unknown tts engine %q", engine)
	}
	for _, candidate := range targets {
		if candidate == tgt {
			return nil
		}
	}
	return fmt.Errorf("engine %q cannot synthesize %q (supports %s)",
		engine, tgt, strings.Join(targets, ", "))
}

// DisplayName returns the English display name for a language code, or the
// code itself when it cannot be parsed.
func DisplayName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	return display.English.Tags().Name(tag)
}
