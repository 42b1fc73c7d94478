package translate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"redub/internal/language"
	"redub/internal/services"
	"redub/internal/subtitle"
)

func systemPrompt(sourceLang, targetLang string) string {
	source := language.DisplayName(sourceLang)
	target := language.DisplayName(targetLang)
	return fmt.Sprintf(`You are a professional subtitle translator. Translate each numbered subtitle line from %s to %s.

Rules:
- Return exactly one output line per input line, keeping the same numbering ("N. text").
- Do not merge, split, reorder, or drop lines.
- Keep the translation natural and speakable; it will be voiced by a TTS engine.
- Keep proper names, numbers, and units intact.
- Output only the numbered translations, nothing else.`, source, target)
}

// numberedLines renders cues as "N. text" with internal newlines flattened
// so each cue stays on one line.
func numberedLines(cues []subtitle.Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		text := strings.Join(strings.Fields(cue.Text), " ")
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}
	return b.String()
}

var numberedLinePattern = regexp.MustCompile(`^\s*(\d+)[.):]\s*(.*)$`)

// parseNumberedLines recovers the per-cue translations from the model
// output. A count mismatch means cues were merged or dropped and the
// translation cannot be trusted to line up with timings.
func parseNumberedLines(content string, want int) ([]string, error) {
	lines := make([]string, want)
	seen := 0
	for _, raw := range strings.Split(content, "\n") {
		match := numberedLinePattern.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		ordinal, err := strconv.Atoi(match[1])
		if err != nil || ordinal < 1 || ordinal > want {
			continue
		}
		if lines[ordinal-1] == "" {
			seen++
		}
		lines[ordinal-1] = strings.TrimSpace(match[2])
	}
	if seen != want {
		return nil, services.Wrap(services.ErrTransient, "translate", "translate",
			fmt.Sprintf("expected %d translated lines, got %d", want, seen), nil)
	}
	for i, line := range lines {
		if line == "" {
			return nil, services.Wrap(services.ErrTransient, "translate", "translate",
				fmt.Sprintf("line %d came back empty", i+1), nil)
		}
	}
	return lines, nil
}
