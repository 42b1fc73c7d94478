package subtitle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSRT decodes an SRT document into cues. Blocks with unparseable
// timestamps are rejected rather than skipped so a corrupt transcript never
// silently loses lines.
func ParseSRT(data []byte) ([]Cue, error) {
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	content = strings.TrimPrefix(content, "\uFEFF")
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")

	cues := make([]Cue, 0, len(blocks))
	for _, block := range blocks {
		lines := nonEmptyLines(block)
		if len(lines) == 0 {
			continue
		}
		// Optional ordinal line before the timing line.
		timingIdx := 0
		if !strings.Contains(lines[0], "-->") {
			if len(lines) < 2 || !strings.Contains(lines[1], "-->") {
				return nil, fmt.Errorf("srt block %d: missing timing line", len(cues)+1)
			}
			timingIdx = 1
		}
		start, end, err := parseTimingLine(lines[timingIdx])
		if err != nil {
			return nil, fmt.Errorf("srt block %d: %w", len(cues)+1, err)
		}
		text := strings.Join(lines[timingIdx+1:], "\n")
		cues = append(cues, Cue{
			Index: len(cues),
			Start: start,
			End:   end,
			Text:  text,
		})
	}
	return cues, nil
}

// FormatSRT renders cues as an SRT document. When bilingual is true and a
// cue carries both texts, the translation is written above the source line.
func FormatSRT(cues []Cue, bilingual bool) []byte {
	var sb strings.Builder
	for i, cue := range cues {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteByte('\n')
		sb.WriteString(formatTimestamp(cue.Start))
		sb.WriteString(" --> ")
		sb.WriteString(formatTimestamp(cue.End))
		sb.WriteByte('\n')
		switch {
		case bilingual && cue.Translation != "" && cue.Text != "":
			sb.WriteString(cue.Translation)
			sb.WriteByte('\n')
			sb.WriteString(cue.Text)
		case cue.Translation != "":
			sb.WriteString(cue.Translation)
		default:
			sb.WriteString(cue.Text)
		}
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

func nonEmptyLines(block string) []string {
	raw := strings.Split(block, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func parseTimingLine(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts HH:MM:SS,mmm; a period separator is tolerated since
// some generators emit it.
func parseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond
	return total, nil
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	millis := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
