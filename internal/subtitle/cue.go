// Package subtitle implements the SRT codec, the cue model, and the
// segmenter that turns a translated track into independently synthesizable
// lines.
package subtitle

import (
	"fmt"
	"time"
)

// Cue is a timed subtitle line. Index establishes playback order and is the
// join key used when synthesized clips are reassembled into one track.
type Cue struct {
	Index       int
	Start       time.Duration
	End         time.Duration
	Text        string
	Translation string
}

// Duration returns the cue's display duration.
func (c Cue) Duration() time.Duration {
	return c.End - c.Start
}

// SynthesisText returns the text to feed a TTS engine: the translation when
// present, otherwise the source text.
func (c Cue) SynthesisText() string {
	if c.Translation != "" {
		return c.Translation
	}
	return c.Text
}

// ValidateOrder checks that cues are strictly ordered by start time, do not
// overlap, and have positive durations.
func ValidateOrder(cues []Cue) error {
	for i, cue := range cues {
		if cue.End <= cue.Start {
			return fmt.Errorf("cue %d: end %s <= start %s", cue.Index, cue.End, cue.Start)
		}
		if i == 0 {
			continue
		}
		prev := cues[i-1]
		if cue.Start < prev.End {
			return fmt.Errorf("cue %d starts at %s before cue %d ends at %s",
				cue.Index, cue.Start, prev.Index, prev.End)
		}
		if cue.Start <= prev.Start {
			return fmt.Errorf("cue %d start %s not after cue %d start %s",
				cue.Index, cue.Start, prev.Index, prev.Start)
		}
	}
	return nil
}

// TotalDuration sums the display durations of all cues.
func TotalDuration(cues []Cue) time.Duration {
	var total time.Duration
	for _, cue := range cues {
		total += cue.Duration()
	}
	return total
}
