package subtitle

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"redub/internal/services"
)

// sentence-ending punctuation, Latin and CJK. Clause separators are tried
// only when no sentence boundary fits the budget.
const (
	sentenceEnders = ".!?。！？…"
	clauseEnders   = ",;:，；：、"
)

// Segment splits cues whose synthesis text exceeds maxLineChars into
// independently synthesizable pieces. Splits prefer sentence boundaries,
// then clause boundaries, then a hard character-budget cut. Piece timings
// are apportioned by rune share of the cue's duration; a piece is never
// shorter than minCueDuration (it merges into a neighbor instead). Output cues
// are reindexed and guaranteed strictly ordered and non-overlapping.
func Segment(cues []Cue, maxLineChars int, minCueDuration time.Duration) ([]Cue, error) {
	if maxLineChars <= 0 {
		return nil, services.Wrap(services.ErrValidation, "segment", "split cues",
			fmt.Sprintf("max line chars must be positive, got %d", maxLineChars), nil)
	}
	if err := ValidateOrder(cues); err != nil {
		return nil, services.Wrap(services.ErrPermanent, "segment", "validate input track", err.Error(), err)
	}

	out := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		text := strings.TrimSpace(cue.SynthesisText())
		if text == "" {
			continue
		}
		pieces := splitBudget(text, maxLineChars)
		if len(pieces) == 1 {
			copyCue := cue
			copyCue.Index = len(out)
			out = append(out, copyCue)
			continue
		}
		out = append(out, apportion(cue, pieces, minCueDuration, len(out))...)
	}

	if err := ValidateOrder(out); err != nil {
		return nil, services.Wrap(services.ErrPermanent, "segment", "validate output track", err.Error(), err)
	}
	return out, nil
}

// splitBudget breaks text into chunks of at most budget runes, preferring
// sentence boundaries, then clause boundaries, then a hard cut.
func splitBudget(text string, budget int) []string {
	if utf8.RuneCountInString(text) <= budget {
		return []string{text}
	}
	var chunks []string
	remaining := []rune(text)
	for len(remaining) > budget {
		cut := boundaryBefore(remaining, budget, sentenceEnders)
		if cut <= 0 {
			cut = boundaryBefore(remaining, budget, clauseEnders)
		}
		if cut <= 0 {
			cut = lastSpaceBefore(remaining, budget)
		}
		if cut <= 0 {
			cut = budget
		}
		chunk := strings.TrimSpace(string(remaining[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[cut:])))
	}
	if tail := strings.TrimSpace(string(remaining)); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// boundaryBefore returns the index just past the last rune from enders
// within the first limit runes, or 0 when none exists.
func boundaryBefore(runes []rune, limit int, enders string) int {
	for i := limit - 1; i > 0; i-- {
		if strings.ContainsRune(enders, runes[i]) {
			return i + 1
		}
	}
	return 0
}

func lastSpaceBefore(runes []rune, limit int) int {
	for i := limit - 1; i > 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return 0
}

// apportion distributes a cue's time across split pieces proportional to
// rune count. Pieces that would fall under minCueDuration are folded into a
// neighbor (the predecessor when one exists, the next piece otherwise) so
// no degenerate near-zero cue is emitted. Split pieces carry the synthesis
// text only; the source text cannot be aligned to sub-cue boundaries.
func apportion(cue Cue, pieces []string, minCueDuration time.Duration, nextIndex int) []Cue {
	totalRunes := 0
	for _, piece := range pieces {
		totalRunes += utf8.RuneCountInString(piece)
	}
	total := cue.Duration()

	out := make([]Cue, 0, len(pieces))
	cursor := cue.Start
	carry := ""
	for i, piece := range pieces {
		if carry != "" {
			piece = strings.TrimSpace(carry + " " + piece)
			carry = ""
		}
		share := time.Duration(float64(total) * float64(utf8.RuneCountInString(piece)) / float64(totalRunes))
		end := cursor + share
		if i == len(pieces)-1 {
			end = cue.End
		}
		if end-cursor < minCueDuration {
			if len(out) > 0 {
				// Too short to stand alone; fold into the previous piece.
				last := &out[len(out)-1]
				last.End = end
				last.Translation = strings.TrimSpace(last.Translation + " " + piece)
				cursor = end
				continue
			}
			if i < len(pieces)-1 {
				// No predecessor yet; fold into the next piece instead.
				carry = piece
				continue
			}
		}
		out = append(out, Cue{
			Index:       nextIndex + len(out),
			Start:       cursor,
			End:         end,
			Translation: piece,
		})
		cursor = end
	}

	// A single merged survivor keeps the cue's full span.
	if len(out) == 1 {
		out[0].Start = cue.Start
		out[0].End = cue.End
		out[0].Text = cue.Text
	}
	return out
}
