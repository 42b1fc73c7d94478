package adapters

import (
	"context"
	"time"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// Segment splits translated cues into synthesizable pieces. Pure and
// deterministic; exists as its own node so the synthesize fan-out has a
// stable input artifact to key against.
type Segment struct {
	MaxLineChars   int
	MinCueDuration time.Duration
}

func (s *Segment) Kind() stage.NodeKind { return stage.KindSegment }

func (s *Segment) Deterministic() bool { return true }

func (s *Segment) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	track, err := requiredInput(req, artifact.KindSubtitleTrack, "segment")
	if err != nil {
		return artifact.Artifact{}, err
	}
	cues, err := readCues(ctx, req, track)
	if err != nil {
		return artifact.Artifact{}, err
	}

	maxLineChars := intParam(req.Params, "max_line_chars", s.MaxLineChars)
	minCueMillis := intParam(req.Params, "min_cue_millis", int(s.MinCueDuration/time.Millisecond))

	segmented, err := subtitle.Segment(cues, maxLineChars, time.Duration(minCueMillis)*time.Millisecond)
	if err != nil {
		return artifact.Artifact{}, err
	}
	req.Logger.Info("segmented subtitle track",
		logging.Int("in", len(cues)),
		logging.Int("out", len(segmented)))
	return putCues(ctx, req, segmented)
}
