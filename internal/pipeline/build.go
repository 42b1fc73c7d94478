package pipeline

import (
	"fmt"
	"strconv"

	"redub/internal/stage"
)

// BuildParams carries the job settings that become node parameters. Params
// feed the content-addressed key derivation, so anything that should force
// a re-run when changed belongs here.
type BuildParams struct {
	JobID        string
	Source       string
	SourceLang   string
	TargetLang   string
	Engine       string
	MaxLineChars int
	MinCueMillis int
	// Mux carries the flattened rendering/encode options for the mux node.
	Mux map[string]string
}

// Build constructs the static graph for a job:
// download → demux → transcribe → translate → segment → mux, with mux also
// depending on download for the original video stream. Synthesize nodes are
// inserted between segment and mux by the scheduler once the cue count is
// known.
func Build(params BuildParams) (*Graph, error) {
	g := NewGraph(params.JobID)

	muxParams := params.Mux
	if muxParams == nil {
		muxParams = map[string]string{}
	}

	nodes := []*Node{
		{
			ID:   string(stage.KindDownload),
			Kind: stage.KindDownload,
			Params: map[string]string{
				"source": params.Source,
			},
			CueIndex: -1,
		},
		{
			ID:       string(stage.KindDemux),
			Kind:     stage.KindDemux,
			Upstream: []string{string(stage.KindDownload)},
			Params:   map[string]string{},
			CueIndex: -1,
		},
		{
			ID:       string(stage.KindTranscribe),
			Kind:     stage.KindTranscribe,
			Upstream: []string{string(stage.KindDemux)},
			Params: map[string]string{
				"source_lang": params.SourceLang,
			},
			CueIndex: -1,
		},
		{
			ID:       string(stage.KindTranslate),
			Kind:     stage.KindTranslate,
			Upstream: []string{string(stage.KindTranscribe)},
			Params: map[string]string{
				"source_lang": params.SourceLang,
				"target_lang": params.TargetLang,
			},
			CueIndex: -1,
		},
		{
			ID:       string(stage.KindSegment),
			Kind:     stage.KindSegment,
			Upstream: []string{string(stage.KindTranslate)},
			Params: map[string]string{
				"max_line_chars": strconv.Itoa(params.MaxLineChars),
				"min_cue_millis": strconv.Itoa(params.MinCueMillis),
			},
			CueIndex: -1,
		},
		{
			ID:       string(stage.KindMux),
			Kind:     stage.KindMux,
			Upstream: []string{string(stage.KindDownload), string(stage.KindSegment)},
			Params:   muxParams,
			CueIndex: -1,
		},
	}

	for _, node := range nodes {
		if err := g.Add(node); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// expandSynthesizeLocked inserts one synthesize node per segmented cue and
// extends mux's upstream set before any of them can be dispatched. Called
// with the graph lock held, in the same critical section that marked the
// segment node Succeeded.
func (g *Graph) expandSynthesizeLocked(cueCount int, engine, targetLang string) ([]*Node, error) {
	segmentID := string(stage.KindSegment)
	muxID := string(stage.KindMux)
	mux, ok := g.nodes[muxID]
	if !ok {
		return nil, fmt.Errorf("pipeline: graph has no mux node")
	}

	inserted := make([]*Node, 0, cueCount)
	for i := 0; i < cueCount; i++ {
		node := &Node{
			ID:       fmt.Sprintf("%s-%04d", stage.KindSynthesize, i),
			Kind:     stage.KindSynthesize,
			Engine:   engine,
			Upstream: []string{segmentID},
			Params: map[string]string{
				"cue_index":   strconv.Itoa(i),
				"target_lang": targetLang,
			},
			CueIndex: i,
		}
		if err := g.addLocked(node); err != nil {
			return nil, err
		}
		mux.Upstream = append(mux.Upstream, node.ID)
		inserted = append(inserted, node)
	}
	return inserted, nil
}
