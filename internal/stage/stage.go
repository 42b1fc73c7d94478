// Package stage defines the uniform contract every external capability is
// wrapped behind. The scheduler only ever talks to Adapters resolved from
// the Registry; engine-specific requests never leak upward.
package stage

import (
	"context"
	"log/slog"

	"redub/internal/artifact"
)

// NodeKind identifies one kind of processing step in the pipeline.
type NodeKind string

const (
	KindDownload   NodeKind = "download"
	KindDemux      NodeKind = "demux"
	KindTranscribe NodeKind = "transcribe"
	KindTranslate  NodeKind = "translate"
	KindSegment    NodeKind = "segment"
	KindSynthesize NodeKind = "synthesize"
	KindMux        NodeKind = "mux"
)

// AllKinds returns the static ordering of stage kinds in a job's graph.
// Synthesize nodes are expanded dynamically between segment and mux.
func AllKinds() []NodeKind {
	return []NodeKind{
		KindDownload, KindDemux, KindTranscribe,
		KindTranslate, KindSegment, KindSynthesize, KindMux,
	}
}

// Request carries everything an adapter may use for one invocation.
// Adapters read inputs exclusively through the store — never arbitrary
// filesystem state — and write exactly one artifact on success.
type Request struct {
	JobID   string
	NodeID  string
	Engine  string
	Key     string
	Inputs  []artifact.Artifact
	Params  map[string]string
	Store   artifact.Store
	WorkDir string
	Logger  *slog.Logger
}

// Input returns the first input artifact of the given kind.
func (r Request) Input(kind artifact.Kind) (artifact.Artifact, bool) {
	for _, input := range r.Inputs {
		if input.Kind == kind {
			return input, true
		}
	}
	return artifact.Artifact{}, false
}

// InputsOf returns every input artifact of the given kind, in order.
func (r Request) InputsOf(kind artifact.Kind) []artifact.Artifact {
	var out []artifact.Artifact
	for _, input := range r.Inputs {
		if input.Kind == kind {
			out = append(out, input)
		}
	}
	return out
}

// Adapter wraps one external capability behind a single invoke contract.
// Deterministic adapters produce byte-identical output for identical
// inputs+params; the scheduler uses this to decide whether a node with an
// already-stored key may be skipped.
type Adapter interface {
	Kind() NodeKind
	Deterministic() bool
	Invoke(ctx context.Context, req Request) (artifact.Artifact, error)
}
