// Package pipeline holds the per-job dependency graph and the scheduler
// that drives it. The graph is a node arena behind one mutex; every state
// transition, including the dynamic fan-out of synthesize nodes, happens
// under that lock.
package pipeline

import (
	"time"

	"redub/internal/artifact"
	"redub/internal/manifest"
	"redub/internal/stage"
)

// Node is one unit of work in a job's graph.
type Node struct {
	ID       string
	Kind     stage.NodeKind
	Engine   string
	Upstream []string
	Params   map[string]string

	// CueIndex is -1 for every kind except synthesize, where it names the
	// segmented cue this node voices.
	CueIndex int

	Status       manifest.NodeStatus
	Attempts     int
	NextEligible time.Time
	Memoized     bool
	Err          error

	// Artifact is populated once the node succeeds; downstream key
	// derivation hashes its digest.
	Artifact artifact.Artifact
}

// Snapshot is a copy of a node's observable state, safe to hand out
// without the graph lock.
type Snapshot struct {
	ID          string
	Kind        stage.NodeKind
	Engine      string
	Upstream    []string
	CueIndex    int
	Status      manifest.NodeStatus
	Attempts    int
	Memoized    bool
	ArtifactKey string
	Err         string
}

func (n *Node) snapshot() Snapshot {
	snap := Snapshot{
		ID:          n.ID,
		Kind:        n.Kind,
		Engine:      n.Engine,
		Upstream:    append([]string(nil), n.Upstream...),
		CueIndex:    n.CueIndex,
		Status:      n.Status,
		Attempts:    n.Attempts,
		Memoized:    n.Memoized,
		ArtifactKey: n.Artifact.Key,
	}
	if n.Err != nil {
		snap.Err = n.Err.Error()
	}
	return snap
}

// record converts a node into its manifest row.
func (n *Node) record(jobID string) *manifest.NodeRecord {
	rec := &manifest.NodeRecord{
		JobID:       jobID,
		ID:          n.ID,
		Kind:        string(n.Kind),
		Engine:      n.Engine,
		Upstream:    append([]string(nil), n.Upstream...),
		Status:      n.Status,
		Attempts:    n.Attempts,
		ArtifactKey: n.Artifact.Key,
		CueIndex:    n.CueIndex,
	}
	if n.Err != nil {
		rec.ErrorMsg = n.Err.Error()
	}
	return rec
}

// ArtifactKindFor maps a node kind to the kind of artifact it produces.
func ArtifactKindFor(kind stage.NodeKind) artifact.Kind {
	switch kind {
	case stage.KindDownload:
		return artifact.KindRawVideo
	case stage.KindDemux:
		return artifact.KindAudioTrack
	case stage.KindTranscribe:
		return artifact.KindTranscript
	case stage.KindTranslate, stage.KindSegment:
		return artifact.KindSubtitleTrack
	case stage.KindSynthesize:
		return artifact.KindSynthClip
	case stage.KindMux:
		return artifact.KindFinalVideo
	}
	return ""
}
