package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"redub/internal/artifact"
	"redub/internal/manifest"
	"redub/internal/stage"
)

// rehydrate rebuilds artifact metadata for a key already in the store.
func rehydrate(ctx context.Context, store artifact.Store, jobID, key string, kind artifact.Kind) (artifact.Artifact, error) {
	reader, err := store.Get(ctx, jobID, key)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer reader.Close()
	h := sha256.New()
	size, err := io.Copy(h, reader)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return artifact.Artifact{
		JobID:  jobID,
		Key:    key,
		Kind:   kind,
		Size:   size,
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Restore rebuilds a job's graph from its manifest rows. Nodes recorded
// Succeeded whose artifacts still exist come back Succeeded; everything
// else resets to Waiting with a fresh retry budget. The synthesize fan-out
// is recreated from the recorded node count since node parameters derive
// deterministically from the job config.
func Restore(ctx context.Context, params BuildParams, records []*manifest.NodeRecord, store artifact.Store) (*Graph, error) {
	g, err := Build(params)
	if err != nil {
		return nil, err
	}

	synthCount := 0
	for _, rec := range records {
		if rec.Kind == string(stage.KindSynthesize) {
			synthCount++
		}
	}
	g.mu.Lock()
	if synthCount > 0 {
		if _, err := g.expandSynthesizeLocked(synthCount, params.Engine, params.TargetLang); err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}

	byID := make(map[string]*manifest.NodeRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	for _, id := range g.order {
		node := g.nodes[id]
		rec, ok := byID[id]
		if !ok || rec.Status != manifest.NodeSucceeded || rec.ArtifactKey == "" {
			continue
		}
		exists, err := store.Exists(ctx, params.JobID, rec.ArtifactKey)
		if err != nil || !exists {
			continue
		}
		art, err := rehydrate(ctx, store, params.JobID, rec.ArtifactKey, ArtifactKindFor(node.Kind))
		if err != nil {
			continue
		}
		node.Status = manifest.NodeSucceeded
		node.Artifact = art
	}

	// A restored success is only usable if its whole upstream chain is
	// restored too: keys derive from upstream digests.
	changed := true
	for changed {
		changed = false
		for _, id := range g.order {
			node := g.nodes[id]
			if node.Status != manifest.NodeSucceeded {
				continue
			}
			for _, up := range node.Upstream {
				if g.nodes[up].Status != manifest.NodeSucceeded {
					node.Status = manifest.NodeWaiting
					node.Artifact = artifact.Artifact{}
					changed = true
					break
				}
			}
		}
	}
	g.mu.Unlock()
	return g, nil
}
