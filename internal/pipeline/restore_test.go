package pipeline

import (
	"context"
	"testing"

	"redub/internal/manifest"
	"redub/internal/stage"
)

func latestRecords(f *pipelineFixture) []*manifest.NodeRecord {
	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	latest := map[string]*manifest.NodeRecord{}
	var order []string
	for _, rec := range f.recorder.records {
		if _, seen := latest[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		latest[rec.ID] = rec
	}
	out := make([]*manifest.NodeRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func TestRestoreRehydratesSucceededNodes(t *testing.T) {
	f := newPipelineFixture(t, false)
	first := f.scheduler(t, buildGraph(t), Config{})
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	params := BuildParams{
		JobID: "job-1", Source: "/tmp/in.mp4",
		SourceLang: "en", TargetLang: "de", Engine: "fake",
		MaxLineChars: 42, MinCueMillis: 300,
	}
	graph, err := Restore(context.Background(), params, latestRecords(f), f.store)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	synthCount := 0
	for _, snap := range graph.Snapshots() {
		if snap.Status != manifest.NodeSucceeded {
			t.Fatalf("restored node %s = %s, want succeeded", snap.ID, snap.Status)
		}
		if snap.Kind == stage.KindSynthesize {
			synthCount++
		}
	}
	if synthCount != 3 {
		t.Fatalf("restored synthesize nodes = %d", synthCount)
	}

	// Resuming a fully-restored graph must invoke nothing.
	for _, adapter := range f.adapters {
		adapter.invocations.Store(0)
	}
	resumed := f.scheduler(t, graph, Config{})
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	for kind, adapter := range f.adapters {
		if n := adapter.invocations.Load(); n != 0 {
			t.Fatalf("adapter %s invoked %d times on resume", kind, n)
		}
	}
}

func TestRestoreResetsBrokenUpstreamChains(t *testing.T) {
	f := newPipelineFixture(t, false)
	first := f.scheduler(t, buildGraph(t), Config{})
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := latestRecords(f)
	// Pretend the download artifact was evicted: point its record at a key
	// that does not exist.
	for _, rec := range records {
		if rec.Kind == string(stage.KindDownload) {
			rec.ArtifactKey = ""
		}
	}

	params := BuildParams{
		JobID: "job-1", Source: "/tmp/in.mp4",
		SourceLang: "en", TargetLang: "de", Engine: "fake",
		MaxLineChars: 42, MinCueMillis: 300,
	}
	graph, err := Restore(context.Background(), params, records, f.store)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for _, snap := range graph.Snapshots() {
		if snap.Status == manifest.NodeSucceeded {
			t.Fatalf("node %s restored succeeded despite missing root artifact", snap.ID)
		}
	}
}
