package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"redub/internal/artifact"
	"redub/internal/manifest"
	"redub/internal/services"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []*manifest.NodeRecord
}

func (f *fakeRecorder) UpsertNode(_ context.Context, node *manifest.NodeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, node)
	return nil
}

type fakeAdapter struct {
	kind          stage.NodeKind
	deterministic bool
	invocations   atomic.Int64
	invoke        func(ctx context.Context, req stage.Request) (artifact.Artifact, error)
}

func (f *fakeAdapter) Kind() stage.NodeKind { return f.kind }

func (f *fakeAdapter) Deterministic() bool { return f.deterministic }

func (f *fakeAdapter) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	f.invocations.Add(1)
	return f.invoke(ctx, req)
}

func putBytes(t *testing.T, req stage.Request, kind artifact.Kind, data []byte) (artifact.Artifact, error) {
	return req.Store.Put(context.Background(), req.JobID, req.Key, kind, bytes.NewReader(data))
}

func threeCues() []subtitle.Cue {
	return []subtitle.Cue{
		{Index: 1, Start: 0, End: time.Second, Text: "a", Translation: "A"},
		{Index: 2, Start: 1500 * time.Millisecond, End: 2500 * time.Millisecond, Text: "b", Translation: "B"},
		{Index: 3, Start: 3 * time.Second, End: 4 * time.Second, Text: "c", Translation: "C"},
	}
}

// pipelineFixture registers a full set of fake adapters that drive a job
// end to end without external tools.
type pipelineFixture struct {
	t        *testing.T
	registry *stage.Registry
	store    artifact.Store
	recorder *fakeRecorder
	adapters map[stage.NodeKind]*fakeAdapter

	mu           sync.Mutex
	synthOrder   []int
	muxClipKeys  []string
	synthByIndex map[int]string // cue index -> artifact key
}

func newPipelineFixture(t *testing.T, deterministic bool) *pipelineFixture {
	t.Helper()
	store, err := artifact.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	f := &pipelineFixture{
		t:            t,
		registry:     stage.NewRegistry(),
		store:        store,
		recorder:     &fakeRecorder{},
		adapters:     make(map[stage.NodeKind]*fakeAdapter),
		synthByIndex: make(map[int]string),
	}

	cueJSON, _ := json.Marshal(threeCues())

	simple := func(kind stage.NodeKind, artKind artifact.Kind, payload []byte) *fakeAdapter {
		adapter := &fakeAdapter{kind: kind, deterministic: deterministic}
		adapter.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
			return putBytes(t, req, artKind, payload)
		}
		return adapter
	}

	f.adapters[stage.KindDownload] = simple(stage.KindDownload, artifact.KindRawVideo, []byte("video"))
	f.adapters[stage.KindDemux] = simple(stage.KindDemux, artifact.KindAudioTrack, []byte("audio"))
	f.adapters[stage.KindTranscribe] = simple(stage.KindTranscribe, artifact.KindTranscript, []byte("transcript"))
	f.adapters[stage.KindTranslate] = simple(stage.KindTranslate, artifact.KindSubtitleTrack, cueJSON)
	f.adapters[stage.KindSegment] = simple(stage.KindSegment, artifact.KindSubtitleTrack, cueJSON)

	synth := &fakeAdapter{kind: stage.KindSynthesize, deterministic: deterministic}
	synth.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
		index := req.Params["cue_index"]
		art, err := putBytes(t, req, artifact.KindSynthClip, []byte("clip-"+index))
		if err == nil {
			cue, _ := strconv.Atoi(index)
			f.mu.Lock()
			f.synthOrder = append(f.synthOrder, cue)
			f.synthByIndex[cue] = art.Key
			f.mu.Unlock()
		}
		return art, err
	}
	f.adapters[stage.KindSynthesize] = synth

	mux := &fakeAdapter{kind: stage.KindMux, deterministic: deterministic}
	mux.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
		f.mu.Lock()
		f.muxClipKeys = nil
		for _, input := range req.InputsOf(artifact.KindSynthClip) {
			f.muxClipKeys = append(f.muxClipKeys, input.Key)
		}
		f.mu.Unlock()
		return putBytes(t, req, artifact.KindFinalVideo, []byte("final"))
	}
	f.adapters[stage.KindMux] = mux

	for kind, adapter := range f.adapters {
		engine := ""
		if kind == stage.KindSynthesize {
			engine = "fake"
		}
		f.registry.Register(kind, engine, adapter)
	}
	return f
}

func (f *pipelineFixture) scheduler(t *testing.T, graph *Graph, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Engine == "" {
		cfg.Engine = "fake"
	}
	if cfg.TargetLang == "" {
		cfg.TargetLang = "de"
	}
	if cfg.SynthWorkers == 0 {
		cfg.SynthWorkers = 3
	}
	if cfg.StageWorkers == 0 {
		cfg.StageWorkers = 2
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewScheduler(graph, f.registry, f.store, f.recorder, t.TempDir(), nil, cfg)
}

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := Build(BuildParams{
		JobID:        "job-1",
		Source:       "/tmp/in.mp4",
		SourceLang:   "en",
		TargetLang:   "de",
		Engine:       "fake",
		MaxLineChars: 42,
		MinCueMillis: 300,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return graph
}

func TestRunCompletesFullPipeline(t *testing.T) {
	f := newPipelineFixture(t, false)
	sched := f.scheduler(t, buildGraph(t), Config{})

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snaps := sched.Graph().Snapshots()
	synthCount := 0
	var finalKey string
	for _, snap := range snaps {
		if snap.Status != manifest.NodeSucceeded {
			t.Fatalf("node %s status = %s", snap.ID, snap.Status)
		}
		if snap.Kind == stage.KindSynthesize {
			synthCount++
		}
		if snap.Kind == stage.KindMux {
			finalKey = snap.ArtifactKey
		}
	}
	if synthCount != 3 {
		t.Fatalf("synthesize nodes = %d, want one per cue", synthCount)
	}
	exists, err := f.store.Exists(context.Background(), "job-1", finalKey)
	if err != nil || !exists {
		t.Fatalf("final video artifact missing (exists=%v, err=%v)", exists, err)
	}
}

func TestRunReassemblesClipsInCueOrder(t *testing.T) {
	f := newPipelineFixture(t, false)

	// Gate synthesize completions into the order 1, 0, 2.
	cue1Done := make(chan struct{})
	cue0Done := make(chan struct{})
	base := f.adapters[stage.KindSynthesize].invoke
	f.adapters[stage.KindSynthesize].invoke = func(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
		switch req.Params["cue_index"] {
		case "0":
			<-cue1Done
			defer close(cue0Done)
		case "1":
			defer close(cue1Done)
		case "2":
			<-cue0Done
		}
		return base(ctx, req)
	}

	sched := f.scheduler(t, buildGraph(t), Config{SynthWorkers: 3})
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.synthOrder) != 3 || f.synthOrder[0] != 1 || f.synthOrder[1] != 0 || f.synthOrder[2] != 2 {
		t.Fatalf("completion order = %v, want [1 0 2]", f.synthOrder)
	}
	want := []string{f.synthByIndex[0], f.synthByIndex[1], f.synthByIndex[2]}
	if len(f.muxClipKeys) != 3 {
		t.Fatalf("mux clip inputs = %d", len(f.muxClipKeys))
	}
	for i := range want {
		if f.muxClipKeys[i] != want[i] {
			t.Fatalf("mux clip %d = %s, want cue-ordered %s", i, f.muxClipKeys[i], want[i])
		}
	}
}

func TestRunMemoizesWarmStore(t *testing.T) {
	f := newPipelineFixture(t, true)

	first := f.scheduler(t, buildGraph(t), Config{})
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	var invoked int64
	for _, adapter := range f.adapters {
		invoked += adapter.invocations.Load()
	}
	if invoked == 0 {
		t.Fatal("first run should invoke adapters")
	}

	for _, adapter := range f.adapters {
		adapter.invocations.Store(0)
	}
	second := f.scheduler(t, buildGraph(t), Config{})
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for kind, adapter := range f.adapters {
		if n := adapter.invocations.Load(); n != 0 {
			t.Fatalf("adapter %s re-invoked %d times on a warm store", kind, n)
		}
	}
	for _, snap := range second.Graph().Snapshots() {
		if snap.Status != manifest.NodeSucceeded {
			t.Fatalf("node %s = %s after warm re-run", snap.ID, snap.Status)
		}
		if !snap.Memoized {
			t.Fatalf("node %s not marked memoized", snap.ID)
		}
	}
}

func TestRunRetriesTransientThenFails(t *testing.T) {
	f := newPipelineFixture(t, false)
	transcribe := f.adapters[stage.KindTranscribe]
	transcribe.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "transcribe", "invoke", "model server down", nil)
	}

	sched := f.scheduler(t, buildGraph(t), Config{MaxAttempts: 2, RetryBackoff: time.Millisecond})
	err := sched.Run(context.Background())
	if err == nil {
		t.Fatal("expected job failure")
	}
	if transcribe.invocations.Load() != 2 {
		t.Fatalf("attempts = %d, want the retry ceiling of 2", transcribe.invocations.Load())
	}

	statuses := map[string]manifest.NodeStatus{}
	for _, snap := range sched.Graph().Snapshots() {
		statuses[snap.ID] = snap.Status
	}
	if statuses["transcribe"] != manifest.NodeFailed {
		t.Fatalf("transcribe = %s, want failed", statuses["transcribe"])
	}
	for _, id := range []string{"translate", "segment", "mux"} {
		if statuses[id] != manifest.NodeSkipped {
			t.Fatalf("%s = %s, want skipped", id, statuses[id])
		}
	}
	for _, id := range []string{"download", "demux"} {
		if statuses[id] != manifest.NodeSucceeded {
			t.Fatalf("%s = %s, want succeeded", id, statuses[id])
		}
	}
}

func TestRunPermanentErrorDoesNotRetry(t *testing.T) {
	f := newPipelineFixture(t, false)
	download := f.adapters[stage.KindDownload]
	download.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "download", "invoke", "video unavailable", nil)
	}

	sched := f.scheduler(t, buildGraph(t), Config{MaxAttempts: 5})
	if err := sched.Run(context.Background()); err == nil {
		t.Fatal("expected job failure")
	}
	if download.invocations.Load() != 1 {
		t.Fatalf("permanent failure retried %d times", download.invocations.Load())
	}
}

func TestRunCancellation(t *testing.T) {
	f := newPipelineFixture(t, false)
	started := make(chan struct{})
	f.adapters[stage.KindTranscribe].invoke = func(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
		close(started)
		<-ctx.Done()
		return artifact.Artifact{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := f.scheduler(t, buildGraph(t), Config{})

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	<-started
	cancel()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("Run error = %v, want cancellation", err)
	}
	for _, snap := range sched.Graph().Snapshots() {
		if !snap.Status.Terminal() {
			t.Fatalf("node %s left non-terminal: %s", snap.ID, snap.Status)
		}
		if snap.Status == manifest.NodeRunning || snap.Status == manifest.NodeReady {
			t.Fatalf("node %s = %s after cancel", snap.ID, snap.Status)
		}
	}
}

func TestRunPersistsNodeTransitions(t *testing.T) {
	f := newPipelineFixture(t, false)
	sched := f.scheduler(t, buildGraph(t), Config{})
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	succeeded := map[string]bool{}
	for _, rec := range f.recorder.records {
		if rec.JobID != "job-1" {
			t.Fatalf("record job = %s", rec.JobID)
		}
		if rec.Status == manifest.NodeSucceeded {
			succeeded[rec.ID] = true
		}
	}
	for _, id := range []string{"download", "demux", "transcribe", "translate", "segment", "synthesize-0000", "mux"} {
		if !succeeded[id] {
			t.Fatalf("no succeeded record for %s", id)
		}
	}
}
