package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"redub/internal/artifact"
	"redub/internal/manifest"
	"redub/internal/services"
	"redub/internal/stage"
	"redub/internal/subtitle"
	"redub/internal/testsupport"
)

type fakeAdapter struct {
	kind stage.NodeKind

	mu     sync.Mutex
	invoke func(ctx context.Context, req stage.Request) (artifact.Artifact, error)
}

func (f *fakeAdapter) Kind() stage.NodeKind { return f.kind }

func (f *fakeAdapter) Deterministic() bool { return false }

func (f *fakeAdapter) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	f.mu.Lock()
	invoke := f.invoke
	f.mu.Unlock()
	return invoke(ctx, req)
}

func (f *fakeAdapter) setInvoke(invoke func(ctx context.Context, req stage.Request) (artifact.Artifact, error)) {
	f.mu.Lock()
	f.invoke = invoke
	f.mu.Unlock()
}

type controllerFixture struct {
	controller *Controller
	manifest   *manifest.Store
	store      artifact.Store
	adapters   map[stage.NodeKind]*fakeAdapter
}

// newControllerFixture wires a controller over a real SQLite manifest and
// filesystem store, with fake adapters standing in for the external tools.
// The synthesize adapter registers as gptsovits so language validation has
// a real engine to check against.
func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	store := testsupport.MustOpenStore(t)
	man := testsupport.MustOpenManifest(t)
	cfg := testsupport.NewConfig(t)

	cues := []subtitle.Cue{
		{Index: 1, Start: 0, End: time.Second, Text: "Hello.", Translation: "你好。"},
		{Index: 2, Start: 2 * time.Second, End: 3 * time.Second, Text: "Bye.", Translation: "再见。"},
	}
	cueJSON, err := json.Marshal(cues)
	if err != nil {
		t.Fatalf("marshal cues: %v", err)
	}

	registry := stage.NewRegistry()
	adapters := make(map[stage.NodeKind]*fakeAdapter)
	register := func(kind stage.NodeKind, engine string, artKind artifact.Kind, payload []byte) {
		adapter := &fakeAdapter{kind: kind}
		adapter.invoke = func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
			return req.Store.Put(context.Background(), req.JobID, req.Key, artKind, bytes.NewReader(payload))
		}
		registry.Register(kind, engine, adapter)
		adapters[kind] = adapter
	}
	register(stage.KindDownload, "", artifact.KindRawVideo, []byte("video"))
	register(stage.KindDemux, "", artifact.KindAudioTrack, []byte("audio"))
	register(stage.KindTranscribe, "", artifact.KindTranscript, []byte("transcript"))
	register(stage.KindTranslate, "", artifact.KindSubtitleTrack, cueJSON)
	register(stage.KindSegment, "", artifact.KindSubtitleTrack, cueJSON)
	register(stage.KindSynthesize, "gptsovits", artifact.KindSynthClip, []byte("clip"))
	register(stage.KindMux, "", artifact.KindFinalVideo, []byte("final"))

	controller := NewController(cfg, store, man, registry, NewEventBus(0), nil)
	return &controllerFixture{
		controller: controller,
		manifest:   man,
		store:      store,
		adapters:   adapters,
	}
}

func submitConfig() Config {
	return Config{
		Source:     "/tmp/in.mp4",
		SourceLang: "en",
		TargetLang: "zh",
		Engine:     "gptsovits",
	}
}

func waitForTerminal(t *testing.T, controller *Controller, id string) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := controller.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.Status.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return Status{}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	f := newControllerFixture(t)

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status := waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", status.Status, status.Error)
	}

	var synth *StageProgress
	for i := range status.Stages {
		if status.Stages[i].Kind == string(stage.KindSynthesize) {
			synth = &status.Stages[i]
		}
	}
	if synth == nil || synth.Total != 2 || synth.Succeeded != 2 {
		t.Fatalf("synthesize progress = %+v, want 2/2", synth)
	}

	artifacts, err := f.controller.Artifacts(context.Background(), id)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	kinds := make(map[artifact.Kind]int)
	for _, info := range artifacts {
		kinds[info.Kind]++
	}
	if kinds[artifact.KindFinalVideo] != 1 {
		t.Fatalf("artifacts = %+v, want one final video", kinds)
	}
	if kinds[artifact.KindSynthClip] != 2 {
		t.Fatalf("artifacts = %+v, want one clip per cue", kinds)
	}

	events, err := f.controller.Events(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var sawCompleted bool
	for _, event := range events {
		if event.Type == string(EventJobCompleted) {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("expected a job_completed event")
	}
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	f := newControllerFixture(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty source", func(jc *Config) { jc.Source = "" }},
		{"unknown engine", func(jc *Config) { jc.Engine = "espeak" }},
		{"unsupported target", func(jc *Config) { jc.TargetLang = "fr" }},
		{"same language", func(jc *Config) { jc.TargetLang = "en" }},
		{"bad subtitle position", func(jc *Config) {
			jc.Subtitles = &SubtitleOptions{Position: "middle"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jc := submitConfig()
			tc.mutate(&jc)
			if _, err := f.controller.Submit(context.Background(), jc); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("Submit error = %v, want validation", err)
			}
		})
	}
}

func TestSubmitNormalizesLanguages(t *testing.T) {
	f := newControllerFixture(t)

	jc := submitConfig()
	jc.SourceLang = "en-US"
	jc.TargetLang = "zh-CN"
	id, err := f.controller.Submit(context.Background(), jc)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTerminal(t, f.controller, id)

	record, err := f.manifest.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var stored Config
	if err := json.Unmarshal([]byte(record.ConfigJSON), &stored); err != nil {
		t.Fatalf("unmarshal stored config: %v", err)
	}
	if stored.SourceLang != "en" || stored.TargetLang != "zh" {
		t.Fatalf("stored languages = %s/%s, want en/zh", stored.SourceLang, stored.TargetLang)
	}
	if stored.MaxLineChars == 0 || stored.MinCueMillis == 0 {
		t.Fatal("subtitle defaults were not applied")
	}
	if stored.Subtitles == nil || stored.Subtitles.Position != "bottom" || stored.Subtitles.FontSize == 0 {
		t.Fatalf("rendering defaults were not resolved: %+v", stored.Subtitles)
	}
	if stored.Encode == nil || stored.Encode.AudioCodec == "" || stored.Encode.SampleRate == 0 {
		t.Fatalf("encode defaults were not resolved: %+v", stored.Encode)
	}
}

func TestSchedulerConfigUsesServiceTimeouts(t *testing.T) {
	f := newControllerFixture(t)
	f.controller.cfg.Download.TimeoutSeconds = 7
	f.controller.cfg.Transcribe.TimeoutSeconds = 11
	f.controller.cfg.Translate.TimeoutSeconds = 13

	sc := f.controller.schedulerConfig(submitConfig())
	if sc.Timeouts[stage.KindDownload] != 7*time.Second {
		t.Fatalf("download timeout = %s", sc.Timeouts[stage.KindDownload])
	}
	if sc.Timeouts[stage.KindTranscribe] != 11*time.Second {
		t.Fatalf("transcribe timeout = %s", sc.Timeouts[stage.KindTranscribe])
	}
	if sc.Timeouts[stage.KindTranslate] != 13*time.Second {
		t.Fatalf("translate timeout = %s", sc.Timeouts[stage.KindTranslate])
	}
}

func TestCancelStopsRunningJob(t *testing.T) {
	f := newControllerFixture(t)

	started := make(chan struct{})
	f.adapters[stage.KindTranscribe].setInvoke(func(ctx context.Context, _ stage.Request) (artifact.Artifact, error) {
		close(started)
		<-ctx.Done()
		return artifact.Artifact{}, services.Wrap(services.ErrCancelled, "transcribe", "run", "interrupted", ctx.Err())
	})

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := f.controller.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	status := waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobCancelled {
		t.Fatalf("status = %s, want cancelled", status.Status)
	}
	if err := f.controller.Cancel(context.Background(), id); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second Cancel error = %v, want validation", err)
	}
}

func TestFailureRecordsStage(t *testing.T) {
	f := newControllerFixture(t)

	f.adapters[stage.KindTranscribe].setInvoke(func(context.Context, stage.Request) (artifact.Artifact, error) {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "transcribe", "run", "model missing", nil)
	})

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status := waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobFailed {
		t.Fatalf("status = %s, want failed", status.Status)
	}
	if status.FailedStage != string(stage.KindTranscribe) {
		t.Fatalf("failed stage = %q, want transcribe", status.FailedStage)
	}
	if status.Error == "" {
		t.Fatal("expected an error message on the job record")
	}
}

func TestResumeContinuesFailedJob(t *testing.T) {
	f := newControllerFixture(t)

	broken := f.adapters[stage.KindTranscribe]
	original := broken.invoke
	broken.setInvoke(func(context.Context, stage.Request) (artifact.Artifact, error) {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "transcribe", "run", "model missing", nil)
	})

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status := waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobFailed {
		t.Fatalf("status = %s, want failed", status.Status)
	}

	broken.setInvoke(original)
	if err := f.controller.Resume(context.Background(), id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	status = waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobCompleted {
		t.Fatalf("status after resume = %s (%s), want completed", status.Status, status.Error)
	}
}

func TestResumeRejectsCompletedJob(t *testing.T) {
	f := newControllerFixture(t)

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTerminal(t, f.controller, id)

	if err := f.controller.Resume(context.Background(), id); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Resume error = %v, want validation", err)
	}
}

func TestDeletePurgesJob(t *testing.T) {
	f := newControllerFixture(t)

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status := waitForTerminal(t, f.controller, id)
	if status.Status != manifest.JobCompleted {
		t.Fatalf("status = %s, want completed", status.Status)
	}

	artifacts, err := f.controller.Artifacts(context.Background(), id)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if err := f.controller.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.controller.Status(context.Background(), id); !errors.Is(err, manifest.ErrJobNotFound) {
		t.Fatalf("Status after delete = %v, want not found", err)
	}
	for _, info := range artifacts {
		exists, err := f.store.Exists(context.Background(), id, info.Key)
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if exists {
			t.Fatalf("artifact %s survived delete", info.Key)
		}
	}
}

func TestDeleteRefusesRunningJob(t *testing.T) {
	f := newControllerFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.adapters[stage.KindDownload].setInvoke(func(_ context.Context, req stage.Request) (artifact.Artifact, error) {
		close(started)
		<-release
		return req.Store.Put(context.Background(), req.JobID, req.Key, artifact.KindRawVideo, bytes.NewReader([]byte("video")))
	})

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := f.controller.Delete(context.Background(), id); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Delete error = %v, want validation", err)
	}
	close(release)
	waitForTerminal(t, f.controller, id)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	f := newControllerFixture(t)

	started := make(chan struct{})
	f.adapters[stage.KindTranscribe].setInvoke(func(ctx context.Context, _ stage.Request) (artifact.Artifact, error) {
		close(started)
		<-ctx.Done()
		return artifact.Artifact{}, services.Wrap(services.ErrCancelled, "transcribe", "run", "interrupted", ctx.Err())
	})

	id, err := f.controller.Submit(context.Background(), submitConfig())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	f.controller.Shutdown(5 * time.Second)

	record, err := f.manifest.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if record.Status != manifest.JobCancelled {
		t.Fatalf("status = %s, want cancelled", record.Status)
	}
}
