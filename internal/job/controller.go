// Package job owns the job lifecycle: submission, execution, status,
// cancellation, resumption, and the event surface consumed by the API.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"redub/internal/artifact"
	"redub/internal/config"
	"redub/internal/language"
	"redub/internal/logging"
	"redub/internal/manifest"
	"redub/internal/pipeline"
	"redub/internal/services"
	"redub/internal/services/tts"
	"redub/internal/stage"
)

// Config describes one localization job as submitted by a client. The
// zero-valued rendering fields fall back to the daemon's [subtitles]
// defaults.
type Config struct {
	Source       string           `json:"source"`
	SourceLang   string           `json:"source_lang"`
	TargetLang   string           `json:"target_lang"`
	Engine       string           `json:"engine"`
	MaxLineChars int              `json:"max_line_chars,omitempty"`
	MinCueMillis int              `json:"min_cue_millis,omitempty"`
	Subtitles    *SubtitleOptions `json:"subtitles,omitempty"`
	Encode       *EncodeOptions   `json:"encode,omitempty"`
}

// SubtitleOptions overrides the daemon's [subtitles] rendering defaults for
// one job. Zero values inherit the daemon setting.
type SubtitleOptions struct {
	Position     string `json:"position,omitempty"`
	FontSize     int    `json:"font_size,omitempty"`
	FontColor    string `json:"font_color,omitempty"`
	OutlineColor string `json:"outline_color,omitempty"`
	OutlineWidth int    `json:"outline_width,omitempty"`
	MarginV      int    `json:"margin_v,omitempty"`
	Bilingual    *bool  `json:"bilingual,omitempty"`
}

// EncodeOptions overrides the daemon's [encode] defaults for one job.
type EncodeOptions struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	Quality    string `json:"quality,omitempty"`
}

// StageProgress summarizes one stage kind's nodes.
type StageProgress struct {
	Kind      string `json:"kind"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Running   int    `json:"running"`
	Retrying  int    `json:"retrying"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Status is the externally visible state of a job.
type Status struct {
	ID          string             `json:"id"`
	Status      manifest.JobStatus `json:"status"`
	Error       string             `json:"error,omitempty"`
	FailedStage string             `json:"failed_stage,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Stages      []StageProgress    `json:"stages"`
	CacheHits   int                `json:"cache_hits"`
}

// ArtifactInfo describes one stored output for API consumers.
type ArtifactInfo struct {
	NodeID string        `json:"node_id"`
	Kind   artifact.Kind `json:"kind"`
	Key    string        `json:"key"`
}

type run struct {
	sched  *pipeline.Scheduler
	cancel context.CancelFunc
}

// Controller coordinates job execution over the manifest, the artifact
// store, and the stage registry.
type Controller struct {
	cfg      *config.Config
	manifest *manifest.Store
	store    artifact.Store
	registry *stage.Registry
	bus      *EventBus
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

// NewController wires a controller. The registry must already have every
// stage adapter registered.
func NewController(cfg *config.Config, store artifact.Store, man *manifest.Store, registry *stage.Registry, bus *EventBus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	if bus == nil {
		bus = NewEventBus(0)
	}
	return &Controller{
		cfg:      cfg,
		manifest: man,
		store:    store,
		registry: registry,
		bus:      bus,
		logger:   logger,
		running:  make(map[string]*run),
	}
}

// Bus exposes the event bus for API wiring.
func (c *Controller) Bus() *EventBus { return c.bus }

func (c *Controller) validate(jc *Config) error {
	if jc.Source == "" {
		return services.Wrap(services.ErrValidation, "job", "submit", "source is required", nil)
	}
	jc.Engine = tts.NormalizeEngineName(jc.Engine)
	if !c.registry.HasEngine(jc.Engine) {
		return services.Wrap(services.ErrValidation, "job", "submit",
			fmt.Sprintf("engine %q is not registered", jc.Engine), nil)
	}
	source, err := language.Normalize(jc.SourceLang)
	if err != nil {
		return services.Wrap(services.ErrValidation, "job", "submit", "invalid source language", err)
	}
	target, err := language.Normalize(jc.TargetLang)
	if err != nil {
		return services.Wrap(services.ErrValidation, "job", "submit", "invalid target language", err)
	}
	if err := language.ValidatePair(source, target, jc.Engine); err != nil {
		return services.Wrap(services.ErrValidation, "job", "submit", err.Error(), nil)
	}
	jc.SourceLang = source
	jc.TargetLang = target
	if jc.MaxLineChars <= 0 {
		jc.MaxLineChars = c.cfg.Subtitles.MaxLineChars
	}
	if jc.MinCueMillis <= 0 {
		jc.MinCueMillis = c.cfg.Subtitles.MinCueMillis
	}
	return c.resolveRender(jc)
}

// resolveRender fills unset rendering and encode options from the daemon
// config so the persisted job config is self-contained.
func (c *Controller) resolveRender(jc *Config) error {
	sub := jc.Subtitles
	if sub == nil {
		sub = &SubtitleOptions{}
	}
	def := c.cfg.Subtitles
	if sub.Position == "" {
		sub.Position = def.Position
	}
	switch sub.Position {
	case "top", "bottom":
	default:
		return services.Wrap(services.ErrValidation, "job", "submit",
			fmt.Sprintf("subtitle position %q must be \"top\" or \"bottom\"", sub.Position), nil)
	}
	if sub.FontSize <= 0 {
		sub.FontSize = def.FontSize
	}
	if sub.FontColor == "" {
		sub.FontColor = def.FontColor
	}
	if sub.OutlineColor == "" {
		sub.OutlineColor = def.OutlineColor
	}
	if sub.OutlineWidth <= 0 {
		sub.OutlineWidth = def.OutlineWidth
	}
	if sub.MarginV <= 0 {
		sub.MarginV = def.MarginV
	}
	if sub.Bilingual == nil {
		bilingual := def.Bilingual
		sub.Bilingual = &bilingual
	}
	jc.Subtitles = sub

	enc := jc.Encode
	if enc == nil {
		enc = &EncodeOptions{}
	}
	defEnc := c.cfg.Encode
	if enc.SampleRate <= 0 {
		enc.SampleRate = defEnc.SampleRate
	}
	if enc.Channels <= 0 {
		enc.Channels = defEnc.Channels
	}
	if enc.AudioCodec == "" {
		enc.AudioCodec = defEnc.AudioCodec
	}
	if enc.Quality == "" {
		enc.Quality = defEnc.Quality
	}
	jc.Encode = enc
	return nil
}

// muxParams flattens the resolved rendering and encode options into the mux
// node's parameter map, so a style change produces a fresh artifact key.
func muxParams(jc Config) map[string]string {
	params := map[string]string{}
	if sub := jc.Subtitles; sub != nil {
		params["position"] = sub.Position
		params["font_size"] = strconv.Itoa(sub.FontSize)
		params["font_color"] = sub.FontColor
		params["outline_color"] = sub.OutlineColor
		params["outline_width"] = strconv.Itoa(sub.OutlineWidth)
		params["margin_v"] = strconv.Itoa(sub.MarginV)
		if sub.Bilingual != nil {
			params["bilingual"] = strconv.FormatBool(*sub.Bilingual)
		}
	}
	if enc := jc.Encode; enc != nil {
		params["sample_rate"] = strconv.Itoa(enc.SampleRate)
		params["channels"] = strconv.Itoa(enc.Channels)
		params["audio_codec"] = enc.AudioCodec
		params["quality"] = enc.Quality
	}
	return params
}

// Submit validates a job, persists it, and starts it asynchronously.
func (c *Controller) Submit(ctx context.Context, jc Config) (string, error) {
	if err := c.validate(&jc); err != nil {
		return "", err
	}
	id := uuid.NewString()
	encoded, err := json.Marshal(jc)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "job", "submit", "encode job config", err)
	}
	if _, err := c.manifest.CreateJob(ctx, id, string(encoded)); err != nil {
		return "", services.Wrap(services.ErrTransient, "job", "submit", "persist job", err)
	}

	graph, err := pipeline.Build(c.buildParams(id, jc))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, "job", "submit", "build graph", err)
	}
	c.bus.Publish(Event{JobID: id, Type: string(EventJobSubmitted)})
	c.start(id, jc, graph)
	return id, nil
}

func (c *Controller) buildParams(id string, jc Config) pipeline.BuildParams {
	return pipeline.BuildParams{
		JobID:        id,
		Source:       jc.Source,
		SourceLang:   jc.SourceLang,
		TargetLang:   jc.TargetLang,
		Engine:       jc.Engine,
		MaxLineChars: jc.MaxLineChars,
		MinCueMillis: jc.MinCueMillis,
		Mux:          muxParams(jc),
	}
}

func (c *Controller) schedulerConfig(jc Config) pipeline.Config {
	wf := c.cfg.Workflow
	return pipeline.Config{
		SynthWorkers: wf.SynthWorkers,
		StageWorkers: wf.StageWorkers,
		MaxAttempts:  wf.RetryMaxAttempts,
		RetryBackoff: time.Duration(wf.RetryBackoffMillis) * time.Millisecond,
		Timeouts: map[stage.NodeKind]time.Duration{
			stage.KindDownload:   time.Duration(c.cfg.Download.TimeoutSeconds) * time.Second,
			stage.KindTranscribe: time.Duration(c.cfg.Transcribe.TimeoutSeconds) * time.Second,
			stage.KindTranslate:  time.Duration(c.cfg.Translate.TimeoutSeconds) * time.Second,
			stage.KindSynthesize: time.Duration(wf.SynthTimeoutSecs) * time.Second,
			stage.KindMux:        time.Duration(wf.MuxTimeoutSecs) * time.Second,
		},
		Engine:     jc.Engine,
		TargetLang: jc.TargetLang,
	}
}

// start launches the scheduler goroutine for a job.
func (c *Controller) start(id string, jc Config, graph *pipeline.Graph) {
	runCtx, cancel := context.WithCancel(context.Background())
	sched := pipeline.NewScheduler(graph, c.registry, c.store, c.manifest,
		filepath.Join(c.cfg.Paths.WorkDir, "jobs"), c.logger, c.schedulerConfig(jc))
	sched.OnEvent = func(event pipeline.Event) {
		c.bus.Publish(Event{
			JobID:    event.JobID,
			Type:     event.Type,
			NodeID:   event.Node.ID,
			Stage:    string(event.Node.Kind),
			Engine:   event.Node.Engine,
			CueIndex: event.Node.CueIndex,
			Attempts: event.Node.Attempts,
			Message:  event.Node.Err,
		})
	}

	c.mu.Lock()
	c.running[id] = &run{sched: sched, cancel: cancel}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		logger := c.logger.With(logging.String(logging.FieldJobID, id))

		if err := c.manifest.UpdateJobStatus(runCtx, id, manifest.JobRunning, "", ""); err != nil {
			logger.Warn("manifest write failed", logging.Error(err))
		}
		c.bus.Publish(Event{JobID: id, Type: string(EventJobRunning)})

		err := sched.Run(runCtx)

		c.mu.Lock()
		delete(c.running, id)
		c.mu.Unlock()

		background := context.Background()
		switch {
		case err == nil:
			logger.Info("job completed")
			if uerr := c.manifest.UpdateJobStatus(background, id, manifest.JobCompleted, "", ""); uerr != nil {
				logger.Warn("manifest write failed", logging.Error(uerr))
			}
			c.bus.Publish(Event{JobID: id, Type: string(EventJobCompleted)})
		case services.IsCancellation(err):
			logger.Info("job cancelled")
			if uerr := c.manifest.UpdateJobStatus(background, id, manifest.JobCancelled, "", ""); uerr != nil {
				logger.Warn("manifest write failed", logging.Error(uerr))
			}
			c.bus.Publish(Event{JobID: id, Type: string(EventJobCancelled)})
		default:
			failedStage := firstFailedStage(sched.Graph().Snapshots())
			logger.Error("job failed",
				logging.String(logging.FieldStage, failedStage),
				logging.Error(err))
			if uerr := c.manifest.UpdateJobStatus(background, id, manifest.JobFailed, failedStage, services.Message(err)); uerr != nil {
				logger.Warn("manifest write failed", logging.Error(uerr))
			}
			c.bus.Publish(Event{JobID: id, Type: string(EventJobFailed), Stage: failedStage, Message: services.Message(err)})
		}
	}()
}

func firstFailedStage(snaps []pipeline.Snapshot) string {
	for _, snap := range snaps {
		if snap.Status == manifest.NodeFailed {
			return string(snap.Kind)
		}
	}
	return ""
}

// Status reports a job's state with per-stage progress. Live jobs read the
// in-memory graph; finished jobs fall back to the manifest rows.
func (c *Controller) Status(ctx context.Context, id string) (Status, error) {
	record, err := c.manifest.GetJob(ctx, id)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		ID:          record.ID,
		Status:      record.Status,
		Error:       record.ErrorMessage,
		FailedStage: record.FailedStage,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}

	c.mu.Lock()
	active, isRunning := c.running[id]
	c.mu.Unlock()

	byKind := make(map[string]*StageProgress)
	ordered := make([]string, 0, len(stage.AllKinds()))
	progress := func(kind string) *StageProgress {
		p, ok := byKind[kind]
		if !ok {
			p = &StageProgress{Kind: kind}
			byKind[kind] = p
			ordered = append(ordered, kind)
		}
		return p
	}

	if isRunning {
		for _, snap := range active.sched.Graph().Snapshots() {
			p := progress(string(snap.Kind))
			p.Total++
			switch snap.Status {
			case manifest.NodeSucceeded:
				p.Succeeded++
			case manifest.NodeRunning:
				p.Running++
			case manifest.NodeRetrying:
				p.Retrying++
			case manifest.NodeFailed:
				p.Failed++
			case manifest.NodeSkipped:
				p.Skipped++
			}
			if snap.Memoized {
				status.CacheHits++
			}
		}
	} else {
		nodes, err := c.manifest.NodesForJob(ctx, id)
		if err != nil {
			return Status{}, err
		}
		for _, node := range nodes {
			p := progress(node.Kind)
			p.Total++
			switch node.Status {
			case manifest.NodeSucceeded:
				p.Succeeded++
			case manifest.NodeRunning:
				p.Running++
			case manifest.NodeRetrying:
				p.Retrying++
			case manifest.NodeFailed:
				p.Failed++
			case manifest.NodeSkipped:
				p.Skipped++
			}
		}
	}
	for _, kind := range ordered {
		status.Stages = append(status.Stages, *byKind[kind])
	}
	return status, nil
}

// List returns every job record.
func (c *Controller) List(ctx context.Context) ([]*manifest.JobRecord, error) {
	return c.manifest.ListJobs(ctx)
}

// Cancel stops a running job, or marks a non-running, non-terminal job
// cancelled directly in the manifest.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	active, isRunning := c.running[id]
	c.mu.Unlock()
	if isRunning {
		active.cancel()
		return nil
	}

	record, err := c.manifest.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return services.Wrap(services.ErrValidation, "job", "cancel",
			fmt.Sprintf("job is already %s", record.Status), nil)
	}
	if err := c.manifest.UpdateJobStatus(ctx, id, manifest.JobCancelled, "", ""); err != nil {
		return err
	}
	c.bus.Publish(Event{JobID: id, Type: string(EventJobCancelled)})
	return nil
}

// Resume restarts a failed, cancelled, or interrupted job. Nodes whose
// artifacts survive in the store come back Succeeded and are not re-run.
func (c *Controller) Resume(ctx context.Context, id string) error {
	c.mu.Lock()
	_, isRunning := c.running[id]
	c.mu.Unlock()
	if isRunning {
		return services.Wrap(services.ErrValidation, "job", "resume", "job is already running", nil)
	}

	record, err := c.manifest.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == manifest.JobCompleted {
		return services.Wrap(services.ErrValidation, "job", "resume", "job already completed", nil)
	}
	var jc Config
	if err := json.Unmarshal([]byte(record.ConfigJSON), &jc); err != nil {
		return services.Wrap(services.ErrPermanent, "job", "resume", "decode stored job config", err)
	}
	if err := c.resolveRender(&jc); err != nil {
		return err
	}
	nodes, err := c.manifest.NodesForJob(ctx, id)
	if err != nil {
		return err
	}
	graph, err := pipeline.Restore(ctx, c.buildParams(id, jc), nodes, c.store)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "job", "resume", "restore graph", err)
	}
	c.bus.Publish(Event{JobID: id, Type: string(EventJobResumed)})
	c.start(id, jc, graph)
	return nil
}

// Artifacts lists the stored outputs of a job's succeeded nodes.
func (c *Controller) Artifacts(ctx context.Context, id string) ([]ArtifactInfo, error) {
	if _, err := c.manifest.GetJob(ctx, id); err != nil {
		return nil, err
	}
	nodes, err := c.manifest.NodesForJob(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []ArtifactInfo
	for _, node := range nodes {
		if node.Status != manifest.NodeSucceeded || node.ArtifactKey == "" {
			continue
		}
		out = append(out, ArtifactInfo{
			NodeID: node.ID,
			Kind:   pipeline.ArtifactKindFor(stage.NodeKind(node.Kind)),
			Key:    node.ArtifactKey,
		})
	}
	return out, nil
}

// OpenArtifact streams one stored artifact.
func (c *Controller) OpenArtifact(ctx context.Context, id, key string) (io.ReadCloser, error) {
	if _, err := c.manifest.GetJob(ctx, id); err != nil {
		return nil, err
	}
	reader, err := c.store.Get(ctx, id, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "job", "artifact",
				fmt.Sprintf("artifact %s is not stored", key), err)
		}
		return nil, err
	}
	return reader, nil
}

// Events returns the job's events with sequence greater than since.
func (c *Controller) Events(ctx context.Context, id string, since int64) ([]Event, error) {
	if _, err := c.manifest.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return c.bus.Since(id, since), nil
}

// Delete purges a non-running job: its manifest rows and every stored
// artifact.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	_, isRunning := c.running[id]
	c.mu.Unlock()
	if isRunning {
		return services.Wrap(services.ErrValidation, "job", "delete", "cancel the job before deleting it", nil)
	}
	if _, err := c.manifest.GetJob(ctx, id); err != nil {
		return err
	}
	if err := c.store.DeleteJob(ctx, id); err != nil {
		return services.Wrap(services.ErrTransient, "job", "delete", "delete artifacts", err)
	}
	return c.manifest.DeleteJob(ctx, id)
}

// Shutdown cancels every running job and waits up to grace for their
// schedulers to settle.
func (c *Controller) Shutdown(grace time.Duration) {
	c.mu.Lock()
	for _, active := range c.running {
		active.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		c.logger.Warn("shutdown grace expired with jobs still settling")
	}
}
