package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/manifest"
	"redub/internal/services"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// NodeRecorder persists node transitions; satisfied by *manifest.Store.
type NodeRecorder interface {
	UpsertNode(ctx context.Context, node *manifest.NodeRecord) error
}

// Event describes one node transition for observers.
type Event struct {
	Type  string
	JobID string
	Node  Snapshot
}

// Event types emitted by the scheduler.
const (
	EventNodeStarted   = "stage_started"
	EventNodeSucceeded = "stage_completed"
	EventNodeMemoized  = "stage_memoized"
	EventNodeRetrying  = "stage_retrying"
	EventNodeFailed    = "stage_failed"
	EventNodeSkipped   = "stage_skipped"
	EventNodeCancelled = "stage_cancelled"
)

// Config tunes one scheduler run.
type Config struct {
	// SynthWorkers bounds concurrent synthesize invocations; StageWorkers
	// bounds every other kind except mux, which is always serialized.
	SynthWorkers int
	StageWorkers int

	MaxAttempts  int
	RetryBackoff time.Duration

	// Timeouts caps each invocation per kind; zero means no limit.
	Timeouts map[stage.NodeKind]time.Duration

	// Engine and TargetLang parameterize the synthesize fan-out.
	Engine     string
	TargetLang string
}

// Scheduler drives one job's graph to a terminal state.
type Scheduler struct {
	graph    *Graph
	registry *stage.Registry
	store    artifact.Store
	recorder NodeRecorder
	logger   *slog.Logger
	workRoot string
	cfg      Config

	// OnEvent, when set, receives every node transition. Invoked with the
	// graph lock held; handlers must not call back into the scheduler.
	OnEvent func(Event)
}

// NewScheduler wires a scheduler for one job. workRoot is the directory
// under which per-node scratch directories are created.
func NewScheduler(graph *Graph, registry *stage.Registry, store artifact.Store, recorder NodeRecorder, workRoot string, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.SynthWorkers <= 0 {
		cfg.SynthWorkers = 1
	}
	if cfg.StageWorkers <= 0 {
		cfg.StageWorkers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Scheduler{
		graph:    graph,
		registry: registry,
		store:    store,
		recorder: recorder,
		logger:   logger,
		workRoot: workRoot,
		cfg:      cfg,
	}
}

// Graph exposes the scheduler's graph for status queries.
func (s *Scheduler) Graph() *Graph { return s.graph }

type completion struct {
	id   string
	kind stage.NodeKind
	art  artifact.Artifact
	err  error
}

// Run drives the graph until every node is terminal. It returns nil when
// the mux node succeeded, a cancellation-classified error when ctx was
// cancelled, and the first permanent failure otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	completions := make(chan completion)
	running := make(map[stage.NodeKind]int)
	inflight := 0

	// A resumed job may already be past segment with the fan-out not yet
	// materialized in this graph.
	if err := s.ensureExpanded(ctx); err != nil {
		return err
	}

	for {
		progressed := s.dispatch(ctx, completions, running, &inflight)
		if inflight == 0 && s.allTerminal() {
			return s.result()
		}
		if progressed {
			continue
		}

		var wake <-chan time.Time
		if inflight == 0 {
			wait := s.nextWake()
			if wait <= 0 {
				wait = 50 * time.Millisecond
			}
			wake = time.After(wait)
		}
		select {
		case <-ctx.Done():
			return s.cancelled(completions, inflight)
		case done := <-completions:
			inflight--
			running[done.kind]--
			s.complete(ctx, done)
		case <-wake:
		}
	}
}

func (s *Scheduler) limit(kind stage.NodeKind) int {
	switch kind {
	case stage.KindSynthesize:
		return s.cfg.SynthWorkers
	case stage.KindMux:
		return 1
	default:
		return s.cfg.StageWorkers
	}
}

// dispatch promotes and launches every runnable node. Returns true when at
// least one node changed state, which triggers an immediate re-scan.
func (s *Scheduler) dispatch(ctx context.Context, completions chan completion, running map[stage.NodeKind]int, inflight *int) bool {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()

	now := time.Now()
	progressed := false
	for _, id := range s.graph.order {
		node := s.graph.nodes[id]
		switch node.Status {
		case manifest.NodeWaiting:
			if s.graph.upstreamReadyLocked(node) {
				node.Status = manifest.NodeReady
				progressed = true
			}
			continue
		case manifest.NodeRetrying:
			if now.Before(node.NextEligible) {
				continue
			}
		case manifest.NodeReady:
		default:
			continue
		}

		if running[node.Kind] >= s.limit(node.Kind) {
			continue
		}
		adapter, err := s.registry.Resolve(node.Kind, node.Engine)
		if err != nil {
			s.failLocked(ctx, node, err)
			progressed = true
			continue
		}

		inputs := make([]artifact.Artifact, 0, len(node.Upstream))
		digests := make([]string, 0, len(node.Upstream))
		for _, upstream := range s.graph.inputsLocked(node) {
			inputs = append(inputs, upstream.Artifact)
			digests = append(digests, upstream.Artifact.Digest)
		}
		key := artifact.Key(s.graph.JobID, string(node.Kind), digests, node.Params)

		if adapter.Deterministic() {
			if exists, err := s.store.Exists(ctx, s.graph.JobID, key); err == nil && exists {
				if art, err := s.loadArtifact(ctx, key, ArtifactKindFor(node.Kind)); err == nil {
					node.Status = manifest.NodeSucceeded
					node.Memoized = true
					node.Artifact = art
					s.persistLocked(ctx, node)
					s.emit(EventNodeMemoized, node)
					if node.Kind == stage.KindSegment {
						s.expandAfterSegmentLocked(ctx, node)
					}
					progressed = true
					continue
				}
			}
		}

		node.Status = manifest.NodeRunning
		node.Attempts++
		running[node.Kind]++
		*inflight++
		s.persistLocked(ctx, node)
		s.emit(EventNodeStarted, node)

		go s.invoke(ctx, adapter, node.ID, node.Kind, node.Engine, key, inputs, cloneParams(node.Params), node.Attempts, completions)
		progressed = true
	}
	return progressed
}

func cloneParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// invoke runs one adapter call off the scheduler goroutine.
func (s *Scheduler) invoke(ctx context.Context, adapter stage.Adapter, nodeID string, kind stage.NodeKind, engine, key string, inputs []artifact.Artifact, params map[string]string, attempt int, completions chan completion) {
	if timeout := s.cfg.Timeouts[kind]; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	workDir := filepath.Join(s.workRoot, s.graph.JobID, nodeID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		completions <- completion{id: nodeID, kind: kind, err: services.Wrap(services.ErrPermanent, string(kind), "invoke", "create work directory", err)}
		return
	}

	logger := s.logger.With(
		logging.String(logging.FieldJobID, s.graph.JobID),
		logging.String(logging.FieldNodeID, nodeID),
		logging.String(logging.FieldStage, string(kind)),
		logging.Int(logging.FieldAttempt, attempt),
	)
	art, err := adapter.Invoke(ctx, stage.Request{
		JobID:   s.graph.JobID,
		NodeID:  nodeID,
		Engine:  engine,
		Key:     key,
		Inputs:  inputs,
		Params:  params,
		Store:   s.store,
		WorkDir: workDir,
		Logger:  logger,
	})
	completions <- completion{id: nodeID, kind: kind, art: art, err: err}
}

// complete applies one invocation result.
func (s *Scheduler) complete(ctx context.Context, done completion) {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()

	node := s.graph.nodes[done.id]
	if done.err == nil {
		node.Status = manifest.NodeSucceeded
		node.Err = nil
		node.Artifact = done.art
		s.persistLocked(ctx, node)
		s.emit(EventNodeSucceeded, node)
		if node.Kind == stage.KindSegment {
			s.expandAfterSegmentLocked(ctx, node)
		}
		return
	}

	if services.IsCancellation(done.err) {
		node.Status = manifest.NodeCancelled
		node.Err = done.err
		s.persistLocked(ctx, node)
		s.emit(EventNodeCancelled, node)
		return
	}
	if services.Retryable(done.err) && node.Attempts < s.cfg.MaxAttempts {
		node.Status = manifest.NodeRetrying
		node.Err = done.err
		node.NextEligible = time.Now().Add(s.backoff(node.Attempts))
		s.persistLocked(ctx, node)
		s.emit(EventNodeRetrying, node)
		s.logger.Warn("stage failed, will retry",
			logging.String(logging.FieldNodeID, node.ID),
			logging.Int(logging.FieldAttempt, node.Attempts),
			logging.Error(done.err))
		return
	}
	s.failLocked(ctx, node, done.err)
}

// backoff doubles per attempt starting from the configured base.
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// failLocked marks a node permanently failed and skips its dependents.
func (s *Scheduler) failLocked(ctx context.Context, node *Node, err error) {
	node.Status = manifest.NodeFailed
	node.Err = err
	s.persistLocked(ctx, node)
	s.emit(EventNodeFailed, node)
	s.logger.Error("stage failed permanently",
		logging.String(logging.FieldNodeID, node.ID),
		logging.Error(err))
	for _, skipped := range s.graph.skipDependentsLocked(node.ID) {
		s.persistLocked(ctx, skipped)
		s.emit(EventNodeSkipped, skipped)
	}
}

// expandAfterSegmentLocked inserts the synthesize fan-out once the
// segmented track exists. Runs in the same critical section that marked
// segment Succeeded: no mux dispatch can interleave.
func (s *Scheduler) expandAfterSegmentLocked(ctx context.Context, segment *Node) {
	count, err := s.cueCount(ctx, segment.Artifact.Key)
	if err != nil {
		s.failLocked(ctx, segment, err)
		return
	}
	inserted, err := s.graph.expandSynthesizeLocked(count, s.cfg.Engine, s.cfg.TargetLang)
	if err != nil {
		s.failLocked(ctx, segment, services.Wrap(services.ErrPermanent, "segment", "expand", "insert synthesize nodes", err))
		return
	}
	for _, node := range inserted {
		s.persistLocked(ctx, node)
	}
	s.persistLocked(ctx, s.graph.nodes[string(stage.KindMux)])
	s.logger.Info("expanded synthesize fan-out", logging.Int("cues", count))
}

// ensureExpanded performs the fan-out at startup when a restored graph is
// already past segment.
func (s *Scheduler) ensureExpanded(ctx context.Context) error {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	segment, ok := s.graph.nodes[string(stage.KindSegment)]
	if !ok || segment.Status != manifest.NodeSucceeded {
		return nil
	}
	for _, node := range s.graph.nodes {
		if node.Kind == stage.KindSynthesize {
			return nil
		}
	}
	s.expandAfterSegmentLocked(ctx, segment)
	return nil
}

// cueCount decodes the segmented track to size the fan-out.
func (s *Scheduler) cueCount(ctx context.Context, key string) (int, error) {
	reader, err := s.store.Get(ctx, s.graph.JobID, key)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "segment", "expand", "read segmented track", err)
	}
	defer reader.Close()
	var cues []subtitle.Cue
	if err := json.NewDecoder(reader).Decode(&cues); err != nil {
		return 0, services.Wrap(services.ErrPermanent, "segment", "expand", "decode segmented track", err)
	}
	if len(cues) == 0 {
		return 0, services.Wrap(services.ErrPermanent, "segment", "expand", "segmented track has no cues", nil)
	}
	return len(cues), nil
}

// loadArtifact rebuilds artifact metadata for an already-stored key.
func (s *Scheduler) loadArtifact(ctx context.Context, key string, kind artifact.Kind) (artifact.Artifact, error) {
	return rehydrate(ctx, s.store, s.graph.JobID, key, kind)
}

func (s *Scheduler) allTerminal() bool {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	for _, id := range s.graph.order {
		if !s.graph.nodes[id].Status.Terminal() {
			return false
		}
	}
	return true
}

// nextWake returns how long until the earliest retrying node becomes
// eligible again.
func (s *Scheduler) nextWake() time.Duration {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	var earliest time.Time
	for _, id := range s.graph.order {
		node := s.graph.nodes[id]
		if node.Status != manifest.NodeRetrying {
			continue
		}
		if earliest.IsZero() || node.NextEligible.Before(earliest) {
			earliest = node.NextEligible
		}
	}
	if earliest.IsZero() {
		return 0
	}
	return time.Until(earliest)
}

// result inspects the terminal graph.
func (s *Scheduler) result() error {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	mux := s.graph.nodes[string(stage.KindMux)]
	if mux != nil && mux.Status == manifest.NodeSucceeded {
		return nil
	}
	for _, id := range s.graph.order {
		node := s.graph.nodes[id]
		if node.Status == manifest.NodeFailed {
			return services.Wrap(services.ErrPermanent, string(node.Kind), "run",
				fmt.Sprintf("stage %s failed", node.ID), node.Err)
		}
	}
	return services.Wrap(services.ErrPermanent, "pipeline", "run", "job ended without a final video", nil)
}

// cancelled drains in-flight invocations (their contexts are already
// cancelled) and marks every non-terminal node Cancelled.
func (s *Scheduler) cancelled(completions chan completion, inflight int) error {
	for i := 0; i < inflight; i++ {
		<-completions
	}
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	for _, id := range s.graph.order {
		node := s.graph.nodes[id]
		if node.Status.Terminal() {
			continue
		}
		node.Status = manifest.NodeCancelled
		s.persistLocked(context.Background(), node)
		s.emit(EventNodeCancelled, node)
	}
	return services.Wrap(services.ErrCancelled, "pipeline", "run", "job cancelled", nil)
}

// persistLocked writes the node's manifest row. Persistence failures are
// logged rather than failing the run; the in-memory graph remains the
// source of truth until the next successful write.
func (s *Scheduler) persistLocked(ctx context.Context, node *Node) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpsertNode(ctx, node.record(s.graph.JobID)); err != nil {
		s.logger.Warn("manifest write failed",
			logging.String(logging.FieldNodeID, node.ID),
			logging.Error(err))
	}
}

func (s *Scheduler) emit(eventType string, node *Node) {
	if s.OnEvent == nil {
		return
	}
	s.OnEvent(Event{Type: eventType, JobID: s.graph.JobID, Node: node.snapshot()})
}
