// Package artifact provides the content-addressed store for pipeline
// outputs. Keys are derived from the producing node's identity and inputs,
// which yields memoization for free: re-running a node whose key already
// exists reuses the stored artifact instead of re-invoking its adapter.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Kind tags the payload of a stored artifact.
type Kind string

const (
	KindRawVideo      Kind = "raw-video"
	KindAudioTrack    Kind = "audio-track"
	KindTranscript    Kind = "transcript"
	KindSubtitleTrack Kind = "subtitle-track"
	KindSynthClip     Kind = "synthesized-clip"
	KindFinalVideo    Kind = "final-video"
)

// Artifact is the immutable record of one stored output.
type Artifact struct {
	JobID  string `json:"job_id"`
	Key    string `json:"key"`
	Kind   Kind   `json:"kind"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// Store is the only shared mutable resource in the pipeline. Put must be
// atomic with respect to concurrent Gets: no reader ever observes partial
// bytes. Put of an already-present key is a no-op returning the stored
// artifact (write-once semantics).
type Store interface {
	Put(ctx context.Context, jobID, key string, kind Kind, r io.Reader) (Artifact, error)
	Get(ctx context.Context, jobID, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, jobID, key string) (bool, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Key derives the content address for a node's output:
// hash(jobID, nodeKind, sorted input digests, canonical params).
// Two nodes with identical inputs and parameters share a key, which is what
// makes resumption and warm-store re-submission skip redundant work.
func Key(jobID, nodeKind string, inputDigests []string, params map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "job=%s\n", jobID)
	fmt.Fprintf(h, "kind=%s\n", nodeKind)

	digests := make([]string, len(inputDigests))
	copy(digests, inputDigests)
	sort.Strings(digests)
	for _, digest := range digests {
		fmt.Fprintf(h, "in=%s\n", digest)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "param=%s=%s\n", k, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateKey rejects keys that could escape the per-job prefix when used
// as storage paths.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("artifact key is empty")
	}
	if strings.ContainsAny(key, "/\\.") {
		return fmt.Errorf("artifact key %q contains path characters", key)
	}
	return nil
}
