package manifest

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

var jobStatuses = map[JobStatus]struct{}{
	JobPending: {}, JobRunning: {}, JobCompleted: {}, JobFailed: {}, JobCancelled: {},
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := jobStatuses[normalized]
	return normalized, ok
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus represents the lifecycle of one pipeline node.
type NodeStatus string

const (
	NodeWaiting   NodeStatus = "waiting"
	NodeReady     NodeStatus = "ready"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeRetrying  NodeStatus = "retrying"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// Terminal reports whether a node status admits no further transitions.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	default:
		return false
	}
}

// JobRecord is a job row persisted in SQLite. ConfigJSON holds the
// submitted JobConfig verbatim so a crashed job can be resumed from the
// manifest alone.
type JobRecord struct {
	ID           string
	ConfigJSON   string
	Status       JobStatus
	ErrorMessage string
	FailedStage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NodeRecord is a pipeline node row. Upstream holds the IDs of the nodes
// this one depends on; ArtifactKey is set once the node succeeds. CueIndex
// is -1 for every kind except synthesize.
type NodeRecord struct {
	JobID       string
	ID          string
	Kind        string
	Engine      string
	Upstream    []string
	Status      NodeStatus
	Attempts    int
	ArtifactKey string
	CueIndex    int
	ErrorMsg    string
	UpdatedAt   time.Time
}
