package job

import (
	"sync"
	"time"
)

// EventType classifies lifecycle events emitted during job execution.
type EventType string

const (
	EventJobSubmitted EventType = "job_submitted"
	EventJobRunning   EventType = "job_running"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
	EventJobResumed   EventType = "job_resumed"
)

// Event is a sequenced payload consumed by polling clients. Stage events
// forwarded from the scheduler reuse its type strings (stage_started,
// stage_completed, ...).
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	CueIndex  int       `json:"cue_index,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// EventBus stores recent events and provides incremental reads keyed by
// sequence number.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns its sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns the job's events with sequence strictly greater than seq.
func (b *EventBus) Since(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events {
		if event.Seq > seq && event.JobID == jobID {
			out = append(out, event)
		}
	}
	return out
}
