package scheduler

import "time"

// NATS subjects the scheduler publishes lifecycle events to. A real
// deployment wires a status-reporter subscriber onto these instead of
// polling storage directly; Publish is fire-and-forget so no subscriber
// ever needs to be present.
const (
	SubjectProcessorStarted   = "processor.started"
	SubjectProcessorCompleted = "processor.completed"
	SubjectDigestPublished    = "digest.published"
	SubjectListenerHeartbeat  = "listener.heartbeat"
)

// ProcessorStartedEvent announces the beginning of one processor run.
type ProcessorStartedEvent struct {
	StartedAt time.Time `json:"started_at"`
}

// ProcessorCompletedEvent summarizes one finished processor run. Err is
// the run's top-level error text, empty on success (individual category
// or item failures are folded into the counts instead).
type ProcessorCompletedEvent struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Candidates  int       `json:"candidates"`
	Selected    int       `json:"selected"`
	Approved    int       `json:"approved"`
	Published   int       `json:"published"`
	Err         string    `json:"err,omitempty"`
}

// DigestPublishedEvent announces one category's group being delivered.
type DigestPublishedEvent struct {
	Category    string    `json:"category"`
	Count       int       `json:"count"`
	PublishedAt time.Time `json:"published_at"`
}

// ListenerHeartbeatEvent is a periodic liveness announcement, independent
// of the ingestion listener's own heartbeat file (engine/ingest.Heartbeat)
// which a local healthcheck polls directly.
type ListenerHeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
