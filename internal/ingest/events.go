package ingest

import "time"

type EventType string

const (
	EventSourceRegistered EventType = "source:registered"
	EventJobStarted       EventType = "job:started"
	EventJobProgress      EventType = "job:progress"
	EventJobCompleted     EventType = "job:completed"
	EventJobFailed        EventType = "job:failed"
	EventRecordProcessed  EventType = "record:processed"
)

// Event is an in-process lifecycle notification. Delivery is best effort.
type Event struct {
	Type      EventType      `json:"type"`
	SourceID  string         `json:"source_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
