package types

import "time"

// EventType represents the type of real-time event
type EventType string

const (
	EventBatchProgress  EventType = "batch.progress"
	EventBatchCompleted EventType = "batch.completed"
)

// Event represents a real-time event that can be sent over WebSocket
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// BatchProgressEvent is pushed to a connected owner whenever a chunk
// completion moves the master batch forward. Polling the status endpoint
// remains the source of truth; these events are advisory.
type BatchProgressEvent struct {
	BatchID         string      `json:"batch_id"`
	Status          BatchStatus `json:"status"`
	TotalFiles      int         `json:"total_files"`
	ProcessedFiles  int         `json:"processed_files"`
	ProgressPct     float64     `json:"progress_pct"`
	CompletedChunks int         `json:"completed_chunks"`
	TotalChunks     int         `json:"total_chunks"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
