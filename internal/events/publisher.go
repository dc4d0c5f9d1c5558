package events

import (
	"github.com/mediakeep/upload-service/internal/types"
)

// WebSocketHub is the hub surface the publisher needs.
type WebSocketHub interface {
	BroadcastToOwner(ownerID string, event *types.Event)
	IsConnected(ownerID string) bool
}

// EventPublisher pushes batch progress to connected owners. It implements
// upload.Notifier.
type EventPublisher struct {
	hub WebSocketHub
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(hub WebSocketHub) *EventPublisher {
	return &EventPublisher{
		hub: hub,
	}
}

// PublishBatchProgress pushes the current state of a batch record to its
// owner. Disconnected owners are skipped; they poll the status endpoint
// instead.
func (p *EventPublisher) PublishBatchProgress(ownerID string, rec *types.BatchRecord) {
	if rec == nil || !p.hub.IsConnected(ownerID) {
		return
	}

	eventType := types.EventBatchProgress
	if rec.Status.Terminal() {
		eventType = types.EventBatchCompleted
	}

	eventData := &types.BatchProgressEvent{
		BatchID:         rec.BatchID,
		Status:          rec.Status,
		TotalFiles:      rec.TotalFiles,
		ProcessedFiles:  rec.ProcessedFiles,
		ProgressPct:     rec.ProgressPct(),
		CompletedChunks: rec.CompletedChunks,
		TotalChunks:     rec.TotalChunks,
	}

	p.hub.BroadcastToOwner(ownerID, types.NewEvent(eventType, eventData))
}
