// Package events carries batch and deployment progress notifications to subscribers.
package events

import (
	"time"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// Type names an event.
type Type string

// Event types.
const (
	BatchSubmitted    Type = "batch.submitted"
	BatchProcessing   Type = "batch.processing"
	BatchCompleted    Type = "batch.completed"
	BatchRolledBack   Type = "batch.rolled_back"
	DeploymentUpdated Type = "deployment.updated"
)

// Event is a progress notification. DeploymentID is empty for batch level events.
type Event struct {
	Type         Type          `json:"type"`
	BatchID      string        `json:"batch_id"`
	DeploymentID string        `json:"deployment_id,omitempty"`
	Status       domain.Status `json:"status"`
	Message      string        `json:"message,omitempty"`
	At           time.Time     `json:"at"`
}

// Publisher receives events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// ForDeployment builds the event announcing the current state of d.
func ForDeployment(d *domain.Deployment, at time.Time) Event {
	return Event{
		Type:         DeploymentUpdated,
		BatchID:      d.BatchID,
		DeploymentID: d.ID,
		Status:       d.Status,
		Message:      d.ErrorMessage,
		At:           at,
	}
}

// ForBatch builds a batch level event.
func ForBatch(t Type, b *domain.Batch, at time.Time) Event {
	return Event{Type: t, BatchID: b.ID, Status: b.Status, At: at}
}
