package domain

import "time"

// =============================================================================
// Deployment Events
// =============================================================================

// EventType enumerates the lifecycle notifications emitted by the orchestrator.
type EventType string

const (
	EventDeploymentStarted   EventType = "deployment_started"
	EventDeploymentSkipped   EventType = "deployment_skipped"
	EventDeploymentSucceeded EventType = "deployment_succeeded"
	EventDeploymentFailed    EventType = "deployment_failed"
)

// Event is a tagged deployment lifecycle notification.
type Event struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Host        string    `json:"host"`
	ServiceName string    `json:"service_name"`
	RecordID    string    `json:"record_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Listener receives deployment lifecycle events.
// Listeners must not block; slow consumers should buffer internally.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(event Event) { f(event) }
