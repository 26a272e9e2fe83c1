package eventbus

import "time"

type EventType string

const (
	EventQueueChanged    EventType = "queue.changed"
	EventTaskCompleted   EventType = "task.completed"
	EventTaskFailed      EventType = "task.failed"
	EventPoolInitialized EventType = "pool.initialized"
	EventPoolReady       EventType = "pool.ready"
	EventAgentFailed     EventType = "agent.failed"
	EventEntityUpdated   EventType = "entity.updated"
)

type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	ResourceID string            `json:"resource_id,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
