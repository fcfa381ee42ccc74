package events

import "time"

// Event is a domain fact published on the internal bus. EventType doubles as
// the topic name.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

// SessionEvent is an event scoped to one chat session.
type SessionEvent struct {
	Type       string                 `json:"type"`
	SessionID  string                 `json:"session_id"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func NewSessionEvent(eventType, sessionID string, data map[string]interface{}) SessionEvent {
	return SessionEvent{
		Type:       eventType,
		SessionID:  sessionID,
		Data:       data,
		OccurredAt: time.Now(),
	}
}

func (e SessionEvent) EventType() string {
	return e.Type
}

func (e SessionEvent) Timestamp() time.Time {
	return e.OccurredAt
}
