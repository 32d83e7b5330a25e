package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers. Values double as AMQP
// routing keys.
type EventType string

const (
	EventLeadCreated       EventType = "lead.created"
	EventLeadUpdated       EventType = "lead.updated"
	EventLeadStatusChanged EventType = "lead.status_changed"
	EventLeadAssigned      EventType = "lead.assigned"
	EventLeadDeleted       EventType = "lead.deleted"
	EventLeadsIngested     EventType = "leads.ingested"
	EventCallRecorded      EventType = "call.recorded"
	EventGoalCreated       EventType = "goal.created"
	EventUserCreated       EventType = "user.created"
	EventUserUpdated       EventType = "user.updated"
	EventUserDeleted       EventType = "user.deleted"
)

// Event represents a domain event emitted by services after commit.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	ActorID   string         `json:"actor_id"`
	TargetID  string         `json:"target_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent stamps a fresh id and timestamp.
func NewEvent(eventType EventType, actorID, targetID string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ActorID:   actorID,
		TargetID:  targetID,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}
