package models

import "time"

type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventBooked    EventType = "booked"
	EventConfirmed EventType = "confirmed"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// SessionEvent is a full-state upsert keyed by the snapshot id. Timestamp is
// the snapshot's UpdatedAt, so it increases monotonically per session.
//
// Revoked marks a copy sent to a viewer that could see the session before
// this change and cannot after it; its snapshot carries no participants and
// receivers drop the row.
type SessionEvent struct {
	ID        string    `json:"event_id"`
	Type      EventType `json:"type"`
	Session   Session   `json:"session_snapshot"`
	Timestamp time.Time `json:"timestamp"`
	Revoked   bool      `json:"revoked,omitempty"`

	// Previous is the pre-transition row. It crosses the instance relay but
	// the sync hub never forwards it to dashboards.
	Previous *Session `json:"previous_snapshot,omitempty"`
}

// Tombstone is the snapshot sent with a revoked event: identity, timing and
// status only.
func (e SessionEvent) Tombstone() SessionEvent {
	return SessionEvent{
		ID:   e.ID,
		Type: EventUpdated,
		Session: Session{
			ID:              e.Session.ID,
			Start:           e.Session.Start,
			End:             e.Session.End,
			DurationMinutes: e.Session.DurationMinutes,
			Status:          e.Session.Status,
			UpdatedAt:       e.Session.UpdatedAt,
		},
		Timestamp: e.Timestamp,
		Revoked:   true,
	}
}
