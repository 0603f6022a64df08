package models

import "time"

// EventStatus is the delivery state of a published event. Status only moves
// forward: pending -> processing -> completed, or -> failed.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

var eventStatusTransitions = map[EventStatus]map[EventStatus]bool{
	EventStatusPending:    {EventStatusProcessing: true, EventStatusCompleted: true, EventStatusFailed: true},
	EventStatusProcessing: {EventStatusCompleted: true, EventStatusFailed: true},
	EventStatusFailed:     {EventStatusProcessing: true, EventStatusCompleted: true, EventStatusFailed: true},
	EventStatusCompleted:  {},
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only ordering. A failed event may be redelivered, so failed moves
// back to processing; completed is terminal.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	return eventStatusTransitions[s][next]
}

// EventStatusesAllowing returns the statuses an event may hold for a
// transition to next, in declaration order. The storage adapters build
// their conditional updates from this list.
func EventStatusesAllowing(next EventStatus) []EventStatus {
	all := []EventStatus{EventStatusPending, EventStatusProcessing, EventStatusCompleted, EventStatusFailed}
	var sources []EventStatus
	for _, s := range all {
		if s.CanTransitionTo(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

// Event is the durable record of one published event. The row is written
// before the message reaches the transport, so every published event has a
// recoverable record even if delivery never happens.
type Event struct {
	ID          int64                  `json:"id"`
	EventType   string                 `json:"event_type"`
	Source      string                 `json:"source"`
	Payload     map[string]interface{} `json:"payload"`
	Status      EventStatus            `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
