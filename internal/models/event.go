package models

import "time"

type QueueEvent struct {
	ID                     string    `json:"id"`
	QueueID                string    `json:"queue_id"`
	TokenID                string    `json:"token_id"`
	EventType              string    `json:"event_type"`
	CreatedAt              time.Time `json:"created_at"`
	WaitTimeMinutes        *int      `json:"wait_time_minutes,omitempty"`
	ServiceDurationMinutes *int      `json:"service_duration_minutes,omitempty"`
}

const (
	EventAdded     = "added"
	EventServing   = "serving"
	EventServed    = "served"
	EventCancelled = "cancelled"
	EventNoShow    = "no_show"
	EventReordered = "reordered"
)

func ValidEventType(value string) bool {
	switch value {
	case EventAdded, EventServing, EventServed, EventCancelled, EventNoShow, EventReordered:
		return true
	}
	return false
}
