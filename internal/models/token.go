package models

import "time"

type Token struct {
	ID            string     `json:"id"`
	QueueID       string     `json:"queue_id"`
	PersonName    string     `json:"person_name"`
	ContactNumber *string    `json:"contact_number,omitempty"`
	ServiceTypeID *string    `json:"service_type_id,omitempty"`
	PriorityLevel int        `json:"priority_level"`
	Position      int        `json:"position"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ServingAt     *time.Time `json:"serving_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt      *time.Time `json:"no_show_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusServed    = "served"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

const (
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityVIP    = 3
)

func (t Token) Terminal() bool {
	switch t.Status {
	case StatusServed, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func ValidStatus(value string) bool {
	switch value {
	case StatusWaiting, StatusServing, StatusServed, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
