package models

import "time"

type Queue struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	ManagerID   string    `json:"manager_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type QueueSettings struct {
	QueueID               string    `json:"queue_id"`
	IsPaused              bool      `json:"is_paused"`
	PauseReason           *string   `json:"pause_reason,omitempty"`
	AutoServeEnabled      bool      `json:"auto_serve_enabled"`
	AutoServeMinutes      int       `json:"auto_serve_minutes"`
	PriorityLevelsEnabled bool      `json:"priority_levels_enabled"`
	MaxTokensPerDay       *int      `json:"max_tokens_per_day,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

const DefaultAutoServeMinutes = 5

func DefaultSettings(queueID string, now time.Time) QueueSettings {
	return QueueSettings{
		QueueID:          queueID,
		AutoServeMinutes: DefaultAutoServeMinutes,
		UpdatedAt:        now,
	}
}

type ServiceType struct {
	ID                       string    `json:"id"`
	QueueID                  string    `json:"queue_id"`
	Name                     string    `json:"name"`
	Description              *string   `json:"description,omitempty"`
	EstimatedDurationMinutes int       `json:"estimated_duration_minutes"`
	IsActive                 bool      `json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
}
