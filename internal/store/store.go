package store

import (
	"context"
	"time"

	"qms/queue-dashboard/internal/models"
)

type CreateQueueInput struct {
	Name        string
	Description *string
	ManagerID   string
	CreatedAt   time.Time
}

type AddTokenInput struct {
	QueueID       string
	PersonName    string
	ContactNumber *string
	ServiceTypeID *string
	PriorityLevel int
	CreatedAt     time.Time
	// DayStart bounds the max_tokens_per_day count.
	DayStart time.Time
}

type TransitionInput struct {
	TokenID     string
	// QueueID with an empty TokenID targets whichever token holds position 1 when
	// the store takes its lock.
	QueueID     string
	// RequireHead fails with ErrHeadChanged unless TokenID is waiting at position 1.
	RequireHead bool

	Action                string
	OccurredAt            time.Time
	DefaultServiceMinutes int
}

type TransitionResult struct {
	Token      models.Token
	Event      models.QueueEvent
	FromStatus string
	// FromPosition is the waiting position the token held before the transition, 0 otherwise.
	FromPosition int
}

type ReorderInput struct {
	QueueID    string
	TokenIDs   []string
	OccurredAt time.Time
}

type MoveTokenInput struct {
	TokenID    string
	Position   int
	OccurredAt time.Time
}

type TokenQuery struct {
	QueueID     string
	Statuses    []string
	CreatedFrom time.Time
	CreatedTo   time.Time
}

type EventQuery struct {
	QueueID string
	From    time.Time
	To      time.Time
	Types   []string
	Limit   int
}

type SettingsUpdate struct {
	IsPaused              *bool
	PauseReason           *string
	AutoServeEnabled      *bool
	AutoServeMinutes      *int
	PriorityLevelsEnabled *bool
	// MaxTokensPerDay of 0 removes the limit.
	MaxTokensPerDay *int
	UpdatedAt       time.Time
}

type CreateServiceTypeInput struct {
	QueueID                  string
	Name                     string
	Description              *string
	EstimatedDurationMinutes int
	CreatedAt                time.Time
}

type ServiceTypeUpdate struct {
	ServiceTypeID            string
	Name                     *string
	Description              *string
	EstimatedDurationMinutes *int
	IsActive                 *bool
}

type QueueStore interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context, managerID string) ([]models.Queue, error)
}

// TokenStore mutations are atomic: the token rows and the companion queue event
// are committed together or not at all, serialized per queue.
type TokenStore interface {
	AddToken(ctx context.Context, input AddTokenInput) (models.Token, models.QueueEvent, error)
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	ListTokens(ctx context.Context, query TokenQuery) ([]models.Token, error)
	TransitionToken(ctx context.Context, input TransitionInput) (TransitionResult, error)
	ReorderTokens(ctx context.Context, input ReorderInput) (models.QueueEvent, error)
	MoveToken(ctx context.Context, input MoveTokenInput) (models.QueueEvent, error)
}

type EventLog interface {
	ListEvents(ctx context.Context, query EventQuery) ([]models.QueueEvent, error)
	LastEvent(ctx context.Context, queueID, eventType string) (models.QueueEvent, bool, error)
	EventLogVersion(ctx context.Context, queueID string) (string, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error)
	UpdateSettings(ctx context.Context, queueID string, update SettingsUpdate) (models.QueueSettings, error)
	ListAutoServeQueues(ctx context.Context) ([]models.QueueSettings, error)
}

type ServiceTypeStore interface {
	CreateServiceType(ctx context.Context, input CreateServiceTypeInput) (models.ServiceType, error)
	GetServiceType(ctx context.Context, serviceTypeID string) (models.ServiceType, error)
	UpdateServiceType(ctx context.Context, update ServiceTypeUpdate) (models.ServiceType, error)
	ListServiceTypes(ctx context.Context, queueID string, includeInactive bool) ([]models.ServiceType, error)
}

type Store interface {
	QueueStore
	TokenStore
	EventLog
	SettingsStore
	ServiceTypeStore
}

func ApplySettingsUpdate(current models.QueueSettings, update SettingsUpdate) models.QueueSettings {
	next := current
	if update.IsPaused != nil {
		next.IsPaused = *update.IsPaused
		if !next.IsPaused {
			next.PauseReason = nil
		}
	}
	if update.PauseReason != nil && next.IsPaused {
		reason := *update.PauseReason
		if reason == "" {
			next.PauseReason = nil
		} else {
			next.PauseReason = &reason
		}
	}
	if update.AutoServeEnabled != nil {
		next.AutoServeEnabled = *update.AutoServeEnabled
	}
	if update.AutoServeMinutes != nil && *update.AutoServeMinutes > 0 {
		next.AutoServeMinutes = *update.AutoServeMinutes
	}
	if update.PriorityLevelsEnabled != nil {
		next.PriorityLevelsEnabled = *update.PriorityLevelsEnabled
	}
	if update.MaxTokensPerDay != nil {
		if *update.MaxTokensPerDay <= 0 {
			next.MaxTokensPerDay = nil
		} else {
			limit := *update.MaxTokensPerDay
			next.MaxTokensPerDay = &limit
		}
	}
	if !update.UpdatedAt.IsZero() {
		next.UpdatedAt = update.UpdatedAt
	}
	return next
}

func ApplyServiceTypeUpdate(current models.ServiceType, update ServiceTypeUpdate) models.ServiceType {
	next := current
	if update.Name != nil {
		next.Name = *update.Name
	}
	if update.Description != nil {
		if *update.Description == "" {
			next.Description = nil
		} else {
			desc := *update.Description
			next.Description = &desc
		}
	}
	if update.EstimatedDurationMinutes != nil {
		next.EstimatedDurationMinutes = *update.EstimatedDurationMinutes
	}
	if update.IsActive != nil {
		next.IsActive = *update.IsActive
	}
	return next
}
