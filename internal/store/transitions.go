package store

import (
	"math"
	"time"

	"qms/queue-dashboard/internal/models"

	"github.com/google/uuid"
)

const (
	ActionStart  = "start"
	ActionServe  = "serve"
	ActionCancel = "cancel"
	ActionNoShow = "no_show"
)

var transitionMap = map[string][]string{
	ActionStart:  {models.StatusWaiting},
	ActionServe:  {models.StatusWaiting, models.StatusServing},
	ActionCancel: {models.StatusWaiting, models.StatusServing},
	ActionNoShow: {models.StatusWaiting, models.StatusServing},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func ValidAction(action string) bool {
	_, ok := transitionMap[action]
	return ok
}

// ApplyTransition moves token through action at the given instant and builds the
// single event that records it. estimateMinutes is used as the service duration
// when the token never entered serving.
func ApplyTransition(token models.Token, action string, at time.Time, estimateMinutes int) (models.Token, models.QueueEvent, error) {
	if !ValidTransition(action, token.Status) {
		return models.Token{}, models.QueueEvent{}, ErrInvalidState
	}

	waitEnd := at
	if token.ServingAt != nil {
		waitEnd = *token.ServingAt
	}
	wait := MinutesBetween(token.CreatedAt, waitEnd)

	event := models.QueueEvent{
		ID:              uuid.NewString(),
		QueueID:         token.QueueID,
		TokenID:         token.ID,
		CreatedAt:       at,
		WaitTimeMinutes: &wait,
	}

	stamp := at
	next := token
	switch action {
	case ActionStart:
		next.Status = models.StatusServing
		next.ServingAt = &stamp
		event.EventType = models.EventServing
	case ActionServe:
		duration := estimateMinutes
		if token.ServingAt != nil {
			duration = MinutesBetween(*token.ServingAt, at)
		}
		next.Status = models.StatusServed
		next.ServedAt = &stamp
		event.EventType = models.EventServed
		event.ServiceDurationMinutes = &duration
	case ActionCancel:
		next.Status = models.StatusCancelled
		next.CancelledAt = &stamp
		event.EventType = models.EventCancelled
	case ActionNoShow:
		next.Status = models.StatusNoShow
		next.NoShowAt = &stamp
		event.EventType = models.EventNoShow
	}
	return next, event, nil
}

func MinutesBetween(from, to time.Time) int {
	minutes := math.Round(to.Sub(from).Minutes())
	if minutes < 0 {
		return 0
	}
	return int(minutes)
}

func NewAddedEvent(token models.Token) models.QueueEvent {
	return models.QueueEvent{
		ID:        uuid.NewString(),
		QueueID:   token.QueueID,
		TokenID:   token.ID,
		EventType: models.EventAdded,
		CreatedAt: token.CreatedAt,
	}
}

func NewReorderedEvent(queueID, headTokenID string, at time.Time) models.QueueEvent {
	return models.QueueEvent{
		ID:        uuid.NewString(),
		QueueID:   queueID,
		TokenID:   headTokenID,
		EventType: models.EventReordered,
		CreatedAt: at,
	}
}
