// Package notify moves customer notifications off the request path: the queue
// service enqueues asynq tasks and the notification service delivers them.
package notify

import (
	"encoding/json"

	"qms/queue-dashboard/internal/models"

	"github.com/hibiken/asynq"
)

const (
	TypeNearFront = "notify:near_front"
	TypeServed    = "notify:served"
)

type NearFrontPayload struct {
	TokenID       string `json:"token_id"`
	QueueID       string `json:"queue_id"`
	PersonName    string `json:"person_name"`
	ContactNumber string `json:"contact_number"`
	Position      int    `json:"position"`
}

type ServedPayload struct {
	TokenID       string `json:"token_id"`
	QueueID       string `json:"queue_id"`
	PersonName    string `json:"person_name"`
	ContactNumber string `json:"contact_number"`
}

func NewNearFrontTask(token models.Token, position int) (*asynq.Task, error) {
	payload, err := json.Marshal(NearFrontPayload{
		TokenID:       token.ID,
		QueueID:       token.QueueID,
		PersonName:    token.PersonName,
		ContactNumber: contact(token),
		Position:      position,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNearFront, payload), nil
}

func NewServedTask(token models.Token) (*asynq.Task, error) {
	payload, err := json.Marshal(ServedPayload{
		TokenID:       token.ID,
		QueueID:       token.QueueID,
		PersonName:    token.PersonName,
		ContactNumber: contact(token),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeServed, payload), nil
}

func contact(token models.Token) string {
	if token.ContactNumber == nil {
		return ""
	}
	return *token.ContactNumber
}
