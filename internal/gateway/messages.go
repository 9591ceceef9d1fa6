package gateway

import (
	"encoding/json"
	"time"

	"qms/queue-dashboard/internal/realtime"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type SubscribeMessage struct {
	Action  string `json:"action"`
	QueueID string `json:"queue_id"`
}

// ParseSubscribe accepts subscribe and unsubscribe requests only. An unsubscribe
// without a queue ID drops every subscription of the session.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != ActionSubscribe && msg.Action != ActionUnsubscribe {
		return SubscribeMessage{}, false
	}
	if msg.Action == ActionSubscribe && msg.QueueID == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

type envelope struct {
	Type      string     `json:"type"`
	QueueID   string     `json:"queue_id,omitempty"`
	Table     string     `json:"table,omitempty"`
	Message   string     `json:"message,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func changeEnvelope(change realtime.Change) envelope {
	at := change.CreatedAt
	return envelope{Type: "change", QueueID: change.QueueID, Table: change.Table, CreatedAt: &at}
}

func ackEnvelope(kind, queueID string) envelope {
	return envelope{Type: kind, QueueID: queueID}
}

func errorEnvelope(queueID, message string) envelope {
	return envelope{Type: "error", QueueID: queueID, Message: message}
}
