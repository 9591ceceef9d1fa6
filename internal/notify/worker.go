package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultNearFrontTemplate = "Hi {person_name}, you are number {position} in line. Please get ready."
	DefaultServedTemplate    = "Hi {person_name}, thank you for your visit."
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qms",
	Name:      "notification_deliveries_total",
	Help:      "Notification deliveries by task type and result.",
}, []string{"type", "result"})

type WorkerConfig struct {
	NearFrontTemplate string
	ServedTemplate    string
}

type Worker struct {
	provider          Provider
	nearFrontTemplate string
	servedTemplate    string
}

func NewWorker(provider Provider, cfg WorkerConfig) *Worker {
	w := &Worker{
		provider:          provider,
		nearFrontTemplate: cfg.NearFrontTemplate,
		servedTemplate:    cfg.ServedTemplate,
	}
	if w.nearFrontTemplate == "" {
		w.nearFrontTemplate = DefaultNearFrontTemplate
	}
	if w.servedTemplate == "" {
		w.servedTemplate = DefaultServedTemplate
	}
	return w
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNearFront, w.HandleNearFront)
	mux.HandleFunc(TypeServed, w.HandleServed)
}

func (w *Worker) HandleNearFront(ctx context.Context, t *asynq.Task) error {
	var payload NearFrontPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	message := renderTemplate(w.nearFrontTemplate, map[string]string{
		"person_name": payload.PersonName,
		"position":    strconv.Itoa(payload.Position),
		"token_id":    payload.TokenID,
	})
	return w.deliver(ctx, t.Type(), payload.TokenID, payload.ContactNumber, message)
}

func (w *Worker) HandleServed(ctx context.Context, t *asynq.Task) error {
	var payload ServedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	message := renderTemplate(w.servedTemplate, map[string]string{
		"person_name": payload.PersonName,
		"token_id":    payload.TokenID,
	})
	return w.deliver(ctx, t.Type(), payload.TokenID, payload.ContactNumber, message)
}

// deliver returns provider errors so asynq retries and eventually archives the task.
func (w *Worker) deliver(ctx context.Context, taskType, tokenID, recipient, message string) error {
	if recipient == "" {
		deliveriesTotal.WithLabelValues(taskType, "skipped").Inc()
		return nil
	}
	if err := w.provider.Send(ctx, message, recipient); err != nil {
		deliveriesTotal.WithLabelValues(taskType, "error").Inc()
		log.Printf("notification send error type=%s token=%s: %v", taskType, tokenID, err)
		return err
	}
	deliveriesTotal.WithLabelValues(taskType, "sent").Inc()
	return nil
}

func renderTemplate(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}
