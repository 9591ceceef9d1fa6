package notify

import (
	"context"
	"log"
	"time"

	"qms/queue-dashboard/internal/models"

	"github.com/hibiken/asynq"
)

// TaskClient is the part of *asynq.Client the enqueuer uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type EnqueuerConfig struct {
	Queue    string
	MaxRetry int
	// Retention keeps completed tasks inspectable for this long.
	Retention time.Duration
}

// Enqueuer hands engine notifications to the asynq queue. Tokens without a
// contact number have nobody to reach and are skipped.
type Enqueuer struct {
	client TaskClient
	opts   []asynq.Option
}

func NewEnqueuer(client TaskClient, cfg EnqueuerConfig) *Enqueuer {
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(maxRetry)}
	if cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(cfg.Retention))
	}
	return &Enqueuer{client: client, opts: opts}
}

func (e *Enqueuer) NearFront(ctx context.Context, token models.Token, position int) error {
	if token.ContactNumber == nil {
		return nil
	}
	task, err := NewNearFrontTask(token, position)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) Served(ctx context.Context, token models.Token) error {
	if token.ContactNumber == nil {
		return nil
	}
	task, err := NewServedTask(token)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := e.client.EnqueueContext(ctx, task, e.opts...)
	if err != nil {
		return err
	}
	log.Printf("notification enqueued type=%s id=%s queue=%s", task.Type(), info.ID, info.Queue)
	return nil
}

// LogNotifier writes notifications to the log. It stands in when no task queue
// is configured.
type LogNotifier struct{}

func (LogNotifier) NearFront(ctx context.Context, token models.Token, position int) error {
	log.Printf("notify near_front token=%s queue=%s position=%d", token.ID, token.QueueID, position)
	return nil
}

func (LogNotifier) Served(ctx context.Context, token models.Token) error {
	log.Printf("notify served token=%s queue=%s", token.ID, token.QueueID)
	return nil
}
