package notify

import (
	"context"
	"errors"
	"testing"

	"qms/queue-dashboard/internal/models"

	"github.com/hibiken/asynq"
)

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("Hi {person_name}, you are number {position}. {unknown}", map[string]string{
		"person_name": "Ana",
		"position":    "2",
	})
	if got != "Hi Ana, you are number 2. {unknown}" {
		t.Fatalf("unexpected template render: %s", got)
	}
}

type sentMessage struct {
	message   string
	recipient string
}

type recordingProvider struct {
	sent []sentMessage
	err  error
}

func (p *recordingProvider) Send(ctx context.Context, message, recipient string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{message: message, recipient: recipient})
	return nil
}

func contactToken(contact string) models.Token {
	token := models.Token{ID: "tok-1", QueueID: "queue-1", PersonName: "Ana"}
	if contact != "" {
		token.ContactNumber = &contact
	}
	return token
}

func TestWorkerHandlesTasks(t *testing.T) {
	provider := &recordingProvider{}
	worker := NewWorker(provider, WorkerConfig{})
	ctx := context.Background()

	nearFront, err := NewNearFrontTask(contactToken("+620001"), 2)
	if err != nil {
		t.Fatalf("near-front task: %v", err)
	}
	if err := worker.HandleNearFront(ctx, nearFront); err != nil {
		t.Fatalf("handle near-front: %v", err)
	}
	served, err := NewServedTask(contactToken("+620001"))
	if err != nil {
		t.Fatalf("served task: %v", err)
	}
	if err := worker.HandleServed(ctx, served); err != nil {
		t.Fatalf("handle served: %v", err)
	}

	if len(provider.sent) != 2 {
		t.Fatalf("expected 2 messages, got %+v", provider.sent)
	}
	if provider.sent[0].recipient != "+620001" || provider.sent[0].message != "Hi Ana, you are number 2 in line. Please get ready." {
		t.Fatalf("unexpected near-front message %+v", provider.sent[0])
	}
	if provider.sent[1].message != "Hi Ana, thank you for your visit." {
		t.Fatalf("unexpected served message %+v", provider.sent[1])
	}
}

func TestWorkerErrors(t *testing.T) {
	ctx := context.Background()

	failing := NewWorker(&recordingProvider{err: errors.New("gateway down")}, WorkerConfig{})
	task, _ := NewServedTask(contactToken("+620001"))
	if err := failing.HandleServed(ctx, task); err == nil {
		t.Fatalf("expected provider error to be returned for retry")
	}

	if err := failing.HandleServed(ctx, asynq.NewTask(TypeServed, []byte("{"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for a malformed payload, got %v", err)
	}

	provider := &recordingProvider{}
	worker := NewWorker(provider, WorkerConfig{})
	task, _ = NewServedTask(contactToken(""))
	if err := worker.HandleServed(ctx, task); err != nil || len(provider.sent) != 0 {
		t.Fatalf("tokens without contact are skipped, err=%v sent=%+v", err, provider.sent)
	}
}

type fakeClient struct {
	tasks []*asynq.Task
}

func (c *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "notifications", Type: task.Type()}, nil
}

func TestEnqueuer(t *testing.T) {
	client := &fakeClient{}
	enqueuer := NewEnqueuer(client, EnqueuerConfig{Queue: "notifications"})
	ctx := context.Background()

	if err := enqueuer.NearFront(ctx, contactToken(""), 1); err != nil {
		t.Fatalf("near-front: %v", err)
	}
	if len(client.tasks) != 0 {
		t.Fatalf("tokens without contact must not be enqueued")
	}
	if err := enqueuer.NearFront(ctx, contactToken("+620001"), 3); err != nil {
		t.Fatalf("near-front: %v", err)
	}
	if err := enqueuer.Served(ctx, contactToken("+620001")); err != nil {
		t.Fatalf("served: %v", err)
	}
	if len(client.tasks) != 2 || client.tasks[0].Type() != TypeNearFront || client.tasks[1].Type() != TypeServed {
		t.Fatalf("unexpected tasks %+v", client.tasks)
	}
}
