package store

import (
	"errors"
	"testing"
	"time"

	"qms/queue-dashboard/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		want   bool
	}{
		{ActionStart, models.StatusWaiting, true},
		{ActionStart, models.StatusServing, false},
		{ActionServe, models.StatusWaiting, true},
		{ActionServe, models.StatusServing, true},
		{ActionServe, models.StatusServed, false},
		{ActionCancel, models.StatusWaiting, true},
		{ActionCancel, models.StatusCancelled, false},
		{ActionNoShow, models.StatusServing, true},
		{ActionNoShow, models.StatusNoShow, false},
		{"reopen", models.StatusServed, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.action, tc.from); got != tc.want {
			t.Fatalf("ValidTransition(%s, %s) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}

func TestApplyTransitionServeFromWaiting(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	token := models.Token{ID: "t1", QueueID: "q1", Status: models.StatusWaiting, CreatedAt: created, Position: 1}

	next, event, err := ApplyTransition(token, ActionServe, created.Add(12*time.Minute+40*time.Second), 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Status != models.StatusServed || next.ServedAt == nil {
		t.Fatalf("expected served token, got %+v", next)
	}
	if next.CancelledAt != nil || next.NoShowAt != nil {
		t.Fatalf("only one terminal timestamp may be set")
	}
	if event.EventType != models.EventServed || event.TokenID != "t1" || event.QueueID != "q1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.WaitTimeMinutes == nil || *event.WaitTimeMinutes != 13 {
		t.Fatalf("expected wait 13, got %v", event.WaitTimeMinutes)
	}
	if event.ServiceDurationMinutes == nil || *event.ServiceDurationMinutes != 15 {
		t.Fatalf("expected estimated duration 15, got %v", event.ServiceDurationMinutes)
	}
}

func TestApplyTransitionServeAfterStart(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	token := models.Token{ID: "t1", QueueID: "q1", Status: models.StatusWaiting, CreatedAt: created}

	serving, startEvent, err := ApplyTransition(token, ActionStart, created.Add(10*time.Minute), 15)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if startEvent.EventType != models.EventServing || *startEvent.WaitTimeMinutes != 10 {
		t.Fatalf("unexpected start event %+v", startEvent)
	}

	served, event, err := ApplyTransition(serving, ActionServe, created.Add(17*time.Minute), 15)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != models.StatusServed {
		t.Fatalf("expected served, got %s", served.Status)
	}
	if *event.WaitTimeMinutes != 10 || *event.ServiceDurationMinutes != 7 {
		t.Fatalf("expected wait 10 and duration 7, got %d and %d", *event.WaitTimeMinutes, *event.ServiceDurationMinutes)
	}
}

func TestApplyTransitionTerminalTokenFails(t *testing.T) {
	token := models.Token{ID: "t1", Status: models.StatusCancelled}
	for _, action := range []string{ActionStart, ActionServe, ActionCancel, ActionNoShow} {
		if _, _, err := ApplyTransition(token, action, time.Now(), 15); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s on cancelled token: expected ErrInvalidState, got %v", action, err)
		}
	}
}

func TestApplyTransitionNoShowEventType(t *testing.T) {
	token := models.Token{ID: "t1", Status: models.StatusWaiting, CreatedAt: time.Now().Add(-5 * time.Minute)}
	next, event, err := ApplyTransition(token, ActionNoShow, time.Now(), 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.NoShowAt == nil || event.EventType != models.EventNoShow || event.ServiceDurationMinutes != nil {
		t.Fatalf("unexpected no-show result %+v %+v", next, event)
	}
}
