package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
)

func newQueue(t *testing.T, s *Store) models.Queue {
	t.Helper()
	queue, err := s.CreateQueue(context.Background(), store.CreateQueueInput{
		Name:      "front desk",
		ManagerID: "manager-1",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return queue
}

func addToken(t *testing.T, s *Store, queueID, name string) models.Token {
	t.Helper()
	token, _, err := s.AddToken(context.Background(), store.AddTokenInput{
		QueueID:       queueID,
		PersonName:    name,
		PriorityLevel: models.PriorityNormal,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add token: %v", err)
	}
	return token
}

func assertDense(t *testing.T, s *Store, queueID string) []models.Token {
	t.Helper()
	waiting, err := s.ListTokens(context.Background(), store.TokenQuery{QueueID: queueID, Statuses: []string{models.StatusWaiting}})
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	for i, token := range waiting {
		if token.Position != i+1 {
			t.Fatalf("positions not dense: index %d has position %d", i, token.Position)
		}
	}
	return waiting
}

func TestAddTokenPositions(t *testing.T) {
	s := New()
	queue := newQueue(t, s)

	first := addToken(t, s, queue.ID, "Ana")
	if first.Position != 1 {
		t.Fatalf("expected position 1 on empty queue, got %d", first.Position)
	}
	second := addToken(t, s, queue.ID, "Budi")
	if second.Position != 2 {
		t.Fatalf("expected position 2, got %d", second.Position)
	}

	events, err := s.ListEvents(context.Background(), store.EventQuery{QueueID: queue.ID, Types: []string{models.EventAdded}})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 added events, got %d", len(events))
	}
}

func TestAddTokenUnknownQueue(t *testing.T) {
	s := New()
	_, _, err := s.AddToken(context.Background(), store.AddTokenInput{QueueID: "missing", PersonName: "Ana"})
	if !errors.Is(err, store.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestAddTokenPausedAndLimited(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()

	paused := true
	if _, err := s.UpdateSettings(ctx, queue.ID, store.SettingsUpdate{IsPaused: &paused}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := s.AddToken(ctx, store.AddTokenInput{QueueID: queue.ID, PersonName: "Ana"}); !errors.Is(err, store.ErrQueuePaused) {
		t.Fatalf("expected ErrQueuePaused, got %v", err)
	}

	resumed := false
	limit := 1
	if _, err := s.UpdateSettings(ctx, queue.ID, store.SettingsUpdate{IsPaused: &resumed, MaxTokensPerDay: &limit}); err != nil {
		t.Fatalf("update: %v", err)
	}
	addToken(t, s, queue.ID, "Ana")
	_, _, err := s.AddToken(ctx, store.AddTokenInput{QueueID: queue.ID, PersonName: "Budi", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, store.ErrDailyLimitReached) {
		t.Fatalf("expected ErrDailyLimitReached, got %v", err)
	}
}

func TestTransitionOnceOnly(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()

	actions := []string{store.ActionServe, store.ActionCancel, store.ActionNoShow}
	for _, action := range actions {
		t.Run(action, func(t *testing.T) {
			token := addToken(t, s, queue.ID, "Budi")
			input := store.TransitionInput{TokenID: token.ID, Action: action, OccurredAt: time.Now().UTC(), DefaultServiceMinutes: 15}
			if _, err := s.TransitionToken(ctx, input); err != nil {
				t.Fatalf("first transition: %v", err)
			}
			before, _ := s.ListEvents(ctx, store.EventQuery{QueueID: queue.ID})
			if _, err := s.TransitionToken(ctx, input); !errors.Is(err, store.ErrInvalidState) {
				t.Fatalf("second transition: expected ErrInvalidState, got %v", err)
			}
			after, _ := s.ListEvents(ctx, store.EventQuery{QueueID: queue.ID})
			if len(after) != len(before) {
				t.Fatalf("failed transition appended an event")
			}
		})
	}

	if _, err := s.TransitionToken(ctx, store.TransitionInput{TokenID: "missing", Action: store.ActionServe}); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTransitionProducesOneEvent(t *testing.T) {
	cases := []struct {
		action    string
		eventType string
	}{
		{store.ActionServe, models.EventServed},
		{store.ActionCancel, models.EventCancelled},
		{store.ActionNoShow, models.EventNoShow},
	}
	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			s := New()
			queue := newQueue(t, s)
			token := addToken(t, s, queue.ID, "Ana")
			ctx := context.Background()

			result, err := s.TransitionToken(ctx, store.TransitionInput{TokenID: token.ID, Action: tc.action, OccurredAt: time.Now().UTC()})
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if result.FromPosition != 1 || result.FromStatus != models.StatusWaiting {
				t.Fatalf("unexpected result %+v", result)
			}
			events, _ := s.ListEvents(ctx, store.EventQuery{QueueID: queue.ID, Types: []string{tc.eventType}})
			if len(events) != 1 {
				t.Fatalf("expected exactly one %s event, got %d", tc.eventType, len(events))
			}
			if events[0].TokenID != token.ID || events[0].QueueID != queue.ID {
				t.Fatalf("event references wrong rows: %+v", events[0])
			}
		})
	}
}

func TestReorderTokens(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	t1 := addToken(t, s, queue.ID, "one")
	t2 := addToken(t, s, queue.ID, "two")
	t3 := addToken(t, s, queue.ID, "three")
	ctx := context.Background()

	event, err := s.ReorderTokens(ctx, store.ReorderInput{QueueID: queue.ID, TokenIDs: []string{t3.ID, t1.ID, t2.ID}, OccurredAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if event.EventType != models.EventReordered || event.TokenID != t3.ID {
		t.Fatalf("unexpected event %+v", event)
	}

	waiting := assertDense(t, s, queue.ID)
	got := []string{waiting[0].ID, waiting[1].ID, waiting[2].ID}
	want := []string{t3.ID, t1.ID, t2.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i+1, want[i], got[i])
		}
	}

	reordered, _ := s.ListEvents(ctx, store.EventQuery{QueueID: queue.ID, Types: []string{models.EventReordered}})
	if len(reordered) != 1 {
		t.Fatalf("expected one batch event, got %d", len(reordered))
	}

	if _, err := s.ReorderTokens(ctx, store.ReorderInput{QueueID: queue.ID, TokenIDs: []string{t1.ID, t2.ID}}); !errors.Is(err, store.ErrStaleOrder) {
		t.Fatalf("expected ErrStaleOrder, got %v", err)
	}
}

func TestPositionsStayDense(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for step := 0; step < 500; step++ {
		waiting, _ := s.ListTokens(ctx, store.TokenQuery{QueueID: queue.ID, Statuses: []string{models.StatusWaiting}})
		op := rng.Intn(7)
		if len(waiting) == 0 {
			op = 0
		}
		switch op {
		case 0, 1:
			addToken(t, s, queue.ID, fmt.Sprintf("person-%d", step))
		case 2, 3, 4, 5:
			target := waiting[rng.Intn(len(waiting))]
			action := []string{store.ActionServe, store.ActionCancel, store.ActionNoShow, store.ActionStart}[op-2]
			if _, err := s.TransitionToken(ctx, store.TransitionInput{TokenID: target.ID, Action: action, OccurredAt: time.Now().UTC()}); err != nil {
				t.Fatalf("step %d %s: %v", step, action, err)
			}
		case 6:
			ids := make([]string, len(waiting))
			for i, idx := range rng.Perm(len(waiting)) {
				ids[i] = waiting[idx].ID
			}
			if _, err := s.ReorderTokens(ctx, store.ReorderInput{QueueID: queue.ID, TokenIDs: ids, OccurredAt: time.Now().UTC()}); err != nil {
				t.Fatalf("step %d reorder: %v", step, err)
			}
		}
		assertDense(t, s, queue.ID)
	}
}

func TestMoveToken(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	a := addToken(t, s, queue.ID, "a")
	addToken(t, s, queue.ID, "b")
	c := addToken(t, s, queue.ID, "c")
	ctx := context.Background()

	if _, err := s.MoveToken(ctx, store.MoveTokenInput{TokenID: c.ID, Position: 1, OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("move: %v", err)
	}
	waiting := assertDense(t, s, queue.ID)
	if waiting[0].ID != c.ID || waiting[1].ID != a.ID {
		t.Fatalf("unexpected order after move")
	}

	event, err := s.MoveToken(ctx, store.MoveTokenInput{TokenID: c.ID, Position: 1})
	if err != nil || event.ID != "" {
		t.Fatalf("no-op move should not append an event: %+v %v", event, err)
	}
}

func TestSettingsDefaultsAndPause(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx, queue.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.IsPaused || settings.AutoServeMinutes != models.DefaultAutoServeMinutes {
		t.Fatalf("unexpected defaults %+v", settings)
	}

	paused, reason := true, "lunch"
	settings, _ = s.UpdateSettings(ctx, queue.ID, store.SettingsUpdate{IsPaused: &paused, PauseReason: &reason})
	if !settings.IsPaused || settings.PauseReason == nil || *settings.PauseReason != "lunch" {
		t.Fatalf("expected paused with reason, got %+v", settings)
	}
	resumed := false
	settings, _ = s.UpdateSettings(ctx, queue.ID, store.SettingsUpdate{IsPaused: &resumed})
	if settings.IsPaused || settings.PauseReason != nil {
		t.Fatalf("resume should clear reason, got %+v", settings)
	}

	if _, err := s.GetSettings(ctx, "missing"); !errors.Is(err, store.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestServiceTypeEstimateUsedOnServe(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()

	serviceType, err := s.CreateServiceType(ctx, store.CreateServiceTypeInput{QueueID: queue.ID, Name: "Payments", EstimatedDurationMinutes: 8})
	if err != nil {
		t.Fatalf("create service type: %v", err)
	}
	token, _, err := s.AddToken(ctx, store.AddTokenInput{QueueID: queue.ID, PersonName: "Ana", ServiceTypeID: &serviceType.ID, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("add token: %v", err)
	}
	result, err := s.TransitionToken(ctx, store.TransitionInput{TokenID: token.ID, Action: store.ActionServe, OccurredAt: time.Now().UTC(), DefaultServiceMinutes: 15})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if *result.Event.ServiceDurationMinutes != 8 {
		t.Fatalf("expected service type estimate 8, got %d", *result.Event.ServiceDurationMinutes)
	}

	inactive := false
	if _, err := s.UpdateServiceType(ctx, store.ServiceTypeUpdate{ServiceTypeID: serviceType.ID, IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, _, err := s.AddToken(ctx, store.AddTokenInput{QueueID: queue.ID, PersonName: "Budi", ServiceTypeID: &serviceType.ID}); !errors.Is(err, store.ErrServiceTypeNotFound) {
		t.Fatalf("expected ErrServiceTypeNotFound for inactive type, got %v", err)
	}
	active, _ := s.ListServiceTypes(ctx, queue.ID, false)
	all, _ := s.ListServiceTypes(ctx, queue.ID, true)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("expected soft delete, got active=%d all=%d", len(active), len(all))
	}
}

func TestTransitionTargetsHead(t *testing.T) {
	s := New()
	queue := newQueue(t, s)
	ctx := context.Background()
	first := addToken(t, s, queue.ID, "Ana")
	second := addToken(t, s, queue.ID, "Budi")

	result, err := s.TransitionToken(ctx, store.TransitionInput{QueueID: queue.ID, Action: store.ActionServe, OccurredAt: time.Now().UTC(), DefaultServiceMinutes: 15})
	if err != nil {
		t.Fatalf("serve head: %v", err)
	}
	if result.Token.ID != first.ID || result.FromPosition != 1 {
		t.Fatalf("expected first token served from position 1, got %s from %d", result.Token.PersonName, result.FromPosition)
	}

	_, err = s.TransitionToken(ctx, store.TransitionInput{TokenID: first.ID, RequireHead: true, Action: store.ActionServe, OccurredAt: time.Now().UTC()})
	if !errors.Is(err, store.ErrHeadChanged) || store.KindOf(err) != store.KindConflict {
		t.Fatalf("expected ErrHeadChanged, got %v", err)
	}
	if _, err := s.TransitionToken(ctx, store.TransitionInput{TokenID: second.ID, RequireHead: true, Action: store.ActionServe, OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("serve new head: %v", err)
	}

	_, err = s.TransitionToken(ctx, store.TransitionInput{QueueID: queue.ID, Action: store.ActionServe, OccurredAt: time.Now().UTC()})
	if !errors.Is(err, store.ErrNoWaitingToken) {
		t.Fatalf("expected ErrNoWaitingToken, got %v", err)
	}
	_, err = s.TransitionToken(ctx, store.TransitionInput{QueueID: "missing", Action: store.ActionServe, OccurredAt: time.Now().UTC()})
	if !errors.Is(err, store.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}
