// Package memory keeps the whole data set in process. It backs tests and
// single-instance deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu           sync.Mutex
	queues       map[string]models.Queue
	tokens       map[string]models.Token
	events       []models.QueueEvent
	settings     map[string]models.QueueSettings
	serviceTypes map[string]models.ServiceType
}

func New() *Store {
	return &Store{
		queues:       make(map[string]models.Queue),
		tokens:       make(map[string]models.Token),
		settings:     make(map[string]models.QueueSettings),
		serviceTypes: make(map[string]models.ServiceType),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	if err := ctx.Err(); err != nil {
		return models.Queue{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := models.Queue{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		ManagerID:   input.ManagerID,
		CreatedAt:   input.CreatedAt,
	}
	s.queues[queue.ID] = queue
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	if err := ctx.Err(); err != nil {
		return models.Queue{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, managerID string) ([]models.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make([]models.Queue, 0)
	for _, queue := range s.queues {
		if queue.ManagerID == managerID {
			queues = append(queues, queue)
		}
	}
	sort.Slice(queues, func(i, j int) bool {
		return queues[i].CreatedAt.After(queues[j].CreatedAt)
	})
	return queues, nil
}

func (s *Store) AddToken(ctx context.Context, input store.AddTokenInput) (models.Token, models.QueueEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[input.QueueID]; !ok {
		return models.Token{}, models.QueueEvent{}, store.ErrQueueNotFound
	}
	settings := s.settingsLocked(input.QueueID)
	if settings.IsPaused {
		return models.Token{}, models.QueueEvent{}, store.ErrQueuePaused
	}
	if settings.MaxTokensPerDay != nil {
		issued := 0
		for _, token := range s.tokens {
			if token.QueueID == input.QueueID && !token.CreatedAt.Before(input.DayStart) {
				issued++
			}
		}
		if issued >= *settings.MaxTokensPerDay {
			return models.Token{}, models.QueueEvent{}, store.ErrDailyLimitReached
		}
	}
	if input.ServiceTypeID != nil {
		serviceType, ok := s.serviceTypes[*input.ServiceTypeID]
		if !ok || serviceType.QueueID != input.QueueID || !serviceType.IsActive {
			return models.Token{}, models.QueueEvent{}, store.ErrServiceTypeNotFound
		}
	}

	token := models.Token{
		ID:            uuid.NewString(),
		QueueID:       input.QueueID,
		PersonName:    input.PersonName,
		ContactNumber: input.ContactNumber,
		ServiceTypeID: input.ServiceTypeID,
		PriorityLevel: input.PriorityLevel,
		Position:      store.NextPosition(s.waitingLocked(input.QueueID)),
		Status:        models.StatusWaiting,
		CreatedAt:     input.CreatedAt,
	}
	event := store.NewAddedEvent(token)
	s.tokens[token.ID] = token
	s.events = append(s.events, event)
	return token, event, nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	if err := ctx.Err(); err != nil {
		return models.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (s *Store) ListTokens(ctx context.Context, query store.TokenQuery) ([]models.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]bool, len(query.Statuses))
	for _, status := range query.Statuses {
		statuses[status] = true
	}
	tokens := make([]models.Token, 0)
	for _, token := range s.tokens {
		if token.QueueID != query.QueueID {
			continue
		}
		if len(statuses) > 0 && !statuses[token.Status] {
			continue
		}
		if !query.CreatedFrom.IsZero() && token.CreatedAt.Before(query.CreatedFrom) {
			continue
		}
		if !query.CreatedTo.IsZero() && !token.CreatedAt.Before(query.CreatedTo) {
			continue
		}
		tokens = append(tokens, token)
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		wi, wj := tokens[i].Status == models.StatusWaiting, tokens[j].Status == models.StatusWaiting
		if wi != wj {
			return wi
		}
		if wi && tokens[i].Position != tokens[j].Position {
			return tokens[i].Position < tokens[j].Position
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) TransitionToken(ctx context.Context, input store.TransitionInput) (store.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return store.TransitionResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.transitionTargetLocked(input)
	if err != nil {
		return store.TransitionResult{}, err
	}
	estimate := input.DefaultServiceMinutes
	if token.ServiceTypeID != nil {
		if serviceType, ok := s.serviceTypes[*token.ServiceTypeID]; ok && serviceType.EstimatedDurationMinutes > 0 {
			estimate = serviceType.EstimatedDurationMinutes
		}
	}
	next, event, err := store.ApplyTransition(token, input.Action, input.OccurredAt, estimate)
	if err != nil {
		return store.TransitionResult{}, err
	}

	result := store.TransitionResult{Token: next, Event: event, FromStatus: token.Status}
	if token.Status == models.StatusWaiting {
		result.FromPosition = token.Position
		for _, other := range s.waitingLocked(token.QueueID) {
			if other.ID != token.ID && other.Position > token.Position {
				other.Position--
				s.tokens[other.ID] = other
			}
		}
	}
	s.tokens[next.ID] = next
	s.events = append(s.events, event)
	return result, nil
}

func (s *Store) transitionTargetLocked(input store.TransitionInput) (models.Token, error) {
	if input.TokenID == "" {
		if _, ok := s.queues[input.QueueID]; !ok {
			return models.Token{}, store.ErrQueueNotFound
		}
		waiting := s.waitingLocked(input.QueueID)
		if len(waiting) == 0 {
			return models.Token{}, store.ErrNoWaitingToken
		}
		return waiting[0], nil
	}
	token, ok := s.tokens[input.TokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if input.RequireHead && !store.AtHead(token) {
		return models.Token{}, store.ErrHeadChanged
	}
	return token, nil
}

func (s *Store) ReorderTokens(ctx context.Context, input store.ReorderInput) (models.QueueEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[input.QueueID]; !ok {
		return models.QueueEvent{}, store.ErrQueueNotFound
	}
	waiting := s.waitingLocked(input.QueueID)
	plan, err := store.PlanReorder(waiting, input.TokenIDs)
	if err != nil {
		return models.QueueEvent{}, err
	}
	return s.applyPlanLocked(input.QueueID, waiting, plan, input.OccurredAt), nil
}

func (s *Store) MoveToken(ctx context.Context, input store.MoveTokenInput) (models.QueueEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[input.TokenID]
	if !ok {
		return models.QueueEvent{}, store.ErrTokenNotFound
	}
	if token.Status != models.StatusWaiting {
		return models.QueueEvent{}, store.ErrInvalidState
	}
	waiting := s.waitingLocked(token.QueueID)
	plan, err := store.PlanMove(waiting, token.ID, input.Position)
	if err != nil {
		return models.QueueEvent{}, err
	}
	if len(plan) == 0 {
		return models.QueueEvent{}, nil
	}
	return s.applyPlanLocked(token.QueueID, waiting, plan, input.OccurredAt), nil
}

func (s *Store) applyPlanLocked(queueID string, waiting []models.Token, plan map[string]int, at time.Time) models.QueueEvent {
	for _, token := range waiting {
		if position, ok := plan[token.ID]; ok {
			token.Position = position
			s.tokens[token.ID] = token
		}
	}
	event := store.NewReorderedEvent(queueID, store.HeadOf(waiting, plan), at)
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(ctx context.Context, query store.EventQuery) ([]models.QueueEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make(map[string]bool, len(query.Types))
	for _, eventType := range query.Types {
		types[eventType] = true
	}
	events := make([]models.QueueEvent, 0)
	for _, event := range s.events {
		if event.QueueID != query.QueueID {
			continue
		}
		if len(types) > 0 && !types[event.EventType] {
			continue
		}
		if !query.From.IsZero() && event.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && !event.CreatedAt.Before(query.To) {
			continue
		}
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	if query.Limit > 0 && len(events) > query.Limit {
		events = events[:query.Limit]
	}
	return events, nil
}

func (s *Store) LastEvent(ctx context.Context, queueID, eventType string) (models.QueueEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueEvent{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var last models.QueueEvent
	found := false
	for _, event := range s.events {
		if event.QueueID != queueID || event.EventType != eventType {
			continue
		}
		if !found || !event.CreatedAt.Before(last.CreatedAt) {
			last = event
			found = true
		}
	}
	return last, found, nil
}

func (s *Store) EventLogVersion(ctx context.Context, queueID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	var latest time.Time
	for _, event := range s.events {
		if event.QueueID != queueID {
			continue
		}
		count++
		if event.CreatedAt.After(latest) {
			latest = event.CreatedAt
		}
	}
	return fmt.Sprintf("%d-%d", count, latest.UnixNano()), nil
}

func (s *Store) GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[queueID]; !ok {
		return models.QueueSettings{}, store.ErrQueueNotFound
	}
	return s.settingsLocked(queueID), nil
}

func (s *Store) UpdateSettings(ctx context.Context, queueID string, update store.SettingsUpdate) (models.QueueSettings, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[queueID]; !ok {
		return models.QueueSettings{}, store.ErrQueueNotFound
	}
	next := store.ApplySettingsUpdate(s.settingsLocked(queueID), update)
	s.settings[queueID] = next
	return next, nil
}

func (s *Store) ListAutoServeQueues(ctx context.Context) ([]models.QueueSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]models.QueueSettings, 0)
	for _, settings := range s.settings {
		if settings.AutoServeEnabled && !settings.IsPaused {
			result = append(result, settings)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueueID < result[j].QueueID })
	return result, nil
}

func (s *Store) CreateServiceType(ctx context.Context, input store.CreateServiceTypeInput) (models.ServiceType, error) {
	if err := ctx.Err(); err != nil {
		return models.ServiceType{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[input.QueueID]; !ok {
		return models.ServiceType{}, store.ErrQueueNotFound
	}
	serviceType := models.ServiceType{
		ID:                       uuid.NewString(),
		QueueID:                  input.QueueID,
		Name:                     input.Name,
		Description:              input.Description,
		EstimatedDurationMinutes: input.EstimatedDurationMinutes,
		IsActive:                 true,
		CreatedAt:                input.CreatedAt,
	}
	s.serviceTypes[serviceType.ID] = serviceType
	return serviceType, nil
}

func (s *Store) GetServiceType(ctx context.Context, serviceTypeID string) (models.ServiceType, error) {
	if err := ctx.Err(); err != nil {
		return models.ServiceType{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	serviceType, ok := s.serviceTypes[serviceTypeID]
	if !ok {
		return models.ServiceType{}, store.ErrServiceTypeNotFound
	}
	return serviceType, nil
}

func (s *Store) UpdateServiceType(ctx context.Context, update store.ServiceTypeUpdate) (models.ServiceType, error) {
	if err := ctx.Err(); err != nil {
		return models.ServiceType{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.serviceTypes[update.ServiceTypeID]
	if !ok {
		return models.ServiceType{}, store.ErrServiceTypeNotFound
	}
	next := store.ApplyServiceTypeUpdate(current, update)
	s.serviceTypes[next.ID] = next
	return next, nil
}

func (s *Store) ListServiceTypes(ctx context.Context, queueID string, includeInactive bool) ([]models.ServiceType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]models.ServiceType, 0)
	for _, serviceType := range s.serviceTypes {
		if serviceType.QueueID != queueID {
			continue
		}
		if !includeInactive && !serviceType.IsActive {
			continue
		}
		result = append(result, serviceType)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) settingsLocked(queueID string) models.QueueSettings {
	settings, ok := s.settings[queueID]
	if !ok {
		settings = models.DefaultSettings(queueID, time.Now().UTC())
		s.settings[queueID] = settings
	}
	return settings
}

func (s *Store) waitingLocked(queueID string) []models.Token {
	waiting := make([]models.Token, 0)
	for _, token := range s.tokens {
		if token.QueueID == queueID && token.Status == models.StatusWaiting {
			waiting = append(waiting, token)
		}
	}
	store.SortByPosition(waiting)
	return waiting
}
