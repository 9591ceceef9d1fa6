package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

type AddTokenRequest struct {
	PersonName    string
	ContactNumber string
	ServiceTypeID string
	PriorityLevel int
}

func (e *Engine) AddToken(ctx context.Context, queueID string, req AddTokenRequest) (models.Token, error) {
	name := strings.TrimSpace(req.PersonName)
	if name == "" {
		return models.Token{}, store.ErrInvalidName
	}
	priority := req.PriorityLevel
	if priority == 0 {
		priority = models.PriorityNormal
	}
	if priority < models.PriorityNormal || priority > models.PriorityVIP {
		return models.Token{}, store.ErrInvalidPriority
	}
	if !validID(queueID) {
		return models.Token{}, store.ErrQueueNotFound
	}
	input := store.AddTokenInput{
		QueueID:       queueID,
		PersonName:    name,
		ContactNumber: optional(req.ContactNumber),
		ServiceTypeID: optional(req.ServiceTypeID),
		PriorityLevel: priority,
	}
	if input.ServiceTypeID != nil && !validID(*input.ServiceTypeID) {
		return models.Token{}, store.ErrServiceTypeNotFound
	}

	var token models.Token
	err := e.run(ctx, "add_token", queueAttr(queueID), func(ctx context.Context) error {
		settings, err := e.store.GetSettings(ctx, queueID)
		if err != nil {
			return err
		}
		// Levels are only displayed while the queue has them switched on.
		if !settings.PriorityLevelsEnabled {
			input.PriorityLevel = models.PriorityNormal
		}
		return e.withQueueLock(ctx, queueID, func() error {
			now := e.now()
			input.CreatedAt = now
			input.DayStart = e.dayStart(now)
			token, _, err = e.store.AddToken(ctx, input)
			return err
		})
	})
	if err != nil {
		return models.Token{}, err
	}

	e.publish(ctx, queueID, realtime.TableTokens, realtime.TableQueueEvents)
	if token.Position <= e.nearFront {
		e.sendNearFront(ctx, token, token.Position)
	}
	return token, nil
}

func (e *Engine) StartServing(ctx context.Context, tokenID string) (models.Token, error) {
	return e.transition(ctx, "start_serving", tokenID, store.ActionStart)
}

func (e *Engine) ServeToken(ctx context.Context, tokenID string) (models.Token, error) {
	return e.transition(ctx, "serve_token", tokenID, store.ActionServe)
}

func (e *Engine) CancelToken(ctx context.Context, tokenID string) (models.Token, error) {
	return e.transition(ctx, "cancel_token", tokenID, store.ActionCancel)
}

func (e *Engine) MarkNoShow(ctx context.Context, tokenID string) (models.Token, error) {
	return e.transition(ctx, "mark_no_show", tokenID, store.ActionNoShow)
}

// ServeNext serves whichever token holds position 1 when the store takes the
// queue lock, so a concurrent reorder cannot make it serve a stale head.
func (e *Engine) ServeNext(ctx context.Context, queueID string) (models.Token, error) {
	if !validID(queueID) {
		return models.Token{}, store.ErrQueueNotFound
	}
	return e.applyTransition(ctx, "serve_next", queueAttr(queueID), store.TransitionInput{
		QueueID: queueID,
		Action:  store.ActionServe,
	})
}

func (e *Engine) transition(ctx context.Context, op, tokenID, action string) (models.Token, error) {
	if !validID(tokenID) {
		return models.Token{}, store.ErrTokenNotFound
	}
	return e.applyTransition(ctx, op, tokenAttr(tokenID), store.TransitionInput{
		TokenID: tokenID,
		Action:  action,
	})
}

func (e *Engine) applyTransition(ctx context.Context, op string, attrs []attribute.KeyValue, input store.TransitionInput) (models.Token, error) {
	var result store.TransitionResult
	err := e.run(ctx, op, attrs, func(ctx context.Context) error {
		queueID := input.QueueID
		if queueID == "" {
			current, err := e.store.GetToken(ctx, input.TokenID)
			if err != nil {
				return err
			}
			queueID = current.QueueID
		}
		return e.withQueueLock(ctx, queueID, func() error {
			input.OccurredAt = e.now()
			input.DefaultServiceMinutes = e.serviceMinutes
			var err error
			result, err = e.store.TransitionToken(ctx, input)
			return err
		})
	})
	if err != nil {
		return models.Token{}, err
	}

	token := result.Token
	e.publish(ctx, token.QueueID, realtime.TableTokens, realtime.TableQueueEvents)
	if input.Action == store.ActionServe {
		e.sendServed(ctx, token)
	}
	// Cancel and no-show shift the line silently.
	leftFront := result.FromStatus == models.StatusWaiting && result.FromPosition <= e.nearFront
	if leftFront && (input.Action == store.ActionServe || input.Action == store.ActionStart) {
		e.notifyFront(ctx, token.QueueID)
	}
	return token, nil
}

func (e *Engine) ReorderTokens(ctx context.Context, queueID string, tokenIDs []string) error {
	if !validID(queueID) {
		return store.ErrQueueNotFound
	}
	if len(tokenIDs) == 0 {
		return fmt.Errorf("%w: token list is empty", store.ErrInvalidInput)
	}
	var event models.QueueEvent
	err := e.run(ctx, "reorder_tokens", queueAttr(queueID), func(ctx context.Context) error {
		return e.withQueueLock(ctx, queueID, func() error {
			var err error
			event, err = e.store.ReorderTokens(ctx, store.ReorderInput{
				QueueID:    queueID,
				TokenIDs:   tokenIDs,
				OccurredAt: e.now(),
			})
			return err
		})
	})
	if err != nil {
		return err
	}
	if event.ID != "" {
		e.publish(ctx, queueID, realtime.TableTokens, realtime.TableQueueEvents)
	}
	return nil
}

func (e *Engine) MoveToken(ctx context.Context, tokenID string, position int) error {
	if !validID(tokenID) {
		return store.ErrTokenNotFound
	}
	if position < 1 {
		return store.ErrInvalidPosition
	}
	var (
		queueID string
		event   models.QueueEvent
	)
	err := e.run(ctx, "move_token", tokenAttr(tokenID), func(ctx context.Context) error {
		current, err := e.store.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		queueID = current.QueueID
		return e.withQueueLock(ctx, queueID, func() error {
			event, err = e.store.MoveToken(ctx, store.MoveTokenInput{
				TokenID:    tokenID,
				Position:   position,
				OccurredAt: e.now(),
			})
			return err
		})
	})
	if err != nil {
		return err
	}
	if event.ID != "" {
		e.publish(ctx, queueID, realtime.TableTokens, realtime.TableQueueEvents)
	}
	return nil
}

// WaitingTokens is the externally visible list: waiting tokens by position.
func (e *Engine) WaitingTokens(ctx context.Context, queueID string) ([]models.Token, error) {
	return e.Tokens(ctx, queueID, models.StatusWaiting)
}

func (e *Engine) Tokens(ctx context.Context, queueID string, statuses ...string) ([]models.Token, error) {
	if !validID(queueID) {
		return nil, store.ErrQueueNotFound
	}
	var tokens []models.Token
	err := e.run(ctx, "list_tokens", queueAttr(queueID), func(ctx context.Context) error {
		if _, err := e.store.GetQueue(ctx, queueID); err != nil {
			return err
		}
		var err error
		tokens, err = e.store.ListTokens(ctx, store.TokenQuery{QueueID: queueID, Statuses: statuses})
		return err
	})
	return tokens, err
}

func (e *Engine) Next(ctx context.Context, queueID string) (models.Token, bool, error) {
	waiting, err := e.WaitingTokens(ctx, queueID)
	if err != nil {
		return models.Token{}, false, err
	}
	if len(waiting) == 0 {
		return models.Token{}, false, nil
	}
	return waiting[0], true, nil
}

func (e *Engine) notifyFront(ctx context.Context, queueID string) {
	waiting, err := e.WaitingTokens(context.WithoutCancel(ctx), queueID)
	if err != nil {
		log.Printf("near-front lookup error queue=%s: %v", queueID, err)
		return
	}
	for _, token := range waiting {
		if token.Position > e.nearFront {
			break
		}
		e.sendNearFront(ctx, token, token.Position)
	}
}

func (e *Engine) sendNearFront(ctx context.Context, token models.Token, position int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	result := "ok"
	if err := e.notifier.NearFront(ctx, token, position); err != nil {
		result = "error"
		log.Printf("near-front notification error token=%s: %v", token.ID, err)
	}
	notificationsTotal.WithLabelValues("near_front", result).Inc()
}

func (e *Engine) sendServed(ctx context.Context, token models.Token) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	result := "ok"
	if err := e.notifier.Served(ctx, token); err != nil {
		result = "error"
		log.Printf("served notification error token=%s: %v", token.ID, err)
	}
	notificationsTotal.WithLabelValues("served", result).Inc()
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
