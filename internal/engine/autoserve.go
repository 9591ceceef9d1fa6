package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
)

// AutoServe serves the head of every queue with auto-serve on once the queue has
// gone auto_serve_minutes without a serve. It returns how many tokens it served.
func (e *Engine) AutoServe(ctx context.Context) (int, error) {
	var candidates []models.QueueSettings
	err := e.run(ctx, "auto_serve_scan", nil, func(ctx context.Context) error {
		var err error
		candidates, err = e.store.ListAutoServeQueues(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	served := 0
	for _, settings := range candidates {
		if ctx.Err() != nil {
			return served, ctx.Err()
		}
		ok, err := e.autoServeQueue(ctx, settings)
		if err != nil {
			log.Printf("auto-serve error queue=%s: %v", settings.QueueID, err)
			continue
		}
		if ok {
			served++
		}
	}
	return served, nil
}

func (e *Engine) autoServeQueue(ctx context.Context, settings models.QueueSettings) (bool, error) {
	head, ok, err := e.Next(ctx, settings.QueueID)
	if err != nil || !ok {
		return false, err
	}

	since := head.CreatedAt
	var last models.QueueEvent
	var found bool
	err = e.run(ctx, "auto_serve_last", queueAttr(settings.QueueID), func(ctx context.Context) error {
		var err error
		last, found, err = e.store.LastEvent(ctx, settings.QueueID, models.EventServed)
		return err
	})
	if err != nil {
		return false, err
	}
	if found && last.CreatedAt.After(since) {
		since = last.CreatedAt
	}
	if e.now().Sub(since) < time.Duration(settings.AutoServeMinutes)*time.Minute {
		return false, nil
	}
	// The head may have moved or been served since it was read.
	_, err = e.applyTransition(ctx, "auto_serve", tokenAttr(head.ID), store.TransitionInput{
		TokenID:     head.ID,
		QueueID:     settings.QueueID,
		RequireHead: true,
		Action:      store.ActionServe,
	})
	if errors.Is(err, store.ErrHeadChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
