package engine

import (
	"context"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
)

type TokenStatus struct {
	Token                models.Token `json:"token"`
	QueueName            string       `json:"queue_name"`
	ServiceTypeName      *string      `json:"service_type_name,omitempty"`
	Position             int          `json:"position"`
	TokensAhead          int          `json:"tokens_ahead"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes"`
}

type Display struct {
	Queue        models.Queue   `json:"queue"`
	IsPaused     bool           `json:"is_paused"`
	PauseReason  *string        `json:"pause_reason,omitempty"`
	Serving      []models.Token `json:"serving"`
	Upcoming     []models.Token `json:"upcoming"`
	TotalWaiting int            `json:"total_waiting"`
}

// LookupToken backs the self-service status page.
func (e *Engine) LookupToken(ctx context.Context, tokenID string) (TokenStatus, error) {
	if !validID(tokenID) {
		return TokenStatus{}, store.ErrTokenNotFound
	}
	var status TokenStatus
	err := e.run(ctx, "lookup_token", tokenAttr(tokenID), func(ctx context.Context) error {
		token, err := e.store.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		queue, err := e.store.GetQueue(ctx, token.QueueID)
		if err != nil {
			return err
		}
		serviceTypes, err := e.store.ListServiceTypes(ctx, token.QueueID, true)
		if err != nil {
			return err
		}
		status = TokenStatus{Token: token, QueueName: queue.Name}
		estimates := make(map[string]int, len(serviceTypes))
		for _, serviceType := range serviceTypes {
			estimates[serviceType.ID] = serviceType.EstimatedDurationMinutes
			if token.ServiceTypeID != nil && *token.ServiceTypeID == serviceType.ID {
				name := serviceType.Name
				status.ServiceTypeName = &name
			}
		}
		if token.Status != models.StatusWaiting {
			return nil
		}
		waiting, err := e.store.ListTokens(ctx, store.TokenQuery{QueueID: token.QueueID, Statuses: []string{models.StatusWaiting}})
		if err != nil {
			return err
		}
		status.Position = token.Position
		status.TokensAhead, status.EstimatedWaitMinutes = EstimateWait(waiting, token.ID, estimates, e.serviceMinutes)
		return nil
	})
	return status, err
}

// EstimateWait sums the expected service time of every waiting token ahead of tokenID.
func EstimateWait(waiting []models.Token, tokenID string, estimates map[string]int, fallback int) (int, int) {
	ahead, minutes := 0, 0
	for _, token := range waiting {
		if token.ID == tokenID {
			return ahead, minutes
		}
		ahead++
		duration := fallback
		if token.ServiceTypeID != nil {
			if estimate, ok := estimates[*token.ServiceTypeID]; ok && estimate > 0 {
				duration = estimate
			}
		}
		minutes += duration
	}
	return ahead, minutes
}

// Display backs the public board: who is being attended and who is next.
func (e *Engine) Display(ctx context.Context, queueID string) (Display, error) {
	if !validID(queueID) {
		return Display{}, store.ErrQueueNotFound
	}
	var display Display
	err := e.run(ctx, "display", queueAttr(queueID), func(ctx context.Context) error {
		queue, err := e.store.GetQueue(ctx, queueID)
		if err != nil {
			return err
		}
		settings, err := e.store.GetSettings(ctx, queueID)
		if err != nil {
			return err
		}
		tokens, err := e.store.ListTokens(ctx, store.TokenQuery{
			QueueID:  queueID,
			Statuses: []string{models.StatusWaiting, models.StatusServing},
		})
		if err != nil {
			return err
		}
		display = Display{
			Queue:       queue,
			IsPaused:    settings.IsPaused,
			PauseReason: settings.PauseReason,
			Serving:     make([]models.Token, 0),
			Upcoming:    make([]models.Token, 0, displayUpcoming),
		}
		for _, token := range tokens {
			switch token.Status {
			case models.StatusServing:
				display.Serving = append(display.Serving, token)
			case models.StatusWaiting:
				display.TotalWaiting++
				if len(display.Upcoming) < displayUpcoming {
					display.Upcoming = append(display.Upcoming, token)
				}
			}
		}
		return nil
	})
	return display, err
}
