package engine

import (
	"context"
	"fmt"
	"strings"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store"
)

func (e *Engine) CreateQueue(ctx context.Context, managerID, name, description string) (models.Queue, error) {
	name = strings.TrimSpace(name)
	managerID = strings.TrimSpace(managerID)
	if name == "" {
		return models.Queue{}, store.ErrInvalidName
	}
	if managerID == "" {
		return models.Queue{}, fmt.Errorf("%w: manager is required", store.ErrInvalidInput)
	}
	var queue models.Queue
	err := e.run(ctx, "create_queue", nil, func(ctx context.Context) error {
		var err error
		queue, err = e.store.CreateQueue(ctx, store.CreateQueueInput{
			Name:        name,
			Description: optional(description),
			ManagerID:   managerID,
			CreatedAt:   e.now(),
		})
		return err
	})
	if err != nil {
		return models.Queue{}, err
	}
	e.publish(ctx, queue.ID, realtime.TableQueues)
	return queue, nil
}

func (e *Engine) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	if !validID(queueID) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	var queue models.Queue
	err := e.run(ctx, "get_queue", queueAttr(queueID), func(ctx context.Context) error {
		var err error
		queue, err = e.store.GetQueue(ctx, queueID)
		return err
	})
	return queue, err
}

// ListQueues returns the manager's queues, newest first.
func (e *Engine) ListQueues(ctx context.Context, managerID string) ([]models.Queue, error) {
	managerID = strings.TrimSpace(managerID)
	if managerID == "" {
		return nil, fmt.Errorf("%w: manager is required", store.ErrInvalidInput)
	}
	var queues []models.Queue
	err := e.run(ctx, "list_queues", nil, func(ctx context.Context) error {
		var err error
		queues, err = e.store.ListQueues(ctx, managerID)
		return err
	})
	return queues, err
}

func (e *Engine) Settings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	if !validID(queueID) {
		return models.QueueSettings{}, store.ErrQueueNotFound
	}
	var settings models.QueueSettings
	err := e.run(ctx, "get_settings", queueAttr(queueID), func(ctx context.Context) error {
		var err error
		settings, err = e.store.GetSettings(ctx, queueID)
		return err
	})
	return settings, err
}

func (e *Engine) UpdateSettings(ctx context.Context, queueID string, update store.SettingsUpdate) (models.QueueSettings, error) {
	if !validID(queueID) {
		return models.QueueSettings{}, store.ErrQueueNotFound
	}
	if update.AutoServeMinutes != nil && *update.AutoServeMinutes <= 0 {
		return models.QueueSettings{}, fmt.Errorf("%w: auto_serve_minutes must be positive", store.ErrInvalidInput)
	}
	if update.MaxTokensPerDay != nil && *update.MaxTokensPerDay < 0 {
		return models.QueueSettings{}, fmt.Errorf("%w: max_tokens_per_day must not be negative", store.ErrInvalidInput)
	}
	var settings models.QueueSettings
	err := e.run(ctx, "update_settings", queueAttr(queueID), func(ctx context.Context) error {
		return e.withQueueLock(ctx, queueID, func() error {
			var err error
			update.UpdatedAt = e.now()
			settings, err = e.store.UpdateSettings(ctx, queueID, update)
			return err
		})
	})
	if err != nil {
		return models.QueueSettings{}, err
	}
	e.publish(ctx, queueID, realtime.TableQueueSettings)
	return settings, nil
}

func (e *Engine) PauseQueue(ctx context.Context, queueID, reason string) (models.QueueSettings, error) {
	paused := true
	reason = strings.TrimSpace(reason)
	return e.UpdateSettings(ctx, queueID, store.SettingsUpdate{IsPaused: &paused, PauseReason: &reason})
}

func (e *Engine) ResumeQueue(ctx context.Context, queueID string) (models.QueueSettings, error) {
	paused := false
	return e.UpdateSettings(ctx, queueID, store.SettingsUpdate{IsPaused: &paused})
}

type ServiceTypeRequest struct {
	Name                     string
	Description              string
	EstimatedDurationMinutes int
}

func (e *Engine) CreateServiceType(ctx context.Context, queueID string, req ServiceTypeRequest) (models.ServiceType, error) {
	if !validID(queueID) {
		return models.ServiceType{}, store.ErrQueueNotFound
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.ServiceType{}, store.ErrInvalidName
	}
	duration := req.EstimatedDurationMinutes
	if duration == 0 {
		duration = e.serviceMinutes
	}
	if duration < 0 {
		return models.ServiceType{}, fmt.Errorf("%w: estimated_duration_minutes must be positive", store.ErrInvalidInput)
	}
	var serviceType models.ServiceType
	err := e.run(ctx, "create_service_type", queueAttr(queueID), func(ctx context.Context) error {
		var err error
		serviceType, err = e.store.CreateServiceType(ctx, store.CreateServiceTypeInput{
			QueueID:                  queueID,
			Name:                     name,
			Description:              optional(req.Description),
			EstimatedDurationMinutes: duration,
			CreatedAt:                e.now(),
		})
		return err
	})
	if err != nil {
		return models.ServiceType{}, err
	}
	e.publish(ctx, queueID, realtime.TableServiceTypes)
	return serviceType, nil
}

func (e *Engine) UpdateServiceType(ctx context.Context, update store.ServiceTypeUpdate) (models.ServiceType, error) {
	if !validID(update.ServiceTypeID) {
		return models.ServiceType{}, store.ErrServiceTypeNotFound
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.ServiceType{}, store.ErrInvalidName
		}
		update.Name = &name
	}
	if update.EstimatedDurationMinutes != nil && *update.EstimatedDurationMinutes <= 0 {
		return models.ServiceType{}, fmt.Errorf("%w: estimated_duration_minutes must be positive", store.ErrInvalidInput)
	}
	var serviceType models.ServiceType
	err := e.run(ctx, "update_service_type", nil, func(ctx context.Context) error {
		var err error
		serviceType, err = e.store.UpdateServiceType(ctx, update)
		return err
	})
	if err != nil {
		return models.ServiceType{}, err
	}
	e.publish(ctx, serviceType.QueueID, realtime.TableServiceTypes)
	return serviceType, nil
}

// DeactivateServiceType is the delete operation: rows stay for tokens that reference them.
func (e *Engine) DeactivateServiceType(ctx context.Context, serviceTypeID string) (models.ServiceType, error) {
	inactive := false
	return e.UpdateServiceType(ctx, store.ServiceTypeUpdate{ServiceTypeID: serviceTypeID, IsActive: &inactive})
}

func (e *Engine) ServiceTypes(ctx context.Context, queueID string, includeInactive bool) ([]models.ServiceType, error) {
	if !validID(queueID) {
		return nil, store.ErrQueueNotFound
	}
	var serviceTypes []models.ServiceType
	err := e.run(ctx, "list_service_types", queueAttr(queueID), func(ctx context.Context) error {
		if _, err := e.store.GetQueue(ctx, queueID); err != nil {
			return err
		}
		var err error
		serviceTypes, err = e.store.ListServiceTypes(ctx, queueID, includeInactive)
		return err
	})
	return serviceTypes, err
}
