package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const serviceTypeColumns = `id, queue_id, name, description, estimated_duration_minutes, is_active, created_at`

func scanServiceType(row pgx.Row) (models.ServiceType, error) {
	var serviceType models.ServiceType
	var description sql.NullString
	err := row.Scan(&serviceType.ID, &serviceType.QueueID, &serviceType.Name, &description,
		&serviceType.EstimatedDurationMinutes, &serviceType.IsActive, &serviceType.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServiceType{}, store.ErrServiceTypeNotFound
		}
		return models.ServiceType{}, err
	}
	serviceType.Description = nullStringPtr(description)
	return serviceType, nil
}

func (s *Store) CreateServiceType(ctx context.Context, input store.CreateServiceTypeInput) (models.ServiceType, error) {
	if err := queueExists(ctx, s.pool, input.QueueID); err != nil {
		return models.ServiceType{}, err
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return scanServiceType(s.pool.QueryRow(ctx, `
		INSERT INTO service_types (id, queue_id, name, description, estimated_duration_minutes, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING `+serviceTypeColumns,
		uuid.NewString(), input.QueueID, input.Name, input.Description, input.EstimatedDurationMinutes, createdAt))
}

func (s *Store) GetServiceType(ctx context.Context, serviceTypeID string) (models.ServiceType, error) {
	return scanServiceType(s.pool.QueryRow(ctx, `SELECT `+serviceTypeColumns+` FROM service_types WHERE id = $1`, serviceTypeID))
}

func (s *Store) UpdateServiceType(ctx context.Context, update store.ServiceTypeUpdate) (serviceType models.ServiceType, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ServiceType{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := scanServiceType(tx.QueryRow(ctx, `SELECT `+serviceTypeColumns+` FROM service_types WHERE id = $1 FOR UPDATE`, update.ServiceTypeID))
	if err != nil {
		return models.ServiceType{}, err
	}
	next := store.ApplyServiceTypeUpdate(current, update)
	if _, err = tx.Exec(ctx, `
		UPDATE service_types
		SET name = $2, description = $3, estimated_duration_minutes = $4, is_active = $5
		WHERE id = $1
	`, next.ID, next.Name, next.Description, next.EstimatedDurationMinutes, next.IsActive); err != nil {
		return models.ServiceType{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.ServiceType{}, err
	}
	return next, nil
}

func (s *Store) ListServiceTypes(ctx context.Context, queueID string, includeInactive bool) ([]models.ServiceType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+serviceTypeColumns+`
		FROM service_types
		WHERE queue_id = $1 AND (is_active OR $2)
		ORDER BY name
	`, queueID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.ServiceType, 0)
	for rows.Next() {
		serviceType, err := scanServiceType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, serviceType)
	}
	return result, rows.Err()
}
