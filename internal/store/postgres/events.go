package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"

	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, queue_id, token_id, event_type, created_at, wait_time_minutes, service_duration_minutes`

func insertEvent(ctx context.Context, tx pgx.Tx, event models.QueueEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.QueueID, event.TokenID, event.EventType, event.CreatedAt, event.WaitTimeMinutes, event.ServiceDurationMinutes)
	return err
}

func scanEvent(row pgx.Row) (models.QueueEvent, error) {
	var event models.QueueEvent
	var wait, duration sql.NullInt32
	if err := row.Scan(&event.ID, &event.QueueID, &event.TokenID, &event.EventType, &event.CreatedAt, &wait, &duration); err != nil {
		return models.QueueEvent{}, err
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.WaitTimeMinutes = nullIntPtr(wait)
	event.ServiceDurationMinutes = nullIntPtr(duration)
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, query store.EventQuery) ([]models.QueueEvent, error) {
	clauses := []string{"queue_id = $1"}
	args := []any{query.QueueID}
	if !query.From.IsZero() {
		args = append(args, query.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !query.To.IsZero() {
		args = append(args, query.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(query.Types) > 0 {
		args = append(args, query.Types)
		clauses = append(clauses, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	limit := ""
	if query.Limit > 0 {
		args = append(args, query.Limit)
		limit = fmt.Sprintf("LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM queue_events
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY created_at ASC, id ASC
		`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.QueueEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) LastEvent(ctx context.Context, queueID, eventType string) (models.QueueEvent, bool, error) {
	event, err := scanEvent(s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM queue_events
		WHERE queue_id = $1 AND event_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, queueID, eventType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEvent{}, false, nil
		}
		return models.QueueEvent{}, false, err
	}
	return event, true, nil
}

func (s *Store) EventLogVersion(ctx context.Context, queueID string) (string, error) {
	var count int64
	var latest sql.NullTime
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(created_at) FROM queue_events WHERE queue_id = $1
	`, queueID).Scan(&count, &latest); err != nil {
		return "", err
	}
	var stamp time.Time
	if latest.Valid {
		stamp = latest.Time
	}
	return fmt.Sprintf("%d-%d", count, stamp.UnixNano()), nil
}
