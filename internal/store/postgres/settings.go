package postgres

import (
	"context"
	"database/sql"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"

	"github.com/jackc/pgx/v5"
)

const settingsColumns = `queue_id, is_paused, pause_reason, auto_serve_enabled, auto_serve_minutes,
	priority_levels_enabled, max_tokens_per_day, updated_at`

func scanSettings(row pgx.Row) (models.QueueSettings, error) {
	var settings models.QueueSettings
	var reason sql.NullString
	var limit sql.NullInt32
	err := row.Scan(&settings.QueueID, &settings.IsPaused, &reason, &settings.AutoServeEnabled, &settings.AutoServeMinutes,
		&settings.PriorityLevelsEnabled, &limit, &settings.UpdatedAt)
	if err != nil {
		return models.QueueSettings{}, err
	}
	settings.PauseReason = nullStringPtr(reason)
	settings.MaxTokensPerDay = nullIntPtr(limit)
	return settings, nil
}

func ensureSettings(ctx context.Context, q querier, queueID string) error {
	if err := queueExists(ctx, q, queueID); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `
		INSERT INTO queue_settings (queue_id, auto_serve_minutes, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue_id) DO NOTHING
	`, queueID, models.DefaultAutoServeMinutes, time.Now().UTC())
	return err
}

// GetSettings creates the default row on first read.
func (s *Store) GetSettings(ctx context.Context, queueID string) (models.QueueSettings, error) {
	if err := ensureSettings(ctx, s.pool, queueID); err != nil {
		return models.QueueSettings{}, err
	}
	return scanSettings(s.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM queue_settings WHERE queue_id = $1`, queueID))
}

func (s *Store) UpdateSettings(ctx context.Context, queueID string, update store.SettingsUpdate) (settings models.QueueSettings, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueSettings{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureSettings(ctx, tx, queueID); err != nil {
		return models.QueueSettings{}, err
	}
	current, err := scanSettings(tx.QueryRow(ctx, `SELECT `+settingsColumns+` FROM queue_settings WHERE queue_id = $1 FOR UPDATE`, queueID))
	if err != nil {
		return models.QueueSettings{}, err
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now().UTC()
	}
	next := store.ApplySettingsUpdate(current, update)
	if _, err = tx.Exec(ctx, `
		UPDATE queue_settings
		SET is_paused = $2, pause_reason = $3, auto_serve_enabled = $4, auto_serve_minutes = $5,
			priority_levels_enabled = $6, max_tokens_per_day = $7, updated_at = $8
		WHERE queue_id = $1
	`, queueID, next.IsPaused, next.PauseReason, next.AutoServeEnabled, next.AutoServeMinutes,
		next.PriorityLevelsEnabled, next.MaxTokensPerDay, next.UpdatedAt); err != nil {
		return models.QueueSettings{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueSettings{}, err
	}
	return next, nil
}

func (s *Store) ListAutoServeQueues(ctx context.Context) ([]models.QueueSettings, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+settingsColumns+`
		FROM queue_settings
		WHERE auto_serve_enabled AND NOT is_paused
		ORDER BY queue_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.QueueSettings, 0)
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, settings)
	}
	return result, rows.Err()
}
