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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `id, queue_id, person_name, contact_number, service_type_id, priority_level,
	position, status, created_at, serving_at, served_at, cancelled_at, no_show_at`

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var contact, serviceTypeID sql.NullString
	var servingAt, servedAt, cancelledAt, noShowAt sql.NullTime
	err := row.Scan(
		&token.ID, &token.QueueID, &token.PersonName, &contact, &serviceTypeID, &token.PriorityLevel,
		&token.Position, &token.Status, &token.CreatedAt, &servingAt, &servedAt, &cancelledAt, &noShowAt,
	)
	if err != nil {
		return models.Token{}, err
	}
	token.CreatedAt = token.CreatedAt.UTC()
	token.ContactNumber = nullStringPtr(contact)
	token.ServiceTypeID = nullStringPtr(serviceTypeID)
	token.ServingAt = nullTimePtr(servingAt)
	token.ServedAt = nullTimePtr(servedAt)
	token.CancelledAt = nullTimePtr(cancelledAt)
	token.NoShowAt = nullTimePtr(noShowAt)
	return token, nil
}

func (s *Store) AddToken(ctx context.Context, input store.AddTokenInput) (token models.Token, event models.QueueEvent, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockQueue(ctx, tx, input.QueueID); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	if err = checkAdmission(ctx, tx, input); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	if input.ServiceTypeID != nil {
		var active bool
		err = tx.QueryRow(ctx, `
			SELECT is_active FROM service_types WHERE id = $1 AND queue_id = $2
		`, *input.ServiceTypeID, input.QueueID).Scan(&active)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !active) {
			err = store.ErrServiceTypeNotFound
		}
		if err != nil {
			return models.Token{}, models.QueueEvent{}, err
		}
	}

	var position int
	if err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM tokens
		WHERE queue_id = $1 AND status = 'waiting'
	`, input.QueueID).Scan(&position); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	token, err = scanToken(tx.QueryRow(ctx, `
		INSERT INTO tokens (id, queue_id, person_name, contact_number, service_type_id, priority_level, position, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+tokenColumns,
		uuid.NewString(), input.QueueID, input.PersonName, input.ContactNumber, input.ServiceTypeID,
		input.PriorityLevel, position, models.StatusWaiting, createdAt,
	))
	if err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}

	event = store.NewAddedEvent(token)
	if err = insertEvent(ctx, tx, event); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, models.QueueEvent{}, err
	}
	return token, event, nil
}

func checkAdmission(ctx context.Context, tx pgx.Tx, input store.AddTokenInput) error {
	var paused bool
	var limit sql.NullInt32
	err := tx.QueryRow(ctx, `
		SELECT is_paused, max_tokens_per_day FROM queue_settings WHERE queue_id = $1
	`, input.QueueID).Scan(&paused, &limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if paused {
		return store.ErrQueuePaused
	}
	if !limit.Valid {
		return nil
	}
	var issued int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tokens WHERE queue_id = $1 AND created_at >= $2
	`, input.QueueID, input.DayStart).Scan(&issued); err != nil {
		return err
	}
	if issued >= int(limit.Int32) {
		return store.ErrDailyLimitReached
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	token, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ListTokens(ctx context.Context, query store.TokenQuery) ([]models.Token, error) {
	return listTokens(ctx, s.pool, query)
}

func listTokens(ctx context.Context, q querier, query store.TokenQuery) ([]models.Token, error) {
	clauses := []string{"queue_id = $1"}
	args := []any{query.QueueID}
	if len(query.Statuses) > 0 {
		args = append(args, query.Statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !query.CreatedFrom.IsZero() {
		args = append(args, query.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !query.CreatedTo.IsZero() {
		args = append(args, query.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}

	rows, err := q.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY CASE WHEN status = 'waiting' THEN 0 ELSE 1 END, position, created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// lockToken resolves the token's queue, locks that queue and then the token row.
func lockToken(ctx context.Context, tx pgx.Tx, tokenID string) (models.Token, error) {
	var queueID string
	err := tx.QueryRow(ctx, `SELECT queue_id FROM tokens WHERE id = $1`, tokenID).Scan(&queueID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Token{}, store.ErrTokenNotFound
	}
	if err != nil {
		return models.Token{}, err
	}
	if err := lockQueue(ctx, tx, queueID); err != nil {
		return models.Token{}, err
	}
	token, err := scanToken(tx.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1 FOR UPDATE`, tokenID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, err
}

func lockTransitionTarget(ctx context.Context, tx pgx.Tx, input store.TransitionInput) (models.Token, error) {
	if input.TokenID == "" {
		if err := lockQueue(ctx, tx, input.QueueID); err != nil {
			return models.Token{}, err
		}
		token, err := scanToken(tx.QueryRow(ctx, `
			SELECT `+tokenColumns+`
			FROM tokens
			WHERE queue_id = $1 AND status = 'waiting' AND position = 1
			FOR UPDATE
		`, input.QueueID))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrNoWaitingToken
		}
		return token, err
	}
	token, err := lockToken(ctx, tx, input.TokenID)
	if err != nil {
		return models.Token{}, err
	}
	if input.RequireHead && !store.AtHead(token) {
		return models.Token{}, store.ErrHeadChanged
	}
	return token, nil
}

func (s *Store) TransitionToken(ctx context.Context, input store.TransitionInput) (result store.TransitionResult, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.TransitionResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	token, err := lockTransitionTarget(ctx, tx, input)
	if err != nil {
		return store.TransitionResult{}, err
	}

	estimate := input.DefaultServiceMinutes
	if token.ServiceTypeID != nil {
		var minutes int
		err = tx.QueryRow(ctx, `
			SELECT estimated_duration_minutes FROM service_types WHERE id = $1
		`, *token.ServiceTypeID).Scan(&minutes)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return store.TransitionResult{}, err
		}
		err = nil
		if minutes > 0 {
			estimate = minutes
		}
	}

	next, event, err := store.ApplyTransition(token, input.Action, input.OccurredAt, estimate)
	if err != nil {
		return store.TransitionResult{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE tokens
		SET status = $2, serving_at = $3, served_at = $4, cancelled_at = $5, no_show_at = $6
		WHERE id = $1
	`, next.ID, next.Status, next.ServingAt, next.ServedAt, next.CancelledAt, next.NoShowAt); err != nil {
		return store.TransitionResult{}, err
	}

	result = store.TransitionResult{Token: next, Event: event, FromStatus: token.Status}
	if token.Status == models.StatusWaiting {
		result.FromPosition = token.Position
		if _, err = tx.Exec(ctx, `
			UPDATE tokens
			SET position = position - 1
			WHERE queue_id = $1 AND status = 'waiting' AND position > $2
		`, token.QueueID, token.Position); err != nil {
			return store.TransitionResult{}, err
		}
	}

	if err = insertEvent(ctx, tx, event); err != nil {
		return store.TransitionResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.TransitionResult{}, err
	}
	return result, nil
}

func (s *Store) ReorderTokens(ctx context.Context, input store.ReorderInput) (event models.QueueEvent, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEvent{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockQueue(ctx, tx, input.QueueID); err != nil {
		return models.QueueEvent{}, err
	}
	waiting, err := listTokens(ctx, tx, store.TokenQuery{QueueID: input.QueueID, Statuses: []string{models.StatusWaiting}})
	if err != nil {
		return models.QueueEvent{}, err
	}
	plan, err := store.PlanReorder(waiting, input.TokenIDs)
	if err != nil {
		return models.QueueEvent{}, err
	}
	event, err = applyPlan(ctx, tx, input.QueueID, waiting, plan, input.OccurredAt)
	if err != nil {
		return models.QueueEvent{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEvent{}, err
	}
	return event, nil
}

func (s *Store) MoveToken(ctx context.Context, input store.MoveTokenInput) (event models.QueueEvent, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEvent{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	token, err := lockToken(ctx, tx, input.TokenID)
	if err != nil {
		return models.QueueEvent{}, err
	}
	if token.Status != models.StatusWaiting {
		err = store.ErrInvalidState
		return models.QueueEvent{}, err
	}
	waiting, err := listTokens(ctx, tx, store.TokenQuery{QueueID: token.QueueID, Statuses: []string{models.StatusWaiting}})
	if err != nil {
		return models.QueueEvent{}, err
	}
	plan, err := store.PlanMove(waiting, token.ID, input.Position)
	if err != nil {
		return models.QueueEvent{}, err
	}
	if len(plan) > 0 {
		event, err = applyPlan(ctx, tx, token.QueueID, waiting, plan, input.OccurredAt)
		if err != nil {
			return models.QueueEvent{}, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEvent{}, err
	}
	return event, nil
}

func applyPlan(ctx context.Context, tx pgx.Tx, queueID string, waiting []models.Token, plan map[string]int, at time.Time) (models.QueueEvent, error) {
	ids := make([]string, 0, len(plan))
	positions := make([]int32, 0, len(plan))
	for id, position := range plan {
		ids = append(ids, id)
		positions = append(positions, int32(position))
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tokens AS t
		SET position = p.position
		FROM unnest($2::uuid[], $3::int[]) AS p(id, position)
		WHERE t.id = p.id AND t.queue_id = $1
	`, queueID, ids, positions); err != nil {
		return models.QueueEvent{}, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	event := store.NewReorderedEvent(queueID, store.HeadOf(waiting, plan), at)
	if err := insertEvent(ctx, tx, event); err != nil {
		return models.QueueEvent{}, err
	}
	return event, nil
}
