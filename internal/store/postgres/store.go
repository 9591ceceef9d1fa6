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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var queue models.Queue
	var description sql.NullString
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queues (id, name, description, manager_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, description, manager_id, created_at
	`, uuid.NewString(), input.Name, input.Description, input.ManagerID, createdAt)
	if err := row.Scan(&queue.ID, &queue.Name, &description, &queue.ManagerID, &queue.CreatedAt); err != nil {
		return models.Queue{}, err
	}
	queue.Description = nullStringPtr(description)
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	var queue models.Queue
	var description sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, manager_id, created_at
		FROM queues
		WHERE id = $1
	`, queueID)
	if err := row.Scan(&queue.ID, &queue.Name, &description, &queue.ManagerID, &queue.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	queue.Description = nullStringPtr(description)
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, managerID string) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, manager_id, created_at
		FROM queues
		WHERE manager_id = $1
		ORDER BY created_at DESC
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	queues := make([]models.Queue, 0)
	for rows.Next() {
		var queue models.Queue
		var description sql.NullString
		if err := rows.Scan(&queue.ID, &queue.Name, &description, &queue.ManagerID, &queue.CreatedAt); err != nil {
			return nil, err
		}
		queue.Description = nullStringPtr(description)
		queues = append(queues, queue)
	}
	return queues, rows.Err()
}

// lockQueue takes the row lock that serializes every position change in a queue.
func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM queues WHERE id = $1 FOR UPDATE`, queueID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrQueueNotFound
	}
	return err
}

func queueExists(ctx context.Context, q querier, queueID string) error {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM queues WHERE id = $1`, queueID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrQueueNotFound
	}
	return err
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullIntPtr(value sql.NullInt32) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int32)
	return &v
}
