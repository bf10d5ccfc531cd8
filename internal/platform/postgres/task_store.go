// Package postgres implements the store interfaces over PostgreSQL using
// database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/store"
)

// TaskStore implements store.TaskStore.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, type, status, tenant_key_hash, priority, payload, files,
	error_message, created_at, updated_at, started_at`

// Save persists a task record, replacing an existing row with the same id.
func (s *TaskStore) Save(ctx context.Context, t *domain.Task) error {
	filesJSON, err := json.Marshal(t.Files)
	if err != nil {
		return fmt.Errorf("failed to encode task files: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			payload = EXCLUDED.payload,
			files = EXCLUDED.files,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at
	`

	var errorMessage sql.NullString
	if t.ErrorMessage != "" {
		errorMessage = sql.NullString{String: t.ErrorMessage, Valid: true}
	}
	var startedAt sql.NullTime
	if t.StartedAt != nil {
		startedAt = sql.NullTime{Time: *t.StartedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.Type, t.Status, t.TenantKeyHash, t.Priority,
		[]byte(t.Payload), filesJSON, errorMessage,
		t.CreatedAt, t.UpdatedAt, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// FindByID retrieves a task by id.
func (s *TaskStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return s.scanTask(s.db.QueryRowContext(ctx, query, id))
}

// FindByStatus retrieves all tasks with the given status, oldest first.
func (s *TaskStore) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// DistinctTenantKeysInQueue returns every tenant key hash with queued tasks.
func (s *TaskStore) DistinctTenantKeysInQueue(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_key_hash FROM tasks WHERE status = $1`

	rows, err := s.db.QueryContext(ctx, query, domain.TaskStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct tenant keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan tenant key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant key rows: %w", err)
	}
	return keys, nil
}

// CountQueuedByTenantKey returns the queue depth for a tenant.
func (s *TaskStore) CountQueuedByTenantKey(ctx context.Context, tenantKeyHash string) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE status = $1 AND tenant_key_hash = $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, domain.TaskStatusQueued, tenantKeyHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued tasks: %w", err)
	}
	return count, nil
}

// DequeueNext atomically claims the next queued task for a tenant. The inner
// SELECT ... FOR UPDATE SKIP LOCKED is the single mutual-exclusion point for
// concurrent dequeuers; each task transitions queued to processing exactly
// once.
func (s *TaskStore) DequeueNext(ctx context.Context, tenantKeyHash string) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3 AND tenant_key_hash = $4
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + taskColumns

	now := time.Now().UTC()
	return s.scanTask(s.db.QueryRowContext(ctx, query,
		domain.TaskStatusProcessing, now, domain.TaskStatusQueued, tenantKeyHash))
}

// Delete removes a task record. Deleting a missing task is a no-op.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrDeleteFailed, err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *TaskStore) scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		payload      []byte
		filesJSON    []byte
		errorMessage sql.NullString
		startedAt    sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.Type, &t.Status, &t.TenantKeyHash, &t.Priority,
		&payload, &filesJSON, &errorMessage,
		&t.CreatedAt, &t.UpdatedAt, &startedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}

	t.Payload = json.RawMessage(payload)
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &t.Files); err != nil {
			return nil, fmt.Errorf("failed to decode task files: %w", err)
		}
	}
	t.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		started := startedAt.Time
		t.StartedAt = &started
	}
	return &t, nil
}
