package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Operon/internal/domain"
)

// Schema — DDL журнала попыток.
const Schema = `
CREATE TABLE IF NOT EXISTS task_attempts (
	id                  UUID PRIMARY KEY,
	task_id             TEXT NOT NULL,
	topic               TEXT NOT NULL,
	activity_id         TEXT NOT NULL,
	process_instance_id TEXT NOT NULL,
	component_id        TEXT,
	stage               TEXT NOT NULL,
	class               TEXT,
	code                TEXT,
	message             TEXT,
	retries_left        INTEGER,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_attempts_task_id_idx ON task_attempts (task_id);
CREATE INDEX IF NOT EXISTS task_attempts_process_instance_idx ON task_attempts (process_instance_id);
`

// AttemptRepo — журнал обработок внешних задач.
type AttemptRepo struct {
	db DB
}

// NewAttemptRepo создаёт AttemptRepo.
func NewAttemptRepo(db DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// EnsureSchema создаёт таблицу журнала, если её нет.
func (r *AttemptRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure task_attempts schema: %w", err)
	}
	return nil
}

// Record сохраняет попытку. Пустой ID заменяется новым.
func (r *AttemptRepo) Record(ctx context.Context, a *domain.Attempt) error {
	if a.TaskID == "" || a.Stage == "" {
		return fmt.Errorf("%w: task_id and stage are required", ErrInvalidAttempt)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO task_attempts (id, task_id, topic, activity_id, process_instance_id, component_id,
		                           stage, class, code, message, retries_left, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.TaskID,
		a.Topic,
		a.ActivityID,
		a.ProcessInstanceID,
		nullString(a.ComponentID),
		string(a.Stage),
		nullString(a.Class),
		nullString(a.Code),
		nullString(a.Message),
		a.RetriesLeft,
		a.StartedAt,
		a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task attempt: %w", err)
	}
	return nil
}

const selectAttempts = `
	SELECT id, task_id, topic, activity_id, process_instance_id, component_id,
	       stage, class, code, message, retries_left, started_at, finished_at
	FROM task_attempts
`

// ListByTask возвращает попытки задачи в порядке начала.
func (r *AttemptRepo) ListByTask(ctx context.Context, taskID string) ([]domain.Attempt, error) {
	rows, err := r.db.Query(ctx, selectAttempts+` WHERE task_id = $1 ORDER BY started_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attempts by task: %w", err)
	}
	return collectAttempts(rows)
}

// ListByProcessInstance возвращает попытки всех задач экземпляра процесса.
func (r *AttemptRepo) ListByProcessInstance(ctx context.Context, processInstanceID string, limit int) ([]domain.Attempt, error) {
	rows, err := r.db.Query(ctx,
		selectAttempts+` WHERE process_instance_id = $1 ORDER BY started_at DESC LIMIT $2`,
		processInstanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts by process instance: %w", err)
	}
	return collectAttempts(rows)
}

// Last возвращает последнюю попытку задачи.
func (r *AttemptRepo) Last(ctx context.Context, taskID string) (*domain.Attempt, error) {
	row := r.db.QueryRow(ctx, selectAttempts+` WHERE task_id = $1 ORDER BY started_at DESC LIMIT 1`, taskID)
	a, err := scanAttempt(row)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAttempts(rows pgx.Rows) ([]domain.Attempt, error) {
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttempt(row pgx.Row) (*domain.Attempt, error) {
	var (
		a                             domain.Attempt
		stage                         string
		componentID, class, code, msg *string
	)
	err := row.Scan(
		&a.ID,
		&a.TaskID,
		&a.Topic,
		&a.ActivityID,
		&a.ProcessInstanceID,
		&componentID,
		&stage,
		&class,
		&code,
		&msg,
		&a.RetriesLeft,
		&a.StartedAt,
		&a.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task attempt: %w", err)
	}

	a.Stage = domain.Stage(stage)
	a.ComponentID = deref(componentID)
	a.Class = deref(class)
	a.Code = deref(code)
	a.Message = deref(msg)
	return &a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
