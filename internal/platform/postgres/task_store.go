package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
	"github.com/phrazzld/rhqueue/internal/store"
)

const taskColumns = `id, remote_job_id, app_id, app_name, status, progress, params, result,
	error_message, cost_units, batch_index, batch_total, start_time, running_since, end_time`

// PostgresTaskStore implements store.TaskStore on the background_tasks table.
type PostgresTaskStore struct {
	db *sql.DB
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// Save inserts the task or overwrites the existing record with the same ID.
func (s *PostgresTaskStore) Save(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	params, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	query := `
		INSERT INTO background_tasks (` + taskColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			remote_job_id = EXCLUDED.remote_job_id,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error_message = EXCLUDED.error_message,
			cost_units = EXCLUDED.cost_units,
			running_since = EXCLUDED.running_since,
			end_time = EXCLUDED.end_time,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		nullString(task.RemoteJobID),
		task.AppID,
		task.AppName,
		string(task.Status),
		task.Progress,
		params,
		result,
		nullString(task.Error),
		task.CostUnits,
		task.BatchIndex,
		task.BatchTotal,
		task.StartTime.UTC(),
		task.RunningSince,
		task.EndTime,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"status", task.Status,
			"pg_code", pgCode(err),
			"error", err)
		return fmt.Errorf("failed to save task: %w", MapError(err))
	}

	return nil
}

// Delete removes the given records in one transaction. Missing IDs are
// ignored.
func (s *PostgresTaskStore) Delete(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var db store.DBTX = tx
		stmt, err := db.PrepareContext(ctx, `DELETE FROM background_tasks WHERE id = $1`)
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", MapError(err))
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete task %s: %w", id, MapError(err))
			}
		}
		return nil
	})
}

// List returns every record, oldest start time first.
func (s *PostgresTaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM background_tasks ORDER BY start_time ASC, id ASC`)
	if err != nil {
		log.Error("failed to query task history", "error", err)
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", MapError(err))
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		remoteJobID  sql.NullString
		status       string
		params       []byte
		result       []byte
		errorMessage sql.NullString
		costUnits    sql.NullFloat64
		runningSince sql.NullTime
		endTime      sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&remoteJobID,
		&task.AppID,
		&task.AppName,
		&status,
		&task.Progress,
		&params,
		&result,
		&errorMessage,
		&costUnits,
		&task.BatchIndex,
		&task.BatchTotal,
		&task.StartTime,
		&runningSince,
		&endTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", MapError(err))
	}

	task.RemoteJobID = remoteJobID.String
	task.Status = domain.TaskStatus(status)
	task.Error = errorMessage.String
	task.StartTime = task.StartTime.UTC()

	if err := json.Unmarshal(params, &task.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of task %s: %w", task.ID, err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &task.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of task %s: %w", task.ID, err)
		}
	}
	if costUnits.Valid {
		cost := costUnits.Float64
		task.CostUnits = &cost
	}
	if runningSince.Valid {
		t := runningSince.Time.UTC()
		task.RunningSince = &t
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		task.EndTime = &t
	}

	return &task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)
