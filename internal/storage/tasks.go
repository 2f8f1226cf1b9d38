package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/epibuilder/portal/internal/model"
)

type TaskRepository struct {
	db *sql.DB
}

const taskColumns = `id, uuid, user_id, run_name, status, submitted_at,
	finished_at, source_file, basename, params, proteomes, epitopes`

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	params, err := json.Marshal(task.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	proteomes, err := json.Marshal(task.Proteomes)
	if err != nil {
		return nil, fmt.Errorf("marshal proteomes: %w", err)
	}

	query := `INSERT INTO tasks
	          (uuid, user_id, run_name, status, submitted_at, source_file, basename, params, proteomes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		task.UUID, task.UserID, task.RunName, task.Status, task.SubmittedAt,
		task.SourceFile, task.Basename, params, proteomes).Scan(&task.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return task, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *TaskRepository) GetByUUID(ctx context.Context, uuid string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uuid = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, uuid))
}

// ListByUser returns every task of the user, newest first.
func (r *TaskRepository) ListByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
	          WHERE user_id = $1 ORDER BY submitted_at DESC`
	return r.list(ctx, query, userID)
}

// ListActiveByUser returns the user's tasks still in a non-terminal state.
func (r *TaskRepository) ListActiveByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
	          WHERE user_id = $1 AND status IN ('PENDING', 'RUNNING')
	          ORDER BY submitted_at DESC`
	return r.list(ctx, query, userID)
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status model.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish stores the pipeline results and stamps the terminal state in a
// single statement so a poll never observes results without a status.
func (r *TaskRepository) Finish(ctx context.Context, id int64, status model.Status, finishedAt time.Time, epitopes []model.Epitope) error {
	data, err := json.Marshal(epitopes)
	if err != nil {
		return fmt.Errorf("marshal epitopes: %w", err)
	}
	if epitopes == nil {
		data = []byte("[]")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, finished_at = $3, epitopes = $4 WHERE id = $1`,
		id, status, finishedAt, data)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]model.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) scanOne(row *sql.Row) (*model.Task, error) {
	task, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTask(scan func(...interface{}) error) (*model.Task, error) {
	var (
		task       model.Task
		finishedAt sql.NullTime
		params     []byte
		proteomes  []byte
		epitopes   []byte
	)

	err := scan(&task.ID, &task.UUID, &task.UserID, &task.RunName, &task.Status,
		&task.SubmittedAt, &finishedAt, &task.SourceFile, &task.Basename,
		&params, &proteomes, &epitopes)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}
	if err := json.Unmarshal(params, &task.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(proteomes, &task.Proteomes); err != nil {
		return nil, fmt.Errorf("unmarshal proteomes: %w", err)
	}
	if err := json.Unmarshal(epitopes, &task.Epitopes); err != nil {
		return nil, fmt.Errorf("unmarshal epitopes: %w", err)
	}
	return &task, nil
}
