package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/epibuilder/portal/internal/model"
)

type DatabaseRepository struct {
	db *sql.DB
}

func (r *DatabaseRepository) Create(ctx context.Context, db *model.Database) (*model.Database, error) {
	query := `INSERT INTO databases (alias, file_name, absolute_path, source_type, created_at)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		db.Alias, db.FileName, db.AbsolutePath, db.SourceType, db.Date).Scan(&db.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return db, nil
}

func (r *DatabaseRepository) List(ctx context.Context) ([]model.Database, error) {
	query := `SELECT id, alias, file_name, absolute_path, source_type, created_at
	          FROM databases ORDER BY alias`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var dbs []model.Database
	for rows.Next() {
		var d model.Database
		if err := rows.Scan(&d.ID, &d.Alias, &d.FileName, &d.AbsolutePath, &d.SourceType, &d.Date); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		dbs = append(dbs, d)
	}
	return dbs, rows.Err()
}

func (r *DatabaseRepository) GetByID(ctx context.Context, id int64) (*model.Database, error) {
	query := `SELECT id, alias, file_name, absolute_path, source_type, created_at
	          FROM databases WHERE id = $1`

	d := &model.Database{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Alias, &d.FileName, &d.AbsolutePath, &d.SourceType, &d.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *DatabaseRepository) GetByAlias(ctx context.Context, alias string) (*model.Database, error) {
	query := `SELECT id, alias, file_name, absolute_path, source_type, created_at
	          FROM databases WHERE alias = $1`

	d := &model.Database{}
	err := r.db.QueryRowContext(ctx, query, alias).Scan(
		&d.ID, &d.Alias, &d.FileName, &d.AbsolutePath, &d.SourceType, &d.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *DatabaseRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM databases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
