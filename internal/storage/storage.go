// Package storage provides the Postgres persistence layer of the portal:
// users, reference-proteome databases, and tasks with their pipeline
// results. Epitope rows are written once by the worker and read whole,
// so they live as JSONB documents on the task row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/epibuilder/portal/internal/storage/migrations"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store bundles the repositories over one Postgres connection pool.
type Store struct {
	db        *sql.DB
	users     *UserRepository
	tasks     *TaskRepository
	databases *DatabaseRepository
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	return &Store{
		db:        db,
		users:     &UserRepository{db: db},
		tasks:     &TaskRepository{db: db},
		databases: &DatabaseRepository{db: db},
	}, nil
}

func (s *Store) Users() *UserRepository         { return s.users }
func (s *Store) Tasks() *TaskRepository         { return s.tasks }
func (s *Store) Databases() *DatabaseRepository { return s.databases }

func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
