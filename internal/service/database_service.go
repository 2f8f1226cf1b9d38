package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"time"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/storage"
)

var (
	ErrDatabaseNotFound = errors.New("database not found")
	ErrAliasTaken       = errors.New("alias already registered")
)

// DatabaseService manages the registry of reference proteomes.
type DatabaseService struct {
	databases    *storage.DatabaseRepository
	databasesDir string
}

func NewDatabaseService(databases *storage.DatabaseRepository, databasesDir string) *DatabaseService {
	return &DatabaseService{databases: databases, databasesDir: databasesDir}
}

func (s *DatabaseService) List(ctx context.Context) ([]model.Database, error) {
	return s.databases.List(ctx)
}

// Create stores the uploaded proteome file and registers it under the alias.
func (s *DatabaseService) Create(ctx context.Context, req *model.DatabaseRequest,
	file *multipart.FileHeader) (*model.Database, error) {

	if _, err := s.databases.GetByAlias(ctx, req.Alias); err == nil {
		return nil, ErrAliasTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if err := os.MkdirAll(s.databasesDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare databases directory: %w", err)
	}

	path, err := saveUpload(s.databasesDir, file)
	if err != nil {
		return nil, fmt.Errorf("save database file: %w", err)
	}

	now := time.Now()
	db := &model.Database{
		Alias:        req.Alias,
		FileName:     file.Filename,
		AbsolutePath: path,
		SourceType:   model.SourceDatabase,
		Date:         &now,
	}
	return s.databases.Create(ctx, db)
}

// Delete removes the registry entry and the stored file.
func (s *DatabaseService) Delete(ctx context.Context, id int64) error {
	db, err := s.databases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDatabaseNotFound
		}
		return err
	}

	if err := s.databases.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete database: %w", err)
	}

	if db.AbsolutePath != "" {
		if err := os.Remove(db.AbsolutePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete database file: %w", err)
		}
	}
	return nil
}
