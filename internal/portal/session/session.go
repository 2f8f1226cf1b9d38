// Package session owns the current authenticated identity. The
// in-memory value is authoritative; a small SQLite key-value mirror
// persists it so a new CLI invocation resumes the previous login.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/epibuilder/portal/internal/model"
)

// Identity is the logged-in principal as returned by the server.
type Identity struct {
	ID       int64
	Username string
	Name     string
	Role     model.Role
	Token    string
}

// LoginAPI is the slice of the server client the store needs.
type LoginAPI interface {
	Login(ctx context.Context, username, password string) (*model.LoginResponse, error)
}

var identityKeys = []string{"id", "username", "name", "role", "token"}

// Store holds the current identity and its durable mirror.
type Store struct {
	mu      sync.RWMutex
	current *Identity

	db  *sql.DB
	api LoginAPI
	log *slog.Logger
}

// Open creates the store, preparing the mirror schema and restoring
// any persisted identity.
func Open(path string, api LoginAPI, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session mirror: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS session (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare session mirror: %w", err)
	}

	s := &Store{db: db, api: api, log: log}
	if err := s.restore(); err != nil {
		// A corrupt mirror should not block the CLI, it only costs
		// the user a fresh login.
		log.Warn("failed to restore session", "err", err)
	}
	return s, nil
}

// Login authenticates against the server and, on success, installs and
// persists the identity. Server error messages pass through unchanged.
func (s *Store) Login(ctx context.Context, username, password string) (*Identity, error) {
	resp, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		ID:       resp.ID,
		Username: resp.Username,
		Name:     resp.Name,
		Role:     resp.Role,
		Token:    resp.Token,
	}

	s.mu.Lock()
	s.current = id
	s.mu.Unlock()

	if err := s.persist(ctx, id); err != nil {
		s.log.Warn("failed to persist session", "err", err)
	}
	return id, nil
}

// Current returns the identity, or nil when logged out. Never blocks
// on the network or the mirror.
func (s *Store) Current() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	if id := s.Current(); id != nil {
		return id.Token
	}
	return ""
}

// Logout clears the identity and the mirror.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	var errs error
	for _, key := range identityKeys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE key = ?`, key); err != nil {
			errs = errors.Join(errs, fmt.Errorf("clear session[%s]: %w", key, err))
		}
	}
	return errs
}

// Reset drops all state, in-memory and mirrored. Intended for tests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM session`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// persist writes each identity field under its own key.
func (s *Store) persist(ctx context.Context, id *Identity) error {
	values := map[string]string{
		"id":       strconv.FormatInt(id.ID, 10),
		"username": id.Username,
		"name":     id.Name,
		"role":     string(id.Role),
		"token":    id.Token,
	}
	for _, key := range identityKeys {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO session (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, values[key]); err != nil {
			return fmt.Errorf("persist session[%s]: %w", key, err)
		}
	}
	return nil
}

func (s *Store) restore() error {
	values := make(map[string]string, len(identityKeys))
	for _, key := range identityKeys {
		var v string
		err := s.db.QueryRow(`SELECT value FROM session WHERE key = ?`, key).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // no persisted session
		}
		if err != nil {
			return err
		}
		values[key] = v
	}

	if values["token"] == "" {
		return nil
	}
	uid, err := strconv.ParseInt(values["id"], 10, 64)
	if err != nil {
		return fmt.Errorf("bad persisted user id: %w", err)
	}

	s.mu.Lock()
	s.current = &Identity{
		ID:       uid,
		Username: values["username"],
		Name:     values["name"],
		Role:     model.Role(values["role"]),
		Token:    values["token"],
	}
	s.mu.Unlock()
	return nil
}
