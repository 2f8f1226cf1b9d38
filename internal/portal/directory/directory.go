// Package directory wraps the task-list endpoints with the error
// semantics the rest of the portal relies on: a failed fetch degrades
// to an empty list, and mutating actions can broadcast a "list
// changed" hint to whoever is watching.
package directory

import (
	"context"
	"log/slog"

	"github.com/epibuilder/portal/internal/model"
)

// TaskAPI is the slice of the server client the directory needs.
type TaskAPI interface {
	TasksForUser(ctx context.Context, userID int64, onlyActive bool) ([]model.Task, error)
}

type Client struct {
	api TaskAPI
	log *slog.Logger

	changed chan struct{}
}

func New(api TaskAPI, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		api:     api,
		log:     log,
		changed: make(chan struct{}, 1),
	}
}

// TasksForUser returns the user's tasks. Transport failures are logged
// and swallowed into an empty list, so callers cannot tell "no tasks"
// from "fetch failed".
func (c *Client) TasksForUser(ctx context.Context, userID int64, onlyActive bool) []model.Task {
	tasks, err := c.api.TasksForUser(ctx, userID, onlyActive)
	if err != nil {
		c.log.Debug("task fetch failed", "user", userID, "err", err)
		return []model.Task{}
	}
	if tasks == nil {
		return []model.Task{}
	}
	return tasks
}

// NotifyListChanged signals that the task list was mutated. The signal
// is fire-and-forget: if one is already pending it is not duplicated.
func (c *Client) NotifyListChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// ListChanged is the channel the monitor watches for out-of-cycle
// refresh requests.
func (c *Client) ListChanged() <-chan struct{} {
	return c.changed
}
