package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
)

type fakeAPI struct {
	tasks      []model.Task
	err        error
	lastActive bool
}

func (f *fakeAPI) TasksForUser(ctx context.Context, userID int64, onlyActive bool) ([]model.Task, error) {
	f.lastActive = onlyActive
	return f.tasks, f.err
}

func TestTasksForUserPassesThrough(t *testing.T) {
	api := &fakeAPI{tasks: []model.Task{{ID: 1}, {ID: 2}}}
	c := New(api, nil)

	tasks := c.TasksForUser(context.Background(), 7, true)
	require.Len(t, tasks, 2)
	require.True(t, api.lastActive)
}

func TestFetchErrorBecomesEmptyList(t *testing.T) {
	c := New(&fakeAPI{err: errors.New("connection refused")}, nil)

	tasks := c.TasksForUser(context.Background(), 7, false)
	require.NotNil(t, tasks)
	require.Empty(t, tasks)
}

func TestNilResultBecomesEmptyList(t *testing.T) {
	c := New(&fakeAPI{}, nil)

	tasks := c.TasksForUser(context.Background(), 7, false)
	require.NotNil(t, tasks)
	require.Empty(t, tasks)
}

func TestNotifyListChangedCoalesces(t *testing.T) {
	c := New(&fakeAPI{}, nil)

	// many notifications collapse into one pending signal and never
	// block the notifier
	for i := 0; i < 10; i++ {
		c.NotifyListChanged()
	}

	select {
	case <-c.ListChanged():
	default:
		t.Fatal("expected a pending list-changed signal")
	}
	select {
	case <-c.ListChanged():
		t.Fatal("expected signals to coalesce")
	default:
	}
}
