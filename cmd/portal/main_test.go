package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/api"
	"github.com/epibuilder/portal/internal/portal/guard"
	"github.com/epibuilder/portal/internal/portal/session"
)

type fakeLoginAPI struct{}

func (fakeLoginAPI) Login(ctx context.Context, username, password string) (*model.LoginResponse, error) {
	return &model.LoginResponse{
		ID: 7, Username: username, Name: "Ana", Role: model.RoleUser, Token: "tok",
	}, nil
}

func loggedInApp(t *testing.T) *app {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "session.db"), fakeLoginAPI{}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Login(context.Background(), "ana", "pw")
	require.NoError(t, err)

	return &app{log: slog.Default(), session: store}
}

func TestAPIErrorForcesLogoutOnExpiredSession(t *testing.T) {
	a := loggedInApp(t)
	require.NotNil(t, a.session.Current())

	err := a.apiError(context.Background(), api.ErrSessionExpired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")

	assert.Nil(t, a.session.Current(), "expired identity must be wiped")

	d := guard.CanEnter(a.session.Current(), "", guard.HomePage)
	assert.False(t, d.Allow)
	assert.Equal(t, guard.LoginPage, d.RedirectTo)
}

func TestAPIErrorPassesThroughOtherFailures(t *testing.T) {
	a := loggedInApp(t)

	in := assert.AnError
	out := a.apiError(context.Background(), in)
	assert.Same(t, in, out)
	assert.NotNil(t, a.session.Current(), "unrelated errors keep the session")
}
