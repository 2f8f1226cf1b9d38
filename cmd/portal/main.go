package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/api"
	"github.com/epibuilder/portal/internal/portal/directory"
	"github.com/epibuilder/portal/internal/portal/guard"
	"github.com/epibuilder/portal/internal/portal/selection"
	"github.com/epibuilder/portal/internal/portal/session"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "EpiBuilder portal - submit and monitor epitope prediction runs",
	Long:  `Command-line portal for the EpiBuilder pipeline: log in, submit protein sequence files for asynchronous prediction, and browse, watch, and download the results.`,
}

var (
	serverURL   string
	sessionPath string
	verbose     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "EpiBuilder server address")
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session", "", "session database path (default ~/.epibuilder/session.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(dbsCmd)
	rootCmd.AddCommand(usersCmd)
}

// app bundles the portal's process-wide singletons.
type app struct {
	log     *slog.Logger
	api     *api.Client
	session *session.Store
	dir     *directory.Client
	slot    *selection.Channel
}

func newApp() (*app, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	path := sessionPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir := filepath.Join(home, ".epibuilder")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "session.db")
	}

	// The client and the session store reference each other: the
	// client needs the stored token, the store needs the client to
	// log in. Break the cycle with a late-bound token source.
	var store *session.Store
	client := api.New(serverURL, func() string {
		if store == nil {
			return ""
		}
		return store.Token()
	}, logger)

	store, err := session.Open(path, client, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		log:     logger,
		api:     client,
		session: store,
		dir:     directory.New(client, logger),
		slot:    selection.New(),
	}, nil
}

func (a *app) close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to close session store", "err", err)
	}
}

// apiError maps server failures to CLI errors. A session-expiry error
// also wipes the stored identity, so the next guard check sends the
// user back through login instead of trusting the stale token.
func (a *app) apiError(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrSessionExpired) {
		if lerr := a.session.Logout(ctx); lerr != nil {
			a.log.Warn("failed to clear expired session", "err", lerr)
		}
		return fmt.Errorf("session expired, run \"portal login\" again")
	}
	return err
}

// enter runs the navigation guard for a target before a command
// touches it, mirroring what the route guard does in a browser.
func (a *app) enter(requiredRole model.Role, target string) error {
	d := guard.CanEnter(a.session.Current(), requiredRole, target)
	if d.Allow {
		return nil
	}
	if d.RedirectTo == guard.LoginPage {
		return fmt.Errorf("not logged in, run \"portal login\" first")
	}
	return fmt.Errorf("access to %s denied", target)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
