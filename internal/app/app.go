// Package app wires the client state stores together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"taskmate/internal/api"
	"taskmate/internal/config"
	"taskmate/internal/connection"
	"taskmate/internal/db"
	"taskmate/internal/domain"
	"taskmate/internal/facade"
	"taskmate/internal/modal"
	"taskmate/internal/oversee"
	"taskmate/internal/session"
	"taskmate/internal/signal"
	"taskmate/internal/storage"
	"taskmate/internal/taskstate"
	"taskmate/internal/telemetry"
	"taskmate/internal/usercontext"
	"taskmate/internal/viewmode"
)

// Options tune New. Zero values fall back to the workspace defaults.
type Options struct {
	Workspace string
	// Storage replaces the workspace database.
	Storage storage.Storage
	// LogOutput receives structured logs; nil means stderr.
	LogOutput io.Writer
	Logger    *slog.Logger
}

// App owns one instance of every store for the lifetime of the process.
// Logout resets the stores in place; nothing is rebuilt.
type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Storage storage.Storage
	API     *api.Client

	Session *session.Store
	Users   *usercontext.Aggregator
	Oversee *oversee.Store
	Facade  *facade.Facade
	Tasks   *taskstate.Cache
	Views   *viewmode.Store
	Modals  *modal.Tracker
	Codes   *connection.Keeper

	closeStorage func() error
	stopTasks    func()
}

// New builds the stores and restores persisted state.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		log = telemetry.NewLogger(cfg.Log.Level, out)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}

	a := &App{Config: cfg, Log: log, Storage: opts.Storage, closeStorage: func() error { return nil }}
	if a.Storage == nil {
		st, err := storage.OpenSQLite(ctx, db.Config{Workspace: opts.Workspace, Path: cfg.Storage.Path})
		if err != nil {
			return nil, err
		}
		a.Storage = st
		a.closeStorage = st.Close
	}

	client := api.New(cfg.API.BaseURL, nil)
	if cfg.API.Timeout > 0 {
		client.Timeout = cfg.API.Timeout
	}
	client.Logger = log.With("component", "api")
	a.API = client

	a.Session = session.New(client, a.Storage, log.With("component", "session"))
	client.Token = a.Session.Token

	a.Users = usercontext.New(client, a.Session, log.With("component", "usercontext"))
	a.Oversee = oversee.New(a.Storage, log.With("component", "oversee"))
	a.Facade = facade.New(a.Users, a.Oversee)
	a.Tasks = taskstate.New(client, taskstate.Options{
		PageSize:       cfg.Tasks.PageSize,
		SearchDebounce: cfg.Tasks.SearchDebounce,
		Location:       loc,
		Logger:         log.With("component", "tasks"),
	})
	a.Views = viewmode.New(a.Storage, log.With("component", "viewmode"))
	a.Modals = modal.New()
	a.Codes = connection.New(client, a.Storage, log.With("component", "connection"))

	a.Session.Attach(session.Dependents{
		Tasks:   a.Tasks,
		Context: a.Users,
		Oversee: a.Oversee,
		Modals:  a.Modals,
		Codes:   a.Codes,
	})
	return a, nil
}

// Start loads the user context when a session exists.
func (a *App) Start(ctx context.Context) error {
	if !a.Session.LoggedIn() {
		return nil
	}
	return a.loadUser(ctx)
}

// Watch subscribes the task cache to the viewed user so that every change
// of the logged-in or overseen user reloads the task list. Calling it again
// is a no-op.
func (a *App) Watch() {
	if a.stopTasks == nil {
		a.stopTasks = a.Tasks.Initialize(a.Facade.ActiveUser())
	}
}

// Sync starts Watch and blocks until the task cache has settled a load for
// the active user. The returned error is that load's failure, if any. Server
// side filters are set beforehand with Tasks.SetParams.
func (a *App) Sync(ctx context.Context) error {
	userID := a.ActiveUserID()
	if userID == 0 {
		return ErrNotLoggedIn
	}
	loads, stop := signal.Watch[taskstate.LoadResult](a.Tasks.Signals().Loads, 4)
	defer stop()
	a.Watch()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-loads:
			if res.UserID == userID {
				return res.Err
			}
		}
	}
}

// ActiveUserID is the id whose tasks are shown, 0 before login.
func (a *App) ActiveUserID() int64 { return a.Facade.ActiveUser().Value() }

func (a *App) loadUser(ctx context.Context) error {
	if _, err := a.Users.InitializeUser(ctx); err != nil {
		if api.IsUnauthorized(err) {
			a.Log.Info("session rejected by the server; logging out")
			a.Session.Logout()
			return fmt.Errorf("%w: session expired, log in again", err)
		}
		return err
	}
	if a.Oversee.IsOverseeing() && a.Oversee.Name() == "" {
		if _, err := a.Facade.ResolveOverseenName(ctx); err != nil {
			a.Log.Warn("resolve overseen user name", "err", err)
		}
	}
	return nil
}

// Login authenticates and loads the new user context.
func (a *App) Login(ctx context.Context, req domain.LoginRequest) error {
	if _, err := a.Session.Login(ctx, req); err != nil {
		return err
	}
	return a.loadUser(ctx)
}

// Logout clears the session and every dependent store.
func (a *App) Logout() { a.Session.Logout() }

// RequireLogin fails fast when no session token is held.
func (a *App) RequireLogin() error {
	if !a.Session.LoggedIn() {
		return ErrNotLoggedIn
	}
	return nil
}

// ErrNotLoggedIn is returned by RequireLogin.
var ErrNotLoggedIn = errors.New("not logged in; run tm login")

// Close stops background work and releases storage.
func (a *App) Close() error {
	if a.stopTasks != nil {
		a.stopTasks()
	}
	a.Tasks.Close()
	a.Facade.Close()
	return a.closeStorage()
}
