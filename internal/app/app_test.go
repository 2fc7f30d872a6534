package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"taskmate/internal/config"
	"taskmate/internal/devserver"
	"taskmate/internal/domain"
	"taskmate/internal/modal"
	"taskmate/internal/storage"
	"taskmate/internal/telemetry"
)

func newTestApp(t *testing.T, st storage.Storage) (*App, *httptest.Server) {
	t.Helper()
	handler, err := devserver.New(devserver.Config{JWTSecret: "test-secret", Seed: true, Logger: telemetry.Discard()})
	if err != nil {
		t.Fatalf("devserver: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return openApp(t, srv, st), srv
}

func openApp(t *testing.T, srv *httptest.Server, st storage.Storage) *App {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = srv.URL + devserver.DefaultBasePath
	cfg.Tasks.SearchDebounce = 10 * time.Millisecond
	a, err := New(context.Background(), cfg, Options{Storage: st, Logger: telemetry.Discard()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func taskNames(tasks []domain.Task) map[string]bool {
	out := map[string]bool{}
	for _, task := range tasks {
		out[task.Name] = true
	}
	return out
}

func TestLoginLoadsTasksOfActiveUser(t *testing.T) {
	st := storage.NewMemory()
	a, _ := newTestApp(t, st)
	a.Watch()
	ctx := context.Background()

	if err := a.Login(ctx, domain.LoginRequest{Email: devserver.SeedCommonEmail, Password: devserver.SeedPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	uc := a.Users.Context()
	if !uc.Loaded() || !uc.IsCommon() {
		t.Fatalf("user context = %+v", uc)
	}
	waitFor(t, "tasks", func() bool { return len(a.Tasks.Tasks()) == 3 })
	cats := a.Tasks.Categories()
	if len(cats.Delayed) != 1 || len(cats.Pending) != 2 || len(cats.Completed) != 0 {
		t.Fatalf("categories = %d/%d/%d", len(cats.Delayed), len(cats.Pending), len(cats.Completed))
	}

	a.Tasks.SetSearchQuery("  CONTA  luz ")
	waitFor(t, "search", func() bool { return len(a.Tasks.Filtered().All) == 1 })
	if got := a.Tasks.Filtered().All[0].Name; got != "Pagar conta de luz" {
		t.Fatalf("filtered = %s", got)
	}
}

func TestAgentOverseeAndLogout(t *testing.T) {
	st := storage.NewMemory()
	a, srv := newTestApp(t, st)
	a.Watch()
	ctx := context.Background()

	if err := a.Login(ctx, domain.LoginRequest{Email: devserver.SeedAgentEmail, Password: devserver.SeedPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !a.Users.Context().IsAgent() {
		t.Fatalf("agent role not resolved: %+v", a.Users.Context())
	}
	managed, err := a.Codes.ManagedUsers(ctx)
	if err != nil || len(managed) != 1 {
		t.Fatalf("managed = %v err=%v", managed, err)
	}
	if err := a.Facade.SetOverseeing(managed[0].ID, ""); err != nil {
		t.Fatalf("oversee: %v", err)
	}
	if name, err := a.Facade.ResolveOverseenName(ctx); err != nil || name == "" {
		t.Fatalf("resolve name = %q err=%v", name, err)
	}
	if a.ActiveUserID() != managed[0].ID {
		t.Fatalf("active user = %d", a.ActiveUserID())
	}
	waitFor(t, "overseen tasks", func() bool { return taskNames(a.Tasks.Tasks())["Consulta médica"] })

	// The overseen id survives a restart on the same storage.
	restarted := openApp(t, srv, st)
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.Oversee.Current() != managed[0].ID || restarted.Oversee.Name() == "" {
		t.Fatalf("oversee after restart = %d %q", restarted.Oversee.Current(), restarted.Oversee.Name())
	}

	a.Modals.Open(modal.Connections, nil)
	a.Logout()
	if a.Session.LoggedIn() || a.Oversee.IsOverseeing() || a.Users.Context().Loaded() {
		t.Fatalf("state left after logout")
	}
	if len(a.Tasks.Tasks()) != 0 || a.Modals.Active() != modal.None {
		t.Fatalf("tasks=%d modal=%s after logout", len(a.Tasks.Tasks()), a.Modals.Active())
	}
	for _, key := range []string{storage.KeyToken, storage.KeyOverseeUserID} {
		if _, ok, _ := st.Get(key); ok {
			t.Fatalf("%s still persisted", key)
		}
	}
}

func TestStartWithRejectedTokenLogsOut(t *testing.T) {
	st := storage.NewMemory()
	_ = st.Set(storage.KeyToken, "forged.token.value")
	a, _ := newTestApp(t, st)
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("expected an error for a rejected session")
	}
	if a.Session.LoggedIn() {
		t.Fatalf("rejected token kept")
	}
}

func TestSyncSettlesFirstLoadWithParams(t *testing.T) {
	st := storage.NewMemory()
	a, srv := newTestApp(t, st)
	ctx := context.Background()
	if err := a.Login(ctx, domain.LoginRequest{Email: devserver.SeedCommonEmail, Password: devserver.SeedPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}

	fresh := openApp(t, srv, st)
	if err := fresh.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	fresh.Tasks.SetParams(domain.TaskQuery{PriorityID: domain.PriorityHigh})
	if err := fresh.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	tasks := fresh.Tasks.Tasks()
	if len(tasks) != 1 || tasks[0].Name != "Pagar conta de luz" {
		t.Fatalf("tasks = %v", taskNames(tasks))
	}
}

func TestSyncWithoutSession(t *testing.T) {
	a, _ := newTestApp(t, storage.NewMemory())
	if err := a.Sync(context.Background()); err != ErrNotLoggedIn {
		t.Fatalf("sync err = %v", err)
	}
}
