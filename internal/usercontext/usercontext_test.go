package usercontext

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskmate/internal/domain"
	"taskmate/internal/telemetry"
)

type fakeClient struct {
	meCalls   atomic.Int32
	tagCalls  atomic.Int32
	userCalls atomic.Int32
	meErr     error
	tagErr    error
	gate      chan struct{}
}

func (f *fakeClient) Me(ctx context.Context) (domain.UserProfile, error) {
	f.meCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.UserProfile{}, ctx.Err()
		}
	}
	if f.meErr != nil {
		return domain.UserProfile{}, f.meErr
	}
	return domain.UserProfile{ID: 11, Username: "ana"}, nil
}

func (f *fakeClient) Tags(context.Context) ([]domain.Tag, error) {
	f.tagCalls.Add(1)
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	return []domain.Tag{{ID: 1, Name: "casa"}, {ID: 2, Name: "trabalho"}}, nil
}

func (f *fakeClient) UserByID(_ context.Context, id int64) (domain.ConnectedUser, error) {
	f.userCalls.Add(1)
	return domain.ConnectedUser{ID: id, Username: "user"}, nil
}

type fakeRoles struct {
	role domain.Role
	err  error
}

func (f fakeRoles) Role(context.Context) (domain.Role, error) { return f.role, f.err }

func TestInitializeUser_Once(t *testing.T) {
	fc := &fakeClient{}
	a := New(fc, fakeRoles{role: domain.RoleAgent}, telemetry.Discard())
	ctx := context.Background()

	first, err := a.InitializeUser(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	second, err := a.InitializeUser(ctx)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if fc.meCalls.Load() != 1 || fc.tagCalls.Load() != 1 {
		t.Fatalf("fetches me=%d tags=%d, want 1 each", fc.meCalls.Load(), fc.tagCalls.Load())
	}
	if first.UserID != 11 || second.UserID != 11 {
		t.Fatalf("user ids %d %d", first.UserID, second.UserID)
	}
	if !second.IsAgent() || second.IsCommon() {
		t.Fatalf("role flags wrong: %+v", second)
	}
	if len(a.Context().Tags) != 2 {
		t.Fatalf("tags = %v", a.Context().Tags)
	}
}

func TestInitializeUser_ConcurrentCallersShareRun(t *testing.T) {
	fc := &fakeClient{gate: make(chan struct{})}
	a := New(fc, fakeRoles{role: domain.RoleCommon}, telemetry.Discard())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.InitializeUser(ctx); err != nil {
				t.Errorf("init: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(fc.gate)
	wg.Wait()
	if n := fc.meCalls.Load(); n != 1 {
		t.Fatalf("profile fetched %d times", n)
	}
}

func TestInitializeUser_PhaseTwoDegrades(t *testing.T) {
	fc := &fakeClient{tagErr: errors.New("tags down")}
	a := New(fc, fakeRoles{err: errors.New("role down")}, telemetry.Discard())
	uc, err := a.InitializeUser(context.Background())
	if err != nil {
		t.Fatalf("phase-two failures must not fail init: %v", err)
	}
	if uc.UserID != 11 {
		t.Fatalf("user id = %d", uc.UserID)
	}
	if uc.Role != domain.RoleUnknown || uc.IsAgent() || uc.IsCommon() {
		t.Fatalf("role should default to unknown: %+v", uc)
	}
	if uc.Tags == nil || len(uc.Tags) != 0 {
		t.Fatalf("tags should default to empty, got %v", uc.Tags)
	}
}

func TestInitializeUser_PhaseOneFailureRetries(t *testing.T) {
	fc := &fakeClient{meErr: errors.New("offline")}
	a := New(fc, fakeRoles{role: domain.RoleCommon}, telemetry.Discard())
	ctx := context.Background()
	if _, err := a.InitializeUser(ctx); err == nil {
		t.Fatalf("expected error")
	}
	if fc.tagCalls.Load() != 0 {
		t.Fatalf("phase two ran after phase one failed")
	}
	fc.meErr = nil
	uc, err := a.InitializeUser(ctx)
	if err != nil || uc.UserID != 11 {
		t.Fatalf("retry: uc=%+v err=%v", uc, err)
	}
}

func TestReset_AllowsReinitialization(t *testing.T) {
	fc := &fakeClient{}
	a := New(fc, fakeRoles{role: domain.RoleCommon}, telemetry.Discard())
	ctx := context.Background()
	if _, err := a.InitializeUser(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	a.Reset()
	if a.Context().Loaded() || a.Context().Role != domain.RoleUnknown {
		t.Fatalf("reset left state: %+v", a.Context())
	}
	if _, err := a.InitializeUser(ctx); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	if fc.meCalls.Load() != 2 {
		t.Fatalf("profile fetched %d times, want 2", fc.meCalls.Load())
	}
}

func TestUserByID_Cached(t *testing.T) {
	fc := &fakeClient{}
	a := New(fc, fakeRoles{}, telemetry.Discard())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		u, err := a.UserByID(ctx, 42)
		if err != nil || u.ID != 42 {
			t.Fatalf("lookup: %+v %v", u, err)
		}
	}
	if fc.userCalls.Load() != 1 {
		t.Fatalf("user fetched %d times", fc.userCalls.Load())
	}
	a.Reset()
	_, _ = a.UserByID(ctx, 42)
	if fc.userCalls.Load() != 2 {
		t.Fatalf("reset should purge the user cache")
	}
}
