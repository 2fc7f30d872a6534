// Package usercontext loads the logged-in user's profile, role and tags once
// per session and exposes them as a single context.
package usercontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"taskmate/internal/domain"
	"taskmate/internal/signal"
)

// ErrReset is returned when Reset runs while an initialization is in flight.
var ErrReset = errors.New("user context reset during initialization")

const (
	userCacheSize = 128
	userCacheTTL  = 5 * time.Minute
)

type Client interface {
	Me(ctx context.Context) (domain.UserProfile, error)
	Tags(ctx context.Context) ([]domain.Tag, error)
	UserByID(ctx context.Context, userID int64) (domain.ConnectedUser, error)
}

// RoleSource resolves the role of the logged-in user.
type RoleSource interface {
	Role(ctx context.Context) (domain.Role, error)
}

// UserContext is the consolidated view of the logged-in user. The zero value
// is the empty context.
type UserContext struct {
	UserID  int64
	Profile *domain.UserProfile
	Role    domain.Role
	Tags    []domain.Tag
}

func (c UserContext) IsAgent() bool  { return c.Role == domain.RoleAgent }
func (c UserContext) IsCommon() bool { return c.Role == domain.RoleCommon }

// Loaded reports whether the profile has been fetched.
func (c UserContext) Loaded() bool { return c.UserID != 0 }

type Aggregator struct {
	client Client
	roles  RoleSource
	log    *slog.Logger
	users  *expirable.LRU[int64, domain.ConnectedUser]

	mu          sync.Mutex
	initialized bool
	running     chan struct{}
	epoch       uint64
	contexts    *signal.Subject[UserContext]
}

func New(client Client, roles RoleSource, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		client:   client,
		roles:    roles,
		log:      log,
		users:    expirable.NewLRU[int64, domain.ConnectedUser](userCacheSize, nil, userCacheTTL),
		contexts: signal.New(UserContext{}),
	}
}

// InitializeUser loads the context on first use; later calls return the
// loaded context without network traffic. Concurrent callers wait for the
// run in flight. If the profile fetch fails the error is returned and the
// next call retries.
func (a *Aggregator) InitializeUser(ctx context.Context) (UserContext, error) {
	for {
		a.mu.Lock()
		if a.initialized {
			a.mu.Unlock()
			return a.contexts.Value(), nil
		}
		if wait := a.running; wait != nil {
			a.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return UserContext{}, ctx.Err()
			}
		}
		done := make(chan struct{})
		a.running = done
		epoch := a.epoch
		a.mu.Unlock()

		uc, err := a.load(ctx, epoch)

		a.mu.Lock()
		a.running = nil
		if err == nil {
			a.initialized = true
		}
		a.mu.Unlock()
		close(done)
		return uc, err
	}
}

func (a *Aggregator) load(ctx context.Context, epoch uint64) (UserContext, error) {
	profile, err := a.client.Me(ctx)
	if err != nil {
		return UserContext{}, fmt.Errorf("load profile: %w", err)
	}
	uc := UserContext{UserID: profile.ID, Profile: &profile, Tags: []domain.Tag{}}
	if err := a.publish(epoch, uc); err != nil {
		return UserContext{}, err
	}

	var (
		wg   sync.WaitGroup
		role domain.Role
		tags []domain.Tag
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := a.roles.Role(ctx)
		if err != nil {
			a.log.Warn("role lookup failed; continuing without role", "err", err)
			return
		}
		role = r
	}()
	go func() {
		defer wg.Done()
		t, err := a.client.Tags(ctx)
		if err != nil {
			a.log.Warn("tag lookup failed; continuing without tags", "err", err)
			return
		}
		tags = t
	}()
	wg.Wait()

	uc.Role = role
	if tags != nil {
		uc.Tags = tags
	}
	if err := a.publish(epoch, uc); err != nil {
		return UserContext{}, err
	}
	a.log.Debug("user context loaded", "user_id", uc.UserID, "role", string(uc.Role), "tags", len(uc.Tags))
	return uc, nil
}

// publish emits uc unless a Reset happened since epoch was read.
func (a *Aggregator) publish(epoch uint64, uc UserContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return ErrReset
	}
	a.contexts.Publish(uc)
	return nil
}

// Context returns the current snapshot.
func (a *Aggregator) Context() UserContext { return a.contexts.Value() }

// Contexts notifies every context change.
func (a *Aggregator) Contexts() signal.Source[UserContext] { return a.contexts }

// Reset restores the empty context so the next InitializeUser runs again.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.epoch++
	a.users.Purge()
	a.contexts.Publish(UserContext{})
}

// UserByID looks a user up, serving repeated lookups from a short-lived cache.
func (a *Aggregator) UserByID(ctx context.Context, userID int64) (domain.ConnectedUser, error) {
	if u, ok := a.users.Get(userID); ok {
		return u, nil
	}
	u, err := a.client.UserByID(ctx, userID)
	if err != nil {
		return domain.ConnectedUser{}, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	a.users.Add(userID, u)
	return u, nil
}
