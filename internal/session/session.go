// Package session owns the authentication token and the memoised role of the
// logged-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskmate/internal/api"
	"taskmate/internal/domain"
	"taskmate/internal/signal"
	"taskmate/internal/storage"
)

// ErrInvalidCredentials is returned by Login for any authentication failure.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Client is the subset of the backend used by the session.
type Client interface {
	Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResult, error)
	Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResult, error)
	Me(ctx context.Context) (domain.UserProfile, error)
}

// Dependents are the per-user stores cleared by Logout, in field order.
type Dependents struct {
	Tasks   interface{ ClearCache() }
	Context interface{ Reset() }
	Oversee interface{ Clear() }
	Modals  interface{ CloseAll() }
	Codes   interface{ Clear() }
}

// Store holds the current session.
type Store struct {
	client Client
	store  storage.Storage
	log    *slog.Logger
	Now    func() time.Time

	mu         sync.Mutex
	token      string
	role       domain.Role
	roleLoaded bool
	epoch      uint64
	deps       Dependents
	tokens     *signal.Subject[string]
}

// New restores the persisted token, if any.
func New(client Client, st storage.Storage, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		client: client,
		store:  st,
		log:    log,
		Now:    time.Now,
	}
	token, ok, err := st.Get(storage.KeyToken)
	if err != nil {
		log.Warn("read persisted token", "err", err)
	}
	if !ok {
		token = ""
	}
	s.token = token
	s.tokens = signal.New(token, signal.Distinct[string]())
	return s
}

// Attach registers the stores cleared on logout.
func (s *Store) Attach(deps Dependents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps = deps
}

// Login authenticates and persists the returned token.
func (s *Store) Login(ctx context.Context, req domain.LoginRequest) (string, error) {
	res, err := s.client.Login(ctx, req)
	if err != nil {
		if api.IsUnauthorized(err) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("login: %w", err)
	}
	if err := s.store.Set(storage.KeyToken, res.Token); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	s.mu.Lock()
	s.token = res.Token
	s.role = domain.RoleUnknown
	s.roleLoaded = false
	s.epoch++
	s.mu.Unlock()
	s.tokens.Publish(res.Token)
	s.log.Info("logged in", "user_id", res.UserID)
	return res.Token, nil
}

// Register creates an account. Conflicts carry the server message.
func (s *Store) Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResult, error) {
	res, err := s.client.Register(ctx, req)
	if err != nil {
		return domain.RegisterResult{}, fmt.Errorf("register: %w", err)
	}
	return res, nil
}

// Logout drops the session and clears every per-user store.
func (s *Store) Logout() {
	s.mu.Lock()
	s.token = ""
	s.role = domain.RoleUnknown
	s.roleLoaded = false
	s.epoch++
	deps := s.deps
	s.mu.Unlock()

	if err := s.store.Delete(storage.KeyToken); err != nil {
		s.log.Warn("remove persisted token", "err", err)
	}
	s.tokens.Publish("")

	if deps.Tasks != nil {
		deps.Tasks.ClearCache()
	}
	if deps.Context != nil {
		deps.Context.Reset()
	}
	if deps.Oversee != nil {
		deps.Oversee.Clear()
	}
	if deps.Modals != nil {
		deps.Modals.CloseAll()
	}
	if deps.Codes != nil {
		deps.Codes.Clear()
	}
	s.log.Info("logged out")
}

// Token returns the bearer token, or "" when logged out. A token whose exp
// claim has passed is discarded.
func (s *Store) Token() string {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return ""
	}
	claims, err := parseClaims(token)
	if err != nil || claims.ExpiresAt == nil || claims.ExpiresAt.After(s.Now()) {
		return token
	}
	s.log.Info("discarding expired token", "expired_at", claims.ExpiresAt.Time)
	s.mu.Lock()
	if s.token == token {
		s.token = ""
		s.epoch++
	}
	s.mu.Unlock()
	if err := s.store.Delete(storage.KeyToken); err != nil {
		s.log.Warn("remove persisted token", "err", err)
	}
	s.tokens.Publish("")
	return ""
}

// LoggedIn reports whether a usable token is held.
func (s *Store) LoggedIn() bool { return s.Token() != "" }

// Tokens notifies token changes.
func (s *Store) Tokens() signal.Source[string] { return s.tokens }

// Claims returns the unverified registered claims of the current token.
func (s *Store) Claims() (*jwt.RegisteredClaims, error) {
	token := s.Token()
	if token == "" {
		return nil, errors.New("not logged in")
	}
	return parseClaims(token)
}

func parseClaims(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Role returns the role of the logged-in user. Successful lookups are
// memoised until the session ends.
func (s *Store) Role(ctx context.Context) (domain.Role, error) {
	s.mu.Lock()
	if s.roleLoaded {
		role := s.role
		s.mu.Unlock()
		return role, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	profile, err := s.client.Me(ctx)
	if err != nil {
		return domain.RoleUnknown, fmt.Errorf("lookup role: %w", err)
	}
	role := profile.Role()
	if role == domain.RoleUnknown {
		return role, nil
	}
	s.mu.Lock()
	if s.epoch == epoch {
		s.role = role
		s.roleLoaded = true
	}
	s.mu.Unlock()
	return role, nil
}

// IsRole reports whether the logged-in user has role. Lookup failures read
// as false.
func (s *Store) IsRole(ctx context.Context, role domain.Role) bool {
	got, err := s.Role(ctx)
	if err != nil {
		s.log.Warn("role lookup failed", "err", err)
		return false
	}
	return got == role
}
