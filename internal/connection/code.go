// Package connection handles agent/user connections: the short-lived code a
// common user generates and an agent redeems.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskmate/internal/domain"
	"taskmate/internal/storage"
)

// ErrEmptyCode is returned by Connect for a blank code.
var ErrEmptyCode = errors.New("connection code is required")

type Client interface {
	GenerateCode(ctx context.Context) (domain.GeneratedCode, error)
	Connect(ctx context.Context, code string) (domain.ConnectedUser, error)
	Disconnect(ctx context.Context, agentID, userID int64) error
	ManagedUsers(ctx context.Context) ([]domain.ConnectedUser, error)
	Agents(ctx context.Context) ([]domain.ConnectedUser, error)
}

// SavedCode is the persisted form of a generated code.
type SavedCode struct {
	Code      string    `json:"codigo"`
	ExpiresAt time.Time `json:"expiraEm"`
	// SavedAt is in unix milliseconds.
	SavedAt int64 `json:"savedAt"`
}

// Remaining is the time left before the code expires, never negative.
func (c SavedCode) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type Keeper struct {
	client Client
	store  storage.Storage
	log    *slog.Logger
	Now    func() time.Time
}

func New(client Client, st storage.Storage, log *slog.Logger) *Keeper {
	if log == nil {
		log = slog.Default()
	}
	return &Keeper{client: client, store: st, log: log, Now: time.Now}
}

// Generate asks for a new code and persists it.
func (k *Keeper) Generate(ctx context.Context) (SavedCode, error) {
	gen, err := k.client.GenerateCode(ctx)
	if err != nil {
		return SavedCode{}, fmt.Errorf("generate code: %w", err)
	}
	if gen.Code == "" {
		return SavedCode{}, errors.New("generate code: response carried no code")
	}
	saved := SavedCode{Code: gen.Code, ExpiresAt: gen.ExpiresAt.Time, SavedAt: k.Now().UnixMilli()}
	b, err := json.Marshal(saved)
	if err != nil {
		return SavedCode{}, err
	}
	if err := k.store.Set(storage.KeyGeneratedCode, string(b)); err != nil {
		return SavedCode{}, fmt.Errorf("persist code: %w", err)
	}
	return saved, nil
}

// Restore returns the persisted code if it has not expired. Expired or
// unreadable entries are removed.
func (k *Keeper) Restore() (SavedCode, bool) {
	raw, ok, err := k.store.Get(storage.KeyGeneratedCode)
	if err != nil {
		k.log.Warn("read generated code", "err", err)
		return SavedCode{}, false
	}
	if !ok {
		return SavedCode{}, false
	}
	var saved SavedCode
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		k.log.Warn("discarding unreadable generated code", "err", err)
		k.Clear()
		return SavedCode{}, false
	}
	if !saved.ExpiresAt.After(k.Now()) {
		k.Clear()
		return SavedCode{}, false
	}
	return saved, true
}

// Clear forgets the generated code.
func (k *Keeper) Clear() {
	if err := k.store.Delete(storage.KeyGeneratedCode); err != nil {
		k.log.Warn("remove generated code", "err", err)
	}
}

// Connect redeems a code generated by a common user.
func (k *Keeper) Connect(ctx context.Context, code string) (domain.ConnectedUser, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ConnectedUser{}, ErrEmptyCode
	}
	u, err := k.client.Connect(ctx, code)
	if err != nil {
		return domain.ConnectedUser{}, fmt.Errorf("connect: %w", err)
	}
	return u, nil
}

func (k *Keeper) Disconnect(ctx context.Context, agentID, userID int64) error {
	if err := k.client.Disconnect(ctx, agentID, userID); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// ManagedUsers lists the users an agent oversees.
func (k *Keeper) ManagedUsers(ctx context.Context) ([]domain.ConnectedUser, error) {
	users, err := k.client.ManagedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list managed users: %w", err)
	}
	return users, nil
}

// Agents lists the agents connected to a common user.
func (k *Keeper) Agents(ctx context.Context) ([]domain.ConnectedUser, error) {
	agents, err := k.client.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}
