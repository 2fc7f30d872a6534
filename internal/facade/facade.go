// Package facade combines the user context and the oversee state into the
// single question "whose tasks are on screen".
package facade

import (
	"context"
	"fmt"

	"taskmate/internal/domain"
	"taskmate/internal/signal"
	"taskmate/internal/usercontext"
)

type Users interface {
	Contexts() signal.Source[usercontext.UserContext]
	UserByID(ctx context.Context, userID int64) (domain.ConnectedUser, error)
}

type Oversee interface {
	IDs() signal.Source[int64]
	Current() int64
	Name() string
	Set(userID int64, name string) error
	Clear()
}

// ViewedUser is the user whose tasks are shown.
type ViewedUser struct {
	Context          usercontext.UserContext
	IsOverseen       bool
	OverseeingUserID int64
}

// TaskUserID is the overseen id if any, else the logged-in id. 0 means none.
func (v ViewedUser) TaskUserID() int64 {
	if v.OverseeingUserID != 0 {
		return v.OverseeingUserID
	}
	return v.Context.UserID
}

// Facade holds no state of its own beyond the derived subjects.
type Facade struct {
	users   Users
	oversee Oversee
	viewed  *signal.Subject[ViewedUser]
	active  *signal.Subject[int64]
	stop    func()
}

func New(users Users, oversee Oversee) *Facade {
	viewed, stopViewed := signal.Combine(users.Contexts(), oversee.IDs(), func(uc usercontext.UserContext, overseeing int64) ViewedUser {
		return ViewedUser{Context: uc, IsOverseen: overseeing != 0, OverseeingUserID: overseeing}
	})
	active, stopActive := signal.Map(viewed, ViewedUser.TaskUserID, signal.Distinct[int64]())
	return &Facade{
		users:   users,
		oversee: oversee,
		viewed:  viewed,
		active:  active,
		stop: func() {
			stopActive()
			stopViewed()
		},
	}
}

func (f *Facade) Viewed() signal.Source[ViewedUser] { return f.viewed }

// ActiveUser notifies the id whose tasks should be loaded, only when it
// changes.
func (f *Facade) ActiveUser() signal.Source[int64] { return f.active }

func (f *Facade) SetOverseeing(userID int64, name string) error {
	return f.oversee.Set(userID, name)
}

func (f *Facade) ClearOverseeing() { f.oversee.Clear() }

// ResolveOverseenName re-derives the display name of the overseen user, which
// is not persisted across restarts.
func (f *Facade) ResolveOverseenName(ctx context.Context) (string, error) {
	id := f.oversee.Current()
	if id == 0 {
		return "", nil
	}
	if name := f.oversee.Name(); name != "" {
		return name, nil
	}
	u, err := f.users.UserByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve overseen user: %w", err)
	}
	if f.oversee.Current() != id {
		return u.Username, nil
	}
	if err := f.oversee.Set(id, u.Username); err != nil {
		return "", err
	}
	return u.Username, nil
}

// Close detaches the derived subjects from their sources.
func (f *Facade) Close() { f.stop() }
