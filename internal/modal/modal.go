// Package modal tracks which modal dialog is open. At most one is.
package modal

import "taskmate/internal/signal"

type Kind string

const (
	None        Kind = ""
	NewTask     Kind = "new-task"
	Visual      Kind = "visual"
	Config      Kind = "config"
	Connections Kind = "connections"
	Account     Kind = "account"
	EditTask    Kind = "edit-task"
	TaskDetail  Kind = "task-detail"
)

type State struct {
	Active Kind
	// Blocking is true while a modal covers the screen.
	Blocking bool
	Data     any
}

type Tracker struct {
	states *signal.Subject[State]
}

func New() *Tracker {
	return &Tracker{states: signal.New(State{})}
}

// Open shows kind with data. Opening the modal already shown, or None,
// closes everything.
func (t *Tracker) Open(kind Kind, data any) {
	t.states.Update(func(cur State) State {
		if kind == None || cur.Active == kind {
			return State{}
		}
		return State{Active: kind, Blocking: true, Data: data}
	})
}

func (t *Tracker) CloseAll() { t.states.Publish(State{}) }

func (t *Tracker) State() State { return t.states.Value() }

func (t *Tracker) Active() Kind { return t.states.Value().Active }

func (t *Tracker) States() signal.Source[State] { return t.states }
