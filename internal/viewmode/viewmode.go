// Package viewmode persists the preferred task display mode.
package viewmode

import (
	"fmt"
	"log/slog"

	"taskmate/internal/signal"
	"taskmate/internal/storage"
)

type Mode string

const (
	List     Mode = "list"
	Calendar Mode = "calendar"
	Timeline Mode = "timeline"
	Kanban   Mode = "kanban"

	Default = List
)

// Modes lists the valid modes in display order.
var Modes = []Mode{List, Calendar, Timeline, Kanban}

func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

// Parse returns the mode named s.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown view mode %q (want one of %v)", s, Modes)
	}
	return m, nil
}

type Store struct {
	store storage.Storage
	log   *slog.Logger
	modes *signal.Subject[Mode]
}

// New loads the persisted mode.
func New(st storage.Storage, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{store: st, log: log}
	s.modes = signal.New(s.stored(), signal.Distinct[Mode]())
	return s
}

func (s *Store) stored() Mode {
	raw, ok, err := s.store.Get(storage.KeyPreferredView)
	if err != nil {
		s.log.Warn("read view preference", "err", err)
		return Default
	}
	if m := Mode(raw); ok && m.Valid() {
		return m
	}
	return Default
}

// Set validates, persists and broadcasts mode.
func (s *Store) Set(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown view mode %q", mode)
	}
	if err := s.store.Set(storage.KeyPreferredView, string(mode)); err != nil {
		return fmt.Errorf("persist view mode: %w", err)
	}
	s.modes.Publish(mode)
	return nil
}

// LoadFromStorage re-reads the persisted mode. Absent or invalid values yield
// the default.
func (s *Store) LoadFromStorage() Mode {
	m := s.stored()
	s.modes.Publish(m)
	return m
}

func (s *Store) Current() Mode { return s.modes.Value() }

func (s *Store) Modes() signal.Source[Mode] { return s.modes }
