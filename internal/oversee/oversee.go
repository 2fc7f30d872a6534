// Package oversee tracks which connected user an agent is currently viewing.
// The user id survives restarts; the display name does not.
package oversee

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"taskmate/internal/signal"
	"taskmate/internal/storage"
)

type Store struct {
	store storage.Storage
	log   *slog.Logger

	mu    sync.Mutex
	ids   *signal.Subject[int64]
	names *signal.Subject[string]
}

// New restores the persisted overseen id.
func New(st storage.Storage, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{store: st, log: log}
	s.ids = signal.New(s.readPersisted(), signal.Distinct[int64]())
	s.names = signal.New("", signal.Distinct[string]())
	return s
}

func (s *Store) readPersisted() int64 {
	raw, ok, err := s.store.Get(storage.KeyOverseeUserID)
	if err != nil {
		s.log.Warn("read overseen user", "err", err)
		return 0
	}
	if !ok {
		return 0
	}
	id, err := parseID(raw)
	if err != nil {
		return 0
	}
	return id
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid user id %d", id)
	}
	return id, nil
}

// Set starts overseeing userID. A non-positive id clears. An empty name keeps
// the name already shown for the same id.
func (s *Store) Set(userID int64, name string) error {
	if userID <= 0 {
		s.Clear()
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(storage.KeyOverseeUserID, strconv.FormatInt(userID, 10)); err != nil {
		return fmt.Errorf("persist overseen user: %w", err)
	}
	if name != "" || s.ids.Value() != userID {
		s.names.Publish(name)
	}
	s.ids.Publish(userID)
	return nil
}

// SetRaw is Set for an unparsed id; anything that is not a positive integer
// clears.
func (s *Store) SetRaw(raw, name string) error {
	id, err := parseID(raw)
	if err != nil {
		s.Clear()
		return nil
	}
	return s.Set(id, name)
}

// Clear returns to the agent's own tasks.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(storage.KeyOverseeUserID); err != nil {
		s.log.Warn("remove overseen user", "err", err)
	}
	s.ids.Publish(0)
	s.names.Publish("")
}

// Current returns the overseen user id, 0 when none.
func (s *Store) Current() int64 { return s.ids.Value() }

// Name returns the display name of the overseen user, if known.
func (s *Store) Name() string { return s.names.Value() }

func (s *Store) IsOverseeing() bool { return s.Current() != 0 }

func (s *Store) IDs() signal.Source[int64] { return s.ids }

func (s *Store) Names() signal.Source[string] { return s.names }
